package scoring

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/opensource-finance/kestrel/internal/domain"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// LoadRuleset reads a ruleset file. Files ending in .json are decoded as JSON,
// anything else as YAML. Omitted sections keep their default values.
func LoadRuleset(path string) (*domain.Ruleset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ruleset: %w", err)
	}
	format := "yaml"
	if strings.EqualFold(filepath.Ext(path), ".json") {
		format = "json"
	}
	return ParseRuleset(data, format)
}

// ParseRuleset decodes and validates a ruleset in the given format ("json" or "yaml").
func ParseRuleset(data []byte, format string) (*domain.Ruleset, error) {
	rs := domain.DefaultRuleset()
	var err error
	switch strings.ToLower(format) {
	case "json":
		err = json.Unmarshal(data, &rs)
	case "yaml", "yml":
		err = yaml.Unmarshal(data, &rs)
	default:
		return nil, fmt.Errorf("%w: unsupported ruleset format %q", domain.ErrInvalidInput, format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode ruleset: %v", domain.ErrInvalidInput, err)
	}
	if err := ValidateRuleset(&rs); err != nil {
		return nil, err
	}
	return &rs, nil
}

// ValidateRuleset checks struct constraints and the semantic ones tags cannot express.
func ValidateRuleset(rs *domain.Ruleset) error {
	if rs == nil {
		return fmt.Errorf("%w: ruleset is required", domain.ErrInvalidInput)
	}
	if err := validate.Struct(rs); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}

	var problems []string
	t := rs.Temperature
	if !(t.Hot > t.Warm && t.Warm > t.Cold) {
		problems = append(problems, fmt.Sprintf("temperature thresholds must descend (hot %.2f, warm %.2f, cold %.2f)", t.Hot, t.Warm, t.Cold))
	}
	for i := 1; i < len(rs.Demographic.Tiers); i++ {
		if rs.Demographic.Tiers[i].Points > rs.Demographic.Tiers[i-1].Points {
			problems = append(problems, fmt.Sprintf("demographic tier %q outranks the tier before it", rs.Demographic.Tiers[i].Name))
		}
	}
	seen := make(map[int]bool, len(rs.Firmographic.Bands))
	for _, band := range rs.Firmographic.Bands {
		if seen[band.MinEmployees] {
			problems = append(problems, fmt.Sprintf("duplicate firmographic band at %d employees", band.MinEmployees))
		}
		seen[band.MinEmployees] = true
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(problems, "; "))
	}
	return nil
}
