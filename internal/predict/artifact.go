package predict

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// LoadModel reads and validates a model artifact written by SaveModel.
func LoadModel(path string) (*domain.ModelArtifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model: %w", err)
	}
	var model domain.ModelArtifact
	if err := json.Unmarshal(data, &model); err != nil {
		return nil, fmt.Errorf("%w: failed to decode model: %v", domain.ErrInvalidInput, err)
	}
	if err := ValidateModel(&model); err != nil {
		return nil, err
	}
	return &model, nil
}

// SaveModel writes a model artifact as indented JSON.
func SaveModel(path string, model *domain.ModelArtifact) error {
	if err := ValidateModel(model); err != nil {
		return err
	}
	data, err := json.MarshalIndent(model, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
