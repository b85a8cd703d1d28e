package stats

import (
	"fmt"
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultAlpha is the significance level used when none is configured.
const DefaultAlpha = 0.05

// Correlation methods.
const (
	MethodPearson  = "pearson"
	MethodSpearman = "spearman"
)

// Pearson returns the product-moment correlation of xs and ys with a
// two-tailed t-test at alpha (0 means DefaultAlpha). Two points give a
// coefficient without a p-value.
func Pearson(xs, ys []float64, alpha float64) (domain.Correlation, error) {
	if err := checkPaired("pearson", xs, ys); err != nil {
		return domain.Correlation{}, err
	}
	return correlate(MethodPearson, xs, ys, alpha), nil
}

// Spearman returns the rank correlation of xs and ys. Ties get average ranks.
func Spearman(xs, ys []float64, alpha float64) (domain.Correlation, error) {
	if err := checkPaired("spearman", xs, ys); err != nil {
		return domain.Correlation{}, err
	}
	return correlate(MethodSpearman, Ranks(xs), Ranks(ys), alpha), nil
}

// NamedSeries is one named column of a correlation matrix.
type NamedSeries struct {
	Name   string
	Values []float64
}

// CorrelationMatrix computes pairwise Pearson correlations. All series must
// have the same length of at least two points.
func CorrelationMatrix(series []NamedSeries) (domain.CorrelationMatrix, error) {
	m := domain.CorrelationMatrix{
		Names:        make([]string, len(series)),
		Coefficients: make([][]*float64, len(series)),
		PValues:      make([][]*float64, len(series)),
	}
	for i := range series {
		m.Names[i] = series[i].Name
		m.Coefficients[i] = make([]*float64, len(series))
		m.PValues[i] = make([]*float64, len(series))
	}
	for i := range series {
		for j := i; j < len(series); j++ {
			c, err := Pearson(series[i].Values, series[j].Values, DefaultAlpha)
			if err != nil {
				return domain.CorrelationMatrix{}, fmt.Errorf("correlate %s/%s: %w", series[i].Name, series[j].Name, err)
			}
			m.Coefficients[i][j], m.Coefficients[j][i] = c.Coefficient, c.Coefficient
			m.PValues[i][j], m.PValues[j][i] = c.PValue, c.PValue
		}
	}
	return m, nil
}

// Ranks returns 1-based ranks of xs, averaging the ranks of tied values.
func Ranks(xs []float64) []float64 {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return xs[idx[a]] < xs[idx[b]] })

	ranks := make([]float64, len(xs))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && xs[idx[j+1]] == xs[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}
	return ranks
}

func checkPaired(op string, xs, ys []float64) error {
	if len(xs) != len(ys) {
		return fmt.Errorf("%s: %w (%d vs %d)", op, domain.ErrLengthMismatch, len(xs), len(ys))
	}
	if len(xs) < 2 {
		return domain.NewInsufficientData(op, 2, len(xs))
	}
	return nil
}

func correlate(method string, xs, ys []float64, alpha float64) domain.Correlation {
	if alpha <= 0 || alpha >= 1 {
		alpha = DefaultAlpha
	}
	out := domain.Correlation{Method: method, N: len(xs), Alpha: alpha}
	if isConstant(xs) || isConstant(ys) {
		return out
	}
	r := stat.Correlation(xs, ys, nil)
	if math.IsNaN(r) {
		return out
	}
	r = math.Max(-1, math.Min(1, r))
	out.Coefficient = &r
	if len(xs) < 3 {
		return out
	}
	p := correlationPValue(r, len(xs))
	out.PValue = &p
	out.Significant = p < alpha
	return out
}

// correlationPValue is the two-tailed p-value of t = r*sqrt((n-2)/(1-r^2)).
func correlationPValue(r float64, n int) float64 {
	df := float64(n - 2)
	if 1-r*r <= 1e-15 {
		return 0
	}
	t := r * math.Sqrt(df/(1-r*r))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	return 2 * dist.Survival(math.Abs(t))
}

func isConstant(xs []float64) bool {
	for _, x := range xs[1:] {
		if x != xs[0] {
			return false
		}
	}
	return true
}
