// Package stats provides the statistical primitives used by analytics runs.
// Every function is pure and works on in-memory float64 slices.
package stats

import (
	"math"
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// Mean returns the arithmetic mean. Needs at least one point.
func Mean(xs []float64) (float64, error) {
	if len(xs) < 1 {
		return 0, domain.NewInsufficientData("mean", 1, len(xs))
	}
	return stat.Mean(xs, nil), nil
}

// Median returns the middle value. Needs at least one point.
func Median(xs []float64) (float64, error) {
	if len(xs) < 1 {
		return 0, domain.NewInsufficientData("median", 1, len(xs))
	}
	return quantileSorted(sorted(xs), 0.5), nil
}

// Variance returns the population variance. Needs at least two points.
func Variance(xs []float64) (float64, error) {
	if len(xs) < 2 {
		return 0, domain.NewInsufficientData("variance", 2, len(xs))
	}
	return stat.PopVariance(xs, nil), nil
}

// SampleVariance returns the unbiased sample variance. Needs at least two points.
func SampleVariance(xs []float64) (float64, error) {
	if len(xs) < 2 {
		return 0, domain.NewInsufficientData("sample variance", 2, len(xs))
	}
	return stat.Variance(xs, nil), nil
}

// StdDev returns the population standard deviation.
func StdDev(xs []float64) (float64, error) {
	v, err := Variance(xs)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(v), nil
}

// SampleStdDev returns the sample standard deviation.
func SampleStdDev(xs []float64) (float64, error) {
	v, err := SampleVariance(xs)
	if err != nil {
		return 0, err
	}
	return math.Sqrt(v), nil
}

// Quantile returns the p-quantile using linear interpolation between order
// statistics at h = (n-1)p.
func Quantile(xs []float64, p float64) (float64, error) {
	if len(xs) < 1 {
		return 0, domain.NewInsufficientData("quantile", 1, len(xs))
	}
	if p < 0 || p > 1 || math.IsNaN(p) {
		return 0, domain.ErrInvalidInput
	}
	return quantileSorted(sorted(xs), p), nil
}

// Quartiles returns Q1, the median and Q3.
func Quartiles(xs []float64) (q1, q2, q3 float64, err error) {
	if len(xs) < 1 {
		return 0, 0, 0, domain.NewInsufficientData("quartiles", 1, len(xs))
	}
	s := sorted(xs)
	return quantileSorted(s, 0.25), quantileSorted(s, 0.5), quantileSorted(s, 0.75), nil
}

// Skewness returns the adjusted sample skewness, or nil when fewer than three
// points are given or the series is constant.
func Skewness(xs []float64) *float64 {
	if len(xs) < 3 {
		return nil
	}
	return finite(stat.Skew(xs, nil))
}

// Kurtosis returns the sample excess kurtosis, or nil when fewer than four
// points are given or the series is constant.
func Kurtosis(xs []float64) *float64 {
	if len(xs) < 4 {
		return nil
	}
	return finite(stat.ExKurtosis(xs, nil))
}

// Describe bundles the descriptive statistics of a series. Needs at least two points.
func Describe(xs []float64) (domain.Summary, error) {
	if len(xs) < 2 {
		return domain.Summary{}, domain.NewInsufficientData("describe", 2, len(xs))
	}
	s := sorted(xs)
	popVar := stat.PopVariance(xs, nil)
	sampleVar := stat.Variance(xs, nil)
	q1, q3 := quantileSorted(s, 0.25), quantileSorted(s, 0.75)
	return domain.Summary{
		Count:          len(xs),
		Mean:           stat.Mean(xs, nil),
		Median:         quantileSorted(s, 0.5),
		Min:            s[0],
		Max:            s[len(s)-1],
		Variance:       popVar,
		SampleVariance: sampleVar,
		StdDev:         math.Sqrt(popVar),
		SampleStdDev:   math.Sqrt(sampleVar),
		Q1:             q1,
		Q3:             q3,
		IQR:            q3 - q1,
		Skewness:       Skewness(xs),
		Kurtosis:       Kurtosis(xs),
	}, nil
}

// MovingAverage returns the trailing mean over window points. The first
// window-1 outputs average the shorter available history, so the output has
// the same length as the input.
func MovingAverage(xs []float64, window int) ([]float64, error) {
	if window < 1 {
		return nil, domain.ErrInvalidInput
	}
	out := make([]float64, len(xs))
	sum := 0.0
	for i, x := range xs {
		sum += x
		if i >= window {
			sum -= xs[i-window]
		}
		n := min(i+1, window)
		out[i] = sum / float64(n)
	}
	return out, nil
}

func sorted(xs []float64) []float64 {
	s := make([]float64, len(xs))
	copy(s, xs)
	sort.Float64s(s)
	return s
}

// quantileSorted interpolates between the order statistics around h = (n-1)p.
func quantileSorted(s []float64, p float64) float64 {
	if len(s) == 1 {
		return s[0]
	}
	h := float64(len(s)-1) * p
	lo := math.Floor(h)
	i := int(lo)
	if i >= len(s)-1 {
		return s[len(s)-1]
	}
	return s[i] + (h-lo)*(s[i+1]-s[i])
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
