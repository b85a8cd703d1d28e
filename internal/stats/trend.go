package stats

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// DefaultConfidenceLevel is used when a level outside (0,1) is given.
const DefaultConfidenceLevel = 0.95

// LinearTrend fits ys = intercept + slope*xs by ordinary least squares and
// returns a confidence interval on the slope at level. Needs at least three points.
func LinearTrend(xs, ys []float64, level float64) (domain.Trend, error) {
	if len(xs) != len(ys) {
		return domain.Trend{}, fmt.Errorf("linear trend: %w (%d vs %d)", domain.ErrLengthMismatch, len(xs), len(ys))
	}
	n := len(xs)
	if n < 3 {
		return domain.Trend{}, domain.NewInsufficientData("linear trend", 3, n)
	}
	if isConstant(xs) {
		return domain.Trend{}, fmt.Errorf("linear trend: x %w", domain.ErrZeroVariance)
	}
	if level <= 0 || level >= 1 {
		level = DefaultConfidenceLevel
	}

	intercept, slope := stat.LinearRegression(xs, ys, nil, false)

	meanX := stat.Mean(xs, nil)
	meanY := stat.Mean(ys, nil)
	var sxx, sse, sst float64
	for i := range xs {
		dx := xs[i] - meanX
		sxx += dx * dx
		resid := ys[i] - (intercept + slope*xs[i])
		sse += resid * resid
		dy := ys[i] - meanY
		sst += dy * dy
	}

	r2 := 1.0
	if sst > 0 {
		r2 = math.Max(0, 1-sse/sst)
	}
	residualSD := math.Sqrt(sse / float64(n-2))
	slopeSE := residualSD / math.Sqrt(sxx)
	tq := TQuantile(level, n-2)

	return domain.Trend{
		N:           n,
		Slope:       slope,
		Intercept:   intercept,
		RSquared:    r2,
		SlopeStdErr: slopeSE,
		Level:       level,
		SlopeLower:  slope - tq*slopeSE,
		SlopeUpper:  slope + tq*slopeSE,
		ResidualSD:  residualSD,
		MeanX:       meanX,
		Sxx:         sxx,
	}, nil
}

// TrendOverIndex fits ys against their positions 0..n-1.
func TrendOverIndex(ys []float64, level float64) (domain.Trend, error) {
	xs := make([]float64, len(ys))
	for i := range xs {
		xs[i] = float64(i)
	}
	return LinearTrend(xs, ys, level)
}

// TQuantile returns the two-sided critical value of Student's t with df
// degrees of freedom for the given confidence level.
func TQuantile(level float64, df int) float64 {
	if df < 1 {
		df = 1
	}
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: float64(df)}
	return dist.Quantile(1 - (1-level)/2)
}
