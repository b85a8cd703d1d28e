package predict

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// ForecastOptions controls revenue forecasting.
type ForecastOptions struct {
	// SeasonLength enables additive seasonal adjustment when >= 2 and the
	// series holds at least two full seasons.
	SeasonLength int
	// Level is the prediction interval level; 0 means 0.95.
	Level float64
}

// ForecastRevenue extrapolates a per-period revenue series horizon periods
// ahead. Intervals widen with distance from the fitted data. Series shorter
// than three points fall back to the series mean without an interval.
func ForecastRevenue(series []float64, horizon int, opts ForecastOptions) (domain.Forecast, error) {
	if horizon < 0 {
		return domain.Forecast{}, fmt.Errorf("%w: negative horizon %d", domain.ErrInvalidInput, horizon)
	}
	level := opts.Level
	if level <= 0 || level >= 1 {
		level = stats.DefaultConfidenceLevel
	}
	out := domain.Forecast{Horizon: horizon, Points: make([]domain.ForecastPoint, horizon)}

	n := len(series)
	if n < 3 {
		mean := 0.0
		if n > 0 {
			mean, _ = stats.Mean(series)
		}
		for h := range out.Points {
			out.Points[h] = domain.ForecastPoint{Step: h + 1, Value: math.Max(0, mean)}
		}
		out.Fallback = true
		out.Reason = fmt.Sprintf("insufficient history: need at least 3 periods, got %d; using series mean", n)
		return out, nil
	}

	m := opts.SeasonLength
	adjusted := series
	if m >= 2 {
		if n >= 2*m {
			out.Seasonal = seasonalIndices(series, m)
			adjusted = make([]float64, n)
			for i, v := range series {
				adjusted[i] = v - out.Seasonal[i%m]
			}
		} else {
			out.Reason = fmt.Sprintf("seasonal adjustment skipped: need %d periods, got %d", 2*m, n)
		}
	}

	trend, err := stats.TrendOverIndex(adjusted, level)
	if err != nil {
		return domain.Forecast{}, err
	}
	out.Trend = &trend

	tq := stats.TQuantile(level, n-2)
	for h := range out.Points {
		x0 := float64(n - 1 + h + 1)
		value := trend.Intercept + trend.Slope*x0
		if out.Seasonal != nil {
			value += out.Seasonal[(n+h)%m]
		}
		half := tq * trend.ResidualSD * math.Sqrt(1+1/float64(n)+(x0-trend.MeanX)*(x0-trend.MeanX)/trend.Sxx)
		out.Points[h] = domain.ForecastPoint{
			Step:  h + 1,
			Value: math.Max(0, value),
			Interval: &domain.Interval{
				Level:  level,
				Lower:  math.Max(0, value-half),
				Upper:  math.Max(0, value+half),
				StdErr: half / tq,
			},
		}
	}
	return out, nil
}

// seasonalIndices estimates centered additive seasonal effects as the mean
// detrended value at each position of the season.
func seasonalIndices(series []float64, m int) []float64 {
	trend, err := stats.TrendOverIndex(series, 0)
	if err != nil {
		return make([]float64, m)
	}
	sums := make([]float64, m)
	counts := make([]int, m)
	for i, v := range series {
		sums[i%m] += v - (trend.Intercept + trend.Slope*float64(i))
		counts[i%m]++
	}
	indices := make([]float64, m)
	total := 0.0
	for j := range indices {
		indices[j] = sums[j] / float64(counts[j])
		total += indices[j]
	}
	for j := range indices {
		indices[j] -= total / float64(m)
	}
	return indices
}
