package stats

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"gonum.org/v1/gonum/stat"
)

// Outlier defaults.
const (
	DefaultIQRMultiplier   = 1.5
	DefaultZScoreCutoff    = 3.0
	minOutlierSampleIQR    = 4
	minOutlierSampleZScore = 3
)

// OutliersIQR flags points outside [Q1 - k*IQR, Q3 + k*IQR]. Score is the
// distance beyond the nearest fence in IQR units (0 when IQR is 0).
func OutliersIQR(xs []float64, k float64) (domain.OutlierReport, error) {
	if len(xs) < minOutlierSampleIQR {
		return domain.OutlierReport{}, domain.NewInsufficientData("iqr outliers", minOutlierSampleIQR, len(xs))
	}
	if k <= 0 {
		k = DefaultIQRMultiplier
	}
	s := sorted(xs)
	q1, q3 := quantileSorted(s, 0.25), quantileSorted(s, 0.75)
	iqr := q3 - q1
	report := domain.OutlierReport{
		Method:   domain.OutlierIQR,
		Lower:    q1 - k*iqr,
		Upper:    q3 + k*iqr,
		Outliers: []domain.Outlier{},
	}
	for i, x := range xs {
		var dist float64
		switch {
		case x < report.Lower:
			dist = report.Lower - x
		case x > report.Upper:
			dist = x - report.Upper
		default:
			continue
		}
		score := 0.0
		if iqr > 0 {
			score = dist / iqr
		}
		report.Outliers = append(report.Outliers, domain.Outlier{Index: i, Value: x, Score: score})
	}
	return report, nil
}

// OutliersZScore flags points whose |z| exceeds threshold, using the sample
// standard deviation. A constant series has no outliers.
func OutliersZScore(xs []float64, threshold float64) (domain.OutlierReport, error) {
	if len(xs) < minOutlierSampleZScore {
		return domain.OutlierReport{}, domain.NewInsufficientData("zscore outliers", minOutlierSampleZScore, len(xs))
	}
	if threshold <= 0 {
		threshold = DefaultZScoreCutoff
	}
	mean, sd := stat.MeanStdDev(xs, nil)
	report := domain.OutlierReport{
		Method:   domain.OutlierZScore,
		Lower:    mean - threshold*sd,
		Upper:    mean + threshold*sd,
		Outliers: []domain.Outlier{},
	}
	if sd == 0 || math.IsNaN(sd) {
		return report, nil
	}
	for i, x := range xs {
		z := (x - mean) / sd
		if math.Abs(z) > threshold {
			report.Outliers = append(report.Outliers, domain.Outlier{Index: i, Value: x, Score: z})
		}
	}
	return report, nil
}

// Outliers dispatches to the configured method with default parameters.
func Outliers(xs []float64, method domain.OutlierMethod) (domain.OutlierReport, error) {
	switch method {
	case domain.OutlierIQR, "":
		return OutliersIQR(xs, DefaultIQRMultiplier)
	case domain.OutlierZScore:
		return OutliersZScore(xs, DefaultZScoreCutoff)
	default:
		return domain.OutlierReport{}, fmt.Errorf("%w: unknown outlier method %q", domain.ErrInvalidInput, method)
	}
}
