package predict

import "github.com/opensource-finance/kestrel/internal/domain"

// maxRetention keeps the geometric series of the CLV formula finite.
const maxRetention = 0.99

// CLVOptions supplies the fallback inputs and financial parameters.
type CLVOptions struct {
	DefaultDealValue float64
	DefaultRetention float64
	DiscountRate     float64
	GrossMargin      float64
}

// CLVOptionsFromConfig maps the service configuration onto CLVOptions.
func CLVOptionsFromConfig(cfg domain.PredictiveConfig) CLVOptions {
	return CLVOptions{
		DefaultDealValue: cfg.DefaultDealValue,
		DefaultRetention: cfg.DefaultRetention,
		DiscountRate:     cfg.DiscountRate,
		GrossMargin:      cfg.GrossMargin,
	}
}

// EstimateCLV evaluates CLV = m * v * (1+d) / (1+d-r), with v the average of
// the positive deal values and r the retention rate clamped to [0, 0.99].
// A nil retention or no deal values substitutes the defaults and flags the
// estimate as a fallback.
func EstimateCLV(dealValues []float64, retention *float64, opts CLVOptions) domain.CLVEstimate {
	est := domain.CLVEstimate{
		DiscountRate: max(opts.DiscountRate, 0),
		GrossMargin:  opts.GrossMargin,
	}
	if est.GrossMargin <= 0 || est.GrossMargin > 1 {
		est.GrossMargin = 1
	}

	sum, count := 0.0, 0
	for _, v := range dealValues {
		if v > 0 {
			sum += v
			count++
		}
	}
	if count > 0 {
		est.AvgDealValue = sum / float64(count)
	} else {
		est.AvgDealValue = opts.DefaultDealValue
		est.Fallback = true
		est.Reasons = append(est.Reasons, "no observed deal values; default deal value applied")
	}

	if retention != nil {
		est.Retention = *retention
	} else {
		est.Retention = opts.DefaultRetention
		est.Fallback = true
		est.Reasons = append(est.Reasons, "no retention history; default retention applied")
	}
	est.Retention = min(max(est.Retention, 0), maxRetention)

	d := est.DiscountRate
	est.Value = est.GrossMargin * est.AvgDealValue * (1 + d) / (1 + d - est.Retention)
	return est
}
