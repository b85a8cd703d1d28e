// Package scoring implements the weighted five-factor lead scoring engine.
package scoring

import (
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Score computes the factor breakdown, composite and temperature of one lead.
// It never fails for well-formed features; every branch has a default.
func Score(f domain.LeadFeatures, rs domain.Ruleset) domain.ScoreBreakdown {
	b := domain.ScoreBreakdown{RulesetVersion: rs.Version}
	for _, factor := range Factors(&rs) {
		points := Round2(clamp(factor.Score(&f), 0, factor.Max()))
		switch factor.Name() {
		case domain.FactorDemographic:
			b.Demographic = points
		case domain.FactorFirmographic:
			b.Firmographic = points
		case domain.FactorBehavioral:
			b.Behavioral = points
		case domain.FactorEngagement:
			b.Engagement = points
		case domain.FactorTemporal:
			b.Temporal = points
		}
	}
	b.Composite = Round2(clamp(b.Sum(), 0, domain.MaxComposite))
	b.Temperature = Classify(b.Composite, rs.Temperature)
	return b
}

// Classify maps a composite score onto the temperature ladder, top-down.
// A score equal to a threshold belongs to the higher tier.
func Classify(composite float64, t domain.TemperatureThresholds) domain.Temperature {
	switch {
	case composite >= t.Hot:
		return domain.TemperatureHot
	case composite >= t.Warm:
		return domain.TemperatureWarm
	case composite >= t.Cold:
		return domain.TemperatureCold
	default:
		return domain.TemperatureFrozen
	}
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
