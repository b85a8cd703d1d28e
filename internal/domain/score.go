package domain

import (
	"time"
)

// Temperature is the categorical tier derived from a composite score.
type Temperature string

const (
	TemperatureHot    Temperature = "hot"
	TemperatureWarm   Temperature = "warm"
	TemperatureCold   Temperature = "cold"
	TemperatureFrozen Temperature = "frozen"
)

// Factor names, in tie-break order.
const (
	FactorDemographic  = "demographic"
	FactorFirmographic = "firmographic"
	FactorBehavioral   = "behavioral"
	FactorEngagement   = "engagement"
	FactorTemporal     = "temporal"
)

// Factors lists the scoring factors in their canonical order.
var Factors = [...]string{
	FactorDemographic,
	FactorFirmographic,
	FactorBehavioral,
	FactorEngagement,
	FactorTemporal,
}

// Factor maxima. Each sub-score is clamped to its maximum before summation.
const (
	MaxDemographic  = 25.0
	MaxFirmographic = 25.0
	MaxBehavioral   = 30.0
	MaxEngagement   = 20.0
	MaxTemporal     = 10.0
	MaxComposite    = 100.0
)

// ScoreBreakdown holds the five factor sub-scores and the resulting composite.
// Invariant: Composite == round2(clamp(sum of sub-scores, 0, 100)).
type ScoreBreakdown struct {
	Demographic    float64     `json:"demographic"`
	Firmographic   float64     `json:"firmographic"`
	Behavioral     float64     `json:"behavioral"`
	Engagement     float64     `json:"engagement"`
	Temporal       float64     `json:"temporal"`
	Composite      float64     `json:"composite"`
	Temperature    Temperature `json:"temperature"`
	RulesetVersion string      `json:"rulesetVersion,omitempty"`
}

// Factor returns the sub-score for a named factor.
func (b ScoreBreakdown) Factor(name string) float64 {
	switch name {
	case FactorDemographic:
		return b.Demographic
	case FactorFirmographic:
		return b.Firmographic
	case FactorBehavioral:
		return b.Behavioral
	case FactorEngagement:
		return b.Engagement
	case FactorTemporal:
		return b.Temporal
	default:
		return 0
	}
}

// Sum returns the unclamped sum of the five sub-scores.
func (b ScoreBreakdown) Sum() float64 {
	return b.Demographic + b.Firmographic + b.Behavioral + b.Engagement + b.Temporal
}

// ScoreHistoryEntry is an immutable audit record of one score change.
type ScoreHistoryEntry struct {
	ID             string    `json:"id"`
	LeadID         string    `json:"leadId"`
	PreviousScore  float64   `json:"previousScore"`
	NewScore       float64   `json:"newScore"`
	Delta          float64   `json:"delta"`
	Reason         string    `json:"reason"`
	RulesetVersion string    `json:"rulesetVersion,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Activity log types written after a scoring event.
const (
	ActivityScoreUpdated   = "score_updated"
	ActivityScoreUnchanged = "score_unchanged"
	ActivityScoreSkipped   = "score_skipped"
)
