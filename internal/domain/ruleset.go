package domain

import "time"

// OutlierMethod selects the outlier detection method used by analytics runs.
type OutlierMethod string

const (
	OutlierIQR    OutlierMethod = "iqr"
	OutlierZScore OutlierMethod = "zscore"
)

// Granularity is the period size used to bucket cohorts and time series.
type Granularity string

const (
	GranularityDay   Granularity = "day"
	GranularityWeek  Granularity = "week"
	GranularityMonth Granularity = "month"
)

// Ruleset is the complete scoring configuration. It is passed explicitly into
// every engine call so concurrent batches with different rulesets never interfere.
type Ruleset struct {
	ID       string `json:"id" yaml:"id"`
	TenantID string `json:"tenantId,omitempty" yaml:"-"`
	Version  string `json:"version" yaml:"version" validate:"required"`

	Demographic  DemographicRule       `json:"demographic_keywords" yaml:"demographic_keywords"`
	Firmographic FirmographicRule      `json:"firmographic_bands" yaml:"firmographic_bands"`
	Behavioral   BehavioralRule        `json:"behavioral_saturation" yaml:"behavioral_saturation"`
	Engagement   EngagementRule        `json:"engagement_weights" yaml:"engagement_weights"`
	Temporal     TemporalRule          `json:"temporal" yaml:"temporal"`
	Temperature  TemperatureThresholds `json:"temperature_thresholds" yaml:"temperature_thresholds"`

	OutlierMethod     OutlierMethod `json:"outlier_method" yaml:"outlier_method" validate:"oneof=iqr zscore"`
	CohortGranularity Granularity   `json:"cohort_granularity" yaml:"cohort_granularity" validate:"oneof=day week month"`

	UpdatedAt time.Time `json:"updatedAt,omitempty" yaml:"-"`
}

// DemographicRule maps job titles to seniority tiers by ordered substring match.
// Tiers are scanned in order: the most senior tier must come first.
type DemographicRule struct {
	Tiers              []SeniorityTier `json:"tiers" yaml:"tiers" validate:"required,min=1,dive"`
	OtherPoints        float64         `json:"other_points" yaml:"other_points" validate:"gte=0,lte=25"`
	UnclassifiedPoints float64         `json:"unclassified_points" yaml:"unclassified_points" validate:"gte=0,lte=25"`
}

// SeniorityTier is one rank in the demographic keyword ladder.
type SeniorityTier struct {
	Name     string   `json:"name" yaml:"name" validate:"required"`
	Keywords []string `json:"keywords" yaml:"keywords" validate:"required,min=1,dive,required"`
	Points   float64  `json:"points" yaml:"points" validate:"gte=0,lte=25"`
}

// FirmographicRule scores company size bands plus an industry-fit bonus.
type FirmographicRule struct {
	Bands         []SizeBand `json:"bands" yaml:"bands" validate:"required,min=1,dive"`
	UnknownPoints float64    `json:"unknown_points" yaml:"unknown_points" validate:"gte=0,lte=25"`
	Industries    []string   `json:"industries" yaml:"industries"`
	IndustryBonus float64    `json:"industry_bonus" yaml:"industry_bonus" validate:"gte=0,lte=25"`
}

// SizeBand awards Points to companies with at least MinEmployees employees.
type SizeBand struct {
	MinEmployees int     `json:"min_employees" yaml:"min_employees" validate:"gte=0"`
	Points       float64 `json:"points" yaml:"points" validate:"gte=0,lte=25"`
}

// BehavioralRule clips visit and page counts at saturation before weighting.
type BehavioralRule struct {
	VisitsSaturation int     `json:"visits_saturation" yaml:"visits_saturation" validate:"gt=0"`
	PagesSaturation  int     `json:"pages_saturation" yaml:"pages_saturation" validate:"gt=0"`
	VisitsWeight     float64 `json:"visits_weight" yaml:"visits_weight" validate:"gte=0"`
	PagesWeight      float64 `json:"pages_weight" yaml:"pages_weight" validate:"gte=0"`
}

// EngagementRule holds per-signal weights. No ranking between signals is assumed.
type EngagementRule struct {
	OpenWeight     float64 `json:"open_weight" yaml:"open_weight" validate:"gte=0"`
	ClickWeight    float64 `json:"click_weight" yaml:"click_weight" validate:"gte=0"`
	DownloadWeight float64 `json:"download_weight" yaml:"download_weight" validate:"gte=0"`
}

// TemporalRule defines the recency step function.
type TemporalRule struct {
	WindowDays    int `json:"window_days" yaml:"window_days" validate:"gte=0"`
	StalenessDays int `json:"staleness_days" yaml:"staleness_days" validate:"gtfield=WindowDays"`
	Steps         int `json:"steps" yaml:"steps" validate:"gte=1"`
}

// TemperatureThresholds are lower bounds, inclusive, evaluated top-down.
type TemperatureThresholds struct {
	Hot  float64 `json:"hot" yaml:"hot" validate:"gte=0,lte=100"`
	Warm float64 `json:"warm" yaml:"warm" validate:"gte=0,lte=100"`
	Cold float64 `json:"cold" yaml:"cold" validate:"gte=0,lte=100"`
}

// DefaultRuleset returns a fresh copy of the platform default ruleset.
func DefaultRuleset() Ruleset {
	return Ruleset{
		ID:      "default",
		Version: "default-v1",
		Demographic: DemographicRule{
			Tiers: []SeniorityTier{
				{Name: "executive", Keywords: []string{"ceo", "founder", "owner", "chief", "managing director"}, Points: 25},
				{Name: "senior", Keywords: []string{"vice president", "vp", "director", "head of"}, Points: 20},
				{Name: "manager", Keywords: []string{"manager", "lead"}, Points: 15},
			},
			OtherPoints:        10,
			UnclassifiedPoints: 5,
		},
		Firmographic: FirmographicRule{
			Bands: []SizeBand{
				{MinEmployees: 1000, Points: 25},
				{MinEmployees: 200, Points: 18},
				{MinEmployees: 50, Points: 12},
				{MinEmployees: 0, Points: 6},
			},
			UnknownPoints: 6,
			Industries:    []string{"software", "saas", "technology", "finance", "fintech", "healthcare"},
			IndustryBonus: 5,
		},
		Behavioral: BehavioralRule{
			VisitsSaturation: 20,
			PagesSaturation:  50,
			VisitsWeight:     15,
			PagesWeight:      15,
		},
		Engagement: EngagementRule{
			OpenWeight:     2,
			ClickWeight:    4,
			DownloadWeight: 5,
		},
		Temporal: TemporalRule{
			WindowDays:    7,
			StalenessDays: 90,
			Steps:         3,
		},
		Temperature: TemperatureThresholds{
			Hot:  80,
			Warm: 60,
			Cold: 40,
		},
		OutlierMethod:     OutlierIQR,
		CohortGranularity: GranularityMonth,
	}
}
