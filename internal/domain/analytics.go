package domain

import "time"

// RunState is the lifecycle state of an analytics run.
type RunState string

const (
	RunIdle            RunState = "idle"
	RunRunning         RunState = "running"
	RunCompleted       RunState = "completed"
	RunPartiallyFailed RunState = "partially_failed"
)

// Sub-analysis names recorded in AnalyticsReport.Analyses.
const (
	AnalysisDescriptive = "descriptive"
	AnalysisCorrelation = "correlation"
	AnalysisTrend       = "trend"
	AnalysisOutliers    = "outliers"
	AnalysisPredictive  = "predictive"
	AnalysisCohort      = "cohort"
	AnalysisSegments    = "segments"
)

// AnalyticsParameters controls one analytics run. Zero values fall back to
// the active ruleset or package defaults.
type AnalyticsParameters struct {
	WindowStart      *time.Time    `json:"windowStart,omitempty"`
	WindowEnd        *time.Time    `json:"windowEnd,omitempty"`
	Granularity      Granularity   `json:"granularity,omitempty" validate:"omitempty,oneof=day week month"`
	OutlierMethod    OutlierMethod `json:"outlierMethod,omitempty" validate:"omitempty,oneof=iqr zscore"`
	ConfidenceLevel  float64       `json:"confidenceLevel,omitempty" validate:"omitempty,gt=0,lt=1"`
	Alpha            float64       `json:"alpha,omitempty" validate:"omitempty,gt=0,lt=1"`
	ForecastHorizon  int           `json:"forecastHorizon,omitempty" validate:"gte=0,lte=120"`
	SeasonLength     int           `json:"seasonLength,omitempty" validate:"gte=0,lte=52"`
	MaxCohortOffsets int           `json:"maxCohortOffsets,omitempty" validate:"gte=0,lte=366"`
}

// Summary is the descriptive statistics of one series.
// Skewness and Kurtosis are nil when undefined for the sample.
type Summary struct {
	Count          int      `json:"count"`
	Mean           float64  `json:"mean"`
	Median         float64  `json:"median"`
	Min            float64  `json:"min"`
	Max            float64  `json:"max"`
	Variance       float64  `json:"variance"`
	SampleVariance float64  `json:"sampleVariance"`
	StdDev         float64  `json:"stdDev"`
	SampleStdDev   float64  `json:"sampleStdDev"`
	Q1             float64  `json:"q1"`
	Q3             float64  `json:"q3"`
	IQR            float64  `json:"iqr"`
	Skewness       *float64 `json:"skewness"`
	Kurtosis       *float64 `json:"kurtosis"`
}

// Correlation is a correlation coefficient with its significance test.
// Coefficient and PValue are nil when either series is constant.
type Correlation struct {
	Method      string   `json:"method"`
	N           int      `json:"n"`
	Coefficient *float64 `json:"coefficient"`
	PValue      *float64 `json:"pValue"`
	Alpha       float64  `json:"alpha"`
	Significant bool     `json:"significant"`
}

// CorrelationMatrix holds pairwise Pearson correlations between named series.
// Coefficients[i][j] is nil when undefined.
type CorrelationMatrix struct {
	Names        []string     `json:"names"`
	Coefficients [][]*float64 `json:"coefficients"`
	PValues      [][]*float64 `json:"pValues"`
}

// Trend is an ordinary least squares fit y = Intercept + Slope*x.
type Trend struct {
	N           int     `json:"n"`
	Slope       float64 `json:"slope"`
	Intercept   float64 `json:"intercept"`
	RSquared    float64 `json:"rSquared"`
	SlopeStdErr float64 `json:"slopeStdErr"`
	Level       float64 `json:"level"`
	SlopeLower  float64 `json:"slopeLower"`
	SlopeUpper  float64 `json:"slopeUpper"`
	ResidualSD  float64 `json:"residualSd"`
	MeanX       float64 `json:"meanX"`
	Sxx         float64 `json:"sxx"`
}

// Outlier is one flagged observation.
type Outlier struct {
	Index  int     `json:"index"`
	LeadID string  `json:"leadId,omitempty"`
	Value  float64 `json:"value"`
	Score  float64 `json:"score"`
}

// OutlierReport lists the observations outside the method's fences.
type OutlierReport struct {
	Method   OutlierMethod `json:"method"`
	Lower    float64       `json:"lower"`
	Upper    float64       `json:"upper"`
	Outliers []Outlier     `json:"outliers"`
}

// Interval is a confidence or prediction interval.
type Interval struct {
	Level  float64 `json:"level"`
	Lower  float64 `json:"lower"`
	Upper  float64 `json:"upper"`
	StdErr float64 `json:"stdErr"`
}

// ConversionPrediction is the predicted conversion probability of one lead.
// Confidence is nil when the model carries no covariance or on fallback.
type ConversionPrediction struct {
	LeadID       string    `json:"leadId"`
	Probability  float64   `json:"probability"`
	Confidence   *Interval `json:"confidence,omitempty"`
	ModelVersion string    `json:"modelVersion,omitempty"`
	Fallback     bool      `json:"fallback"`
}

// ForecastPoint is one projected period.
type ForecastPoint struct {
	Step     int       `json:"step"`
	Value    float64   `json:"value"`
	Interval *Interval `json:"interval,omitempty"`
}

// Forecast is a revenue projection over a horizon.
type Forecast struct {
	Horizon  int             `json:"horizon"`
	Points   []ForecastPoint `json:"points"`
	Trend    *Trend          `json:"trend,omitempty"`
	Seasonal []float64       `json:"seasonal,omitempty"`
	Fallback bool            `json:"fallback"`
	Reason   string          `json:"reason,omitempty"`
}

// CLVEstimate is a closed-form customer lifetime value estimate.
type CLVEstimate struct {
	Value        float64  `json:"value"`
	AvgDealValue float64  `json:"avgDealValue"`
	Retention    float64  `json:"retention"`
	DiscountRate float64  `json:"discountRate"`
	GrossMargin  float64  `json:"grossMargin"`
	Fallback     bool     `json:"fallback"`
	Reasons      []string `json:"reasons,omitempty"`
}

// PredictiveReport bundles the predictive sub-analysis outputs.
type PredictiveReport struct {
	Conversions         []ConversionPrediction `json:"conversions"`
	ExpectedConversions float64                `json:"expectedConversions"`
	ConversionFallback  bool                   `json:"conversionFallback"`
	Revenue             *Forecast              `json:"revenue,omitempty"`
	CLV                 *CLVEstimate           `json:"clv,omitempty"`
}

// CohortRecord tracks one creation-period cohort across elapsed periods.
// Index k of each slice is the state at the end of the k-th period after Start.
type CohortRecord struct {
	Key            string    `json:"key"`
	Start          time.Time `json:"start"`
	Size           int       `json:"size"`
	Retained       []int     `json:"retained"`
	Converted      []int     `json:"converted"`
	RetentionRate  []float64 `json:"retentionRate"`
	ConversionRate []float64 `json:"conversionRate"`
}

// CohortReport is the full cohort table of a run.
type CohortReport struct {
	Granularity Granularity    `json:"granularity"`
	Cohorts     []CohortRecord `json:"cohorts"`
	Unassigned  int            `json:"unassigned"`
}

// SegmentSummary aggregates scores of the leads carrying one segment tag.
type SegmentSummary struct {
	Tag       string  `json:"tag"`
	Count     int     `json:"count"`
	MeanScore float64 `json:"meanScore"`
	HotCount  int     `json:"hotCount"`
}

// AnalysisStatus is the outcome of one sub-analysis.
type AnalysisStatus struct {
	Name    string  `json:"name"`
	Outcome Outcome `json:"outcome"`
	Error   string  `json:"error,omitempty"`
}

// AnalyticsReport is the assembled result of one analytics run.
// It is never mutated after assembly.
type AnalyticsReport struct {
	ID             string              `json:"id"`
	TenantID       string              `json:"tenantId"`
	State          RunState            `json:"state"`
	Parameters     AnalyticsParameters `json:"parameters"`
	RulesetVersion string              `json:"rulesetVersion,omitempty"`
	GeneratedAt    time.Time           `json:"generatedAt"`
	LeadCount      int                 `json:"leadCount"`
	DegradedCount  int                 `json:"degradedCount"`
	FailedLeads    int                 `json:"failedLeads"`

	Descriptive  map[string]Summary        `json:"descriptive,omitempty"`
	Correlations *CorrelationMatrix        `json:"correlations,omitempty"`
	Trends       map[string]Trend          `json:"trends,omitempty"`
	Outliers     *OutlierReport            `json:"outliers,omitempty"`
	Predictive   *PredictiveReport         `json:"predictive,omitempty"`
	Cohorts      *CohortReport             `json:"cohorts,omitempty"`
	Segments     map[string]SegmentSummary `json:"segments,omitempty"`

	Analyses []AnalysisStatus `json:"analyses"`
}
