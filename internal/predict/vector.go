// Package predict holds the conversion, revenue and lifetime value models.
// Inference is pure; models are fitted offline with Fit.
package predict

import (
	"math"
	"sort"
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

// Numeric feature names in a vector.
const (
	FeatureWebsiteVisits = "website_visits"
	FeaturePagesViewed   = "pages_viewed"
	FeatureEmailOpens    = "email_opens"
	FeatureEmailClicks   = "email_clicks"
	FeatureDownloads     = "downloads"
	FeatureCompanySize   = "log_company_size"
	FeatureRecency       = "days_since_last_activity"
	FeatureHasActivity   = "has_activity"
	FeatureComposite     = "composite_score"
)

// One-hot prefixes for categorical encodings.
const (
	prefixSource   = "source="
	prefixIndustry = "industry="
	prefixTier     = "tier="
)

// Vector is a sparse named feature vector. Absent keys are zero.
type Vector map[string]float64

// BuildVector encodes the numeric features, one-hot categorical encodings and
// the composite score of a lead under the given ruleset.
func BuildVector(f domain.LeadFeatures, rs domain.Ruleset) Vector {
	v := Vector{
		FeatureWebsiteVisits: float64(f.WebsiteVisits),
		FeaturePagesViewed:   float64(f.PagesViewed),
		FeatureEmailOpens:    float64(f.EmailOpens),
		FeatureEmailClicks:   float64(f.EmailClicks),
		FeatureDownloads:     float64(f.Downloads),
		FeatureComposite:     scoring.Score(f, rs).Composite,
	}
	if f.CompanySizeKnown {
		v[FeatureCompanySize] = math.Log1p(float64(f.CompanySize))
	}

	// Leads without activity sit one day past staleness so the feature stays bounded.
	recency := rs.Temporal.StalenessDays + 1
	if f.HasActivity {
		v[FeatureHasActivity] = 1
		recency = min(f.DaysSinceLastActivity, recency)
	}
	v[FeatureRecency] = float64(recency)

	v[prefixSource+category(f.Source, domain.DefaultSource)] = 1
	v[prefixIndustry+category(f.Industry, domain.Unclassified)] = 1
	v[prefixTier+seniorityTier(f.JobTitle, rs.Demographic)] = 1
	return v
}

// Names returns the vector keys in sorted order.
func (v Vector) Names() []string {
	names := make([]string, 0, len(v))
	for name := range v {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func category(value, fallback string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return fallback
	}
	return value
}

func seniorityTier(title string, rule domain.DemographicRule) string {
	if title == "" || title == domain.Unclassified {
		return domain.Unclassified
	}
	if tier, ok := (scoring.DemographicFactor{Rule: rule}).Tier(title); ok {
		return tier.Name
	}
	return "other"
}
