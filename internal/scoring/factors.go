package scoring

import (
	"strings"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Factor is one independently computed scoring dimension.
// Implementations are pure functions over their own configuration block.
type Factor interface {
	Name() string
	Max() float64
	Score(f *domain.LeadFeatures) float64
}

// Factors builds the five factors of a ruleset in canonical order.
func Factors(rs *domain.Ruleset) []Factor {
	return []Factor{
		DemographicFactor{Rule: rs.Demographic},
		FirmographicFactor{Rule: rs.Firmographic},
		BehavioralFactor{Rule: rs.Behavioral},
		EngagementFactor{Rule: rs.Engagement},
		TemporalFactor{Rule: rs.Temporal},
	}
}

// DemographicFactor scores job-title seniority.
type DemographicFactor struct {
	Rule domain.DemographicRule
}

func (DemographicFactor) Name() string { return domain.FactorDemographic }
func (DemographicFactor) Max() float64 { return domain.MaxDemographic }

// Score scans tiers in order and returns the points of the first tier with a
// keyword contained in the title.
func (d DemographicFactor) Score(f *domain.LeadFeatures) float64 {
	tier, ok := d.Tier(f.JobTitle)
	switch {
	case f.JobTitle == "" || f.JobTitle == domain.Unclassified:
		return d.Rule.UnclassifiedPoints
	case ok:
		return tier.Points
	default:
		return d.Rule.OtherPoints
	}
}

// Tier returns the first tier matching title.
func (d DemographicFactor) Tier(title string) (domain.SeniorityTier, bool) {
	title = strings.ToLower(title)
	if title == "" || title == domain.Unclassified {
		return domain.SeniorityTier{}, false
	}
	for _, tier := range d.Rule.Tiers {
		if containsAny(title, tier.Keywords) {
			return tier, true
		}
	}
	return domain.SeniorityTier{}, false
}

// FirmographicFactor scores company size plus industry fit.
type FirmographicFactor struct {
	Rule domain.FirmographicRule
}

func (FirmographicFactor) Name() string { return domain.FactorFirmographic }
func (FirmographicFactor) Max() float64 { return domain.MaxFirmographic }

// Score picks the highest band whose minimum the size reaches. Bands are
// matched regardless of their configured order.
func (fi FirmographicFactor) Score(f *domain.LeadFeatures) float64 {
	points := fi.Rule.UnknownPoints
	if f.CompanySizeKnown {
		best := -1
		for i, band := range fi.Rule.Bands {
			if f.CompanySize >= band.MinEmployees && (best < 0 || band.MinEmployees > fi.Rule.Bands[best].MinEmployees) {
				best = i
			}
		}
		if best >= 0 {
			points = fi.Rule.Bands[best].Points
		}
	}
	if f.Industry != "" && f.Industry != domain.Unclassified {
		for _, industry := range fi.Rule.Industries {
			if strings.EqualFold(strings.TrimSpace(industry), f.Industry) {
				points += fi.Rule.IndustryBonus
				break
			}
		}
	}
	return points
}

// BehavioralFactor scores on-site activity.
type BehavioralFactor struct {
	Rule domain.BehavioralRule
}

func (BehavioralFactor) Name() string { return domain.FactorBehavioral }
func (BehavioralFactor) Max() float64 { return domain.MaxBehavioral }

// Score clips each counter at its saturation before normalizing.
func (b BehavioralFactor) Score(f *domain.LeadFeatures) float64 {
	return saturate(f.WebsiteVisits, b.Rule.VisitsSaturation)*b.Rule.VisitsWeight +
		saturate(f.PagesViewed, b.Rule.PagesSaturation)*b.Rule.PagesWeight
}

// EngagementFactor scores email and content interactions.
type EngagementFactor struct {
	Rule domain.EngagementRule
}

func (EngagementFactor) Name() string { return domain.FactorEngagement }
func (EngagementFactor) Max() float64 { return domain.MaxEngagement }

func (e EngagementFactor) Score(f *domain.LeadFeatures) float64 {
	return float64(f.EmailOpens)*e.Rule.OpenWeight +
		float64(f.EmailClicks)*e.Rule.ClickWeight +
		float64(f.Downloads)*e.Rule.DownloadWeight
}

// TemporalFactor scores recency as an inverse step function.
type TemporalFactor struct {
	Rule domain.TemporalRule
}

func (TemporalFactor) Name() string { return domain.FactorTemporal }
func (TemporalFactor) Max() float64 { return domain.MaxTemporal }

// Score returns full points within the window and 0 beyond staleness. The span
// (window, staleness] is cut into Steps equal steps; zero-based step i yields
// max*(Steps-i)/(Steps+1).
func (t TemporalFactor) Score(f *domain.LeadFeatures) float64 {
	days := f.DaysSinceLastActivity
	if !f.HasActivity || days > t.Rule.StalenessDays {
		return 0
	}
	if days <= t.Rule.WindowDays {
		return domain.MaxTemporal
	}
	steps := t.Rule.Steps
	if steps < 1 {
		steps = 1
	}
	span := t.Rule.StalenessDays - t.Rule.WindowDays
	i := (days - t.Rule.WindowDays - 1) * steps / span
	if i >= steps {
		i = steps - 1
	}
	return domain.MaxTemporal * float64(steps-i) / float64(steps+1)
}

func saturate(v, sat int) float64 {
	if sat <= 0 || v <= 0 {
		return 0
	}
	if v > sat {
		v = sat
	}
	return float64(v) / float64(sat)
}

func containsAny(s string, keywords []string) bool {
	for _, keyword := range keywords {
		keyword = strings.ToLower(strings.TrimSpace(keyword))
		if keyword != "" && strings.Contains(s, keyword) {
			return true
		}
	}
	return false
}
