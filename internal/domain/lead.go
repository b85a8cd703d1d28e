package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// LeadRecord is the raw field mapping of one lead as fetched from the record store.
// Values may be absent, nil, or of loosely typed JSON/SQL origin.
type LeadRecord map[string]any

// Raw lead field names recognised by the feature extractor.
const (
	FieldID                 = "id"
	FieldLeadID             = "lead_id"
	FieldEmail              = "email"
	FieldJobTitle           = "job_title"
	FieldCompany            = "company"
	FieldCompanySize        = "company_size"
	FieldIndustry           = "industry"
	FieldWebsiteVisits      = "website_visits"
	FieldPagesViewed        = "pages_viewed"
	FieldEmailOpens         = "email_opens"
	FieldEmailClicks        = "email_clicks"
	FieldDownloads          = "downloads"
	FieldStatus             = "status"
	FieldSource             = "source"
	FieldCreatedAt          = "created_at"
	FieldLastEngagementAt   = "last_engagement_at"
	FieldLastEngagementDate = "last_engagement_date"
	FieldLastContactedAt    = "last_contacted_at"
	FieldStatusChangedAt    = "status_changed_at"
	FieldPreviousScore      = "previous_score"
	FieldPreviousBreakdown  = "previous_breakdown"
	FieldDealValue          = "deal_value"
)

// ID returns the lead identifier, accepting both "id" and "lead_id".
func (r LeadRecord) ID() string {
	for _, key := range []string{FieldID, FieldLeadID} {
		if v, ok := r[key]; ok && v != nil {
			switch id := v.(type) {
			case string:
				if trimmed := strings.TrimSpace(id); trimmed != "" {
					return trimmed
				}
			case int, int32, int64, uint, uint32, uint64:
				return fmt.Sprint(id)
			case fmt.Stringer:
				return strings.TrimSpace(id.String())
			}
		}
	}
	return ""
}

// Unclassified is the sentinel bucket for missing categorical fields.
// It always yields the minimum points for its factor.
const Unclassified = "unclassified"

// NoActivityDays is the recency assigned to leads with no known activity.
// It is larger than any sensible staleness threshold.
const NoActivityDays = math.MaxInt32

// Lead status values with meaning for conversion and cohort analysis.
const (
	StatusNew        = "new"
	StatusClosedWon  = "closed_won"
	StatusClosedLost = "closed_lost"
)

// DefaultSource is used when a lead carries no acquisition source.
const DefaultSource = "unknown"

// LeadFeatures is the normalized view of one lead at scoring time.
// It is derived per run and never mutated after extraction.
type LeadFeatures struct {
	LeadID string `json:"leadId"`

	JobTitle         string `json:"jobTitle"`
	CompanySize      int    `json:"companySize"`
	CompanySizeKnown bool   `json:"companySizeKnown"`
	Industry         string `json:"industry"`

	WebsiteVisits int `json:"websiteVisits"`
	PagesViewed   int `json:"pagesViewed"`
	EmailOpens    int `json:"emailOpens"`
	EmailClicks   int `json:"emailClicks"`
	Downloads     int `json:"downloads"`

	DaysSinceLastActivity int  `json:"daysSinceLastActivity"`
	HasActivity           bool `json:"hasActivity"`

	Source string `json:"source"`
	Status string `json:"status"`

	CreatedAt       time.Time `json:"createdAt"`
	StatusChangedAt time.Time `json:"statusChangedAt"`

	PreviousScore     *float64        `json:"previousScore,omitempty"`
	PreviousBreakdown *ScoreBreakdown `json:"previousBreakdown,omitempty"`
	DealValue         float64         `json:"dealValue"`

	Degraded bool                   `json:"degraded"`
	Warnings []DegradedInputWarning `json:"warnings,omitempty"`
}

// Converted reports whether the lead closed as won.
func (f *LeadFeatures) Converted() bool {
	return f.Status == StatusClosedWon
}

// Lost reports whether the lead closed as lost.
func (f *LeadFeatures) Lost() bool {
	return f.Status == StatusClosedLost
}
