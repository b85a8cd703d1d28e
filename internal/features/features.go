// Package features normalizes raw lead records into scoring features.
package features

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Warning reasons.
const (
	reasonMissing     = "missing, default applied"
	reasonUnparseable = "unparseable, default applied"
	reasonNegative    = "negative, clamped to 0"
	reasonFuture      = "activity after reference time, treated as 0 days"
	reasonNoActivity  = "no activity timestamp, worst recency applied"
)

// counterFields are the non-negative interaction counters.
var counterFields = [...]string{
	domain.FieldWebsiteVisits,
	domain.FieldPagesViewed,
	domain.FieldEmailOpens,
	domain.FieldEmailClicks,
	domain.FieldDownloads,
}

// Extract derives the features of one lead relative to ref.
// The only fatal condition is a missing identifier.
func Extract(record domain.LeadRecord, ref time.Time) (domain.LeadFeatures, error) {
	id := record.ID()
	if id == "" {
		return domain.LeadFeatures{}, &domain.ExtractionError{Field: domain.FieldID, Reason: "identifier is missing"}
	}

	x := extractor{record: record, ref: ref.UTC()}
	f := domain.LeadFeatures{LeadID: id}

	f.JobTitle = x.category(domain.FieldJobTitle)
	f.Industry = x.category(domain.FieldIndustry)
	f.CompanySize, f.CompanySizeKnown = x.companySize()

	counts := make(map[string]int, len(counterFields))
	for _, field := range counterFields {
		counts[field] = x.counter(field)
	}
	f.WebsiteVisits = counts[domain.FieldWebsiteVisits]
	f.PagesViewed = counts[domain.FieldPagesViewed]
	f.EmailOpens = counts[domain.FieldEmailOpens]
	f.EmailClicks = counts[domain.FieldEmailClicks]
	f.Downloads = counts[domain.FieldDownloads]

	f.DaysSinceLastActivity, f.HasActivity = x.recency()

	f.Source = strings.ToLower(toString(record[domain.FieldSource]))
	if f.Source == "" {
		f.Source = domain.DefaultSource
	}
	f.Status = strings.ToLower(toString(record[domain.FieldStatus]))
	if f.Status == "" {
		f.Status = domain.StatusNew
	}

	f.CreatedAt, _ = optionalTime(record, domain.FieldCreatedAt)
	f.StatusChangedAt, _ = optionalTime(record, domain.FieldStatusChangedAt)

	if v, ok := record[domain.FieldPreviousScore]; present(v, ok) {
		if score, ok := toFloat(v); ok {
			f.PreviousScore = &score
		}
	}
	f.PreviousBreakdown = previousBreakdown(record[domain.FieldPreviousBreakdown])
	if v, ok := toFloat(record[domain.FieldDealValue]); ok && v > 0 {
		f.DealValue = v
	}

	f.Warnings = x.warnings
	f.Degraded = len(x.warnings) > 0
	return f, nil
}

// Extraction is the per-lead outcome of ExtractBatch.
type Extraction struct {
	Index    int
	Features domain.LeadFeatures
	Err      error
}

// ExtractBatch extracts every record without aborting on a single failure.
// It fails with ErrInvalidBatch only when a non-empty batch has no usable lead.
func ExtractBatch(records []domain.LeadRecord, ref time.Time) ([]Extraction, error) {
	out := make([]Extraction, len(records))
	valid := 0
	for i, record := range records {
		f, err := Extract(record, ref)
		out[i] = Extraction{Index: i, Features: f, Err: err}
		if err == nil {
			valid++
		}
	}
	if len(records) > 0 && valid == 0 {
		return out, fmt.Errorf("%w: all %d leads are missing an identifier", domain.ErrInvalidBatch, len(records))
	}
	return out, nil
}

type extractor struct {
	record   domain.LeadRecord
	ref      time.Time
	warnings []domain.DegradedInputWarning
}

func (x *extractor) warn(field, reason string) {
	x.warnings = append(x.warnings, domain.DegradedInputWarning{Field: field, Reason: reason})
}

func (x *extractor) category(field string) string {
	v, ok := x.record[field]
	if !present(v, ok) {
		x.warn(field, reasonMissing)
		return domain.Unclassified
	}
	return strings.ToLower(toString(v))
}

func (x *extractor) counter(field string) int {
	v, ok := x.record[field]
	if !present(v, ok) {
		x.warn(field, reasonMissing)
		return 0
	}
	n, ok := toFloat(v)
	if !ok {
		x.warn(field, reasonUnparseable)
		return 0
	}
	if n < 0 {
		x.warn(field, reasonNegative)
		return 0
	}
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}

// companySize accepts plain numbers, ranges such as "51-200" (lower bound)
// and open bands such as "1000+".
func (x *extractor) companySize() (int, bool) {
	v, ok := x.record[domain.FieldCompanySize]
	if !present(v, ok) {
		x.warn(domain.FieldCompanySize, reasonMissing)
		return 0, false
	}
	n, ok := toFloat(v)
	if !ok {
		s := strings.TrimSpace(toString(v))
		s = strings.TrimSuffix(s, "+")
		if lo, _, found := strings.Cut(s, "-"); found {
			s = lo
		}
		s = strings.ReplaceAll(s, ",", "")
		n, ok = toFloat(s)
	}
	if !ok {
		x.warn(domain.FieldCompanySize, reasonUnparseable)
		return 0, false
	}
	if n < 0 {
		x.warn(domain.FieldCompanySize, reasonNegative)
		return 0, false
	}
	return int(n), true
}

// recency returns whole days since the most relevant activity timestamp.
func (x *extractor) recency() (int, bool) {
	candidates := []string{
		domain.FieldLastEngagementAt,
		domain.FieldLastEngagementDate,
		domain.FieldLastContactedAt,
	}
	for _, field := range candidates {
		v, ok := x.record[field]
		if !present(v, ok) {
			continue
		}
		t, ok := toTime(v)
		if !ok {
			x.warn(field, reasonUnparseable)
			continue
		}
		if t.After(x.ref) {
			x.warn(field, reasonFuture)
			return 0, true
		}
		return int(math.Floor(x.ref.Sub(t).Hours() / 24)), true
	}
	x.warn(domain.FieldLastEngagementAt, reasonNoActivity)
	return domain.NoActivityDays, false
}

func optionalTime(record domain.LeadRecord, field string) (time.Time, bool) {
	v, ok := record[field]
	if !present(v, ok) {
		return time.Time{}, false
	}
	return toTime(v)
}

// previousBreakdown accepts a breakdown value, a pointer, a decoded JSON
// object or raw JSON. Anything else is ignored.
func previousBreakdown(v any) *domain.ScoreBreakdown {
	switch b := v.(type) {
	case nil:
		return nil
	case *domain.ScoreBreakdown:
		return b
	case domain.ScoreBreakdown:
		return &b
	}

	var raw []byte
	switch b := v.(type) {
	case string:
		raw = []byte(b)
	case []byte:
		raw = b
	case json.RawMessage:
		raw = b
	default:
		encoded, err := json.Marshal(b)
		if err != nil {
			return nil
		}
		raw = encoded
	}
	if len(raw) == 0 {
		return nil
	}
	var out domain.ScoreBreakdown
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return &out
}
