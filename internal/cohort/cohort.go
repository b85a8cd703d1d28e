// Package cohort groups leads by creation period and tracks retention and
// conversion across elapsed periods.
package cohort

import (
	"fmt"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// DefaultMaxOffsets bounds the number of elapsed periods tracked per cohort.
const DefaultMaxOffsets = 24

// Options controls a cohort build.
type Options struct {
	Granularity domain.Granularity
	MaxOffsets  int
	// Reference is the snapshot time. A status without a change timestamp is
	// assumed to have changed at Reference, or at the start of the last tracked
	// period when the cohort is older than MaxOffsets periods.
	Reference time.Time
}

// Build recomputes the full cohort table from the current lead snapshot.
// Membership depends only on CreatedAt, so status changes never move a lead
// between cohorts.
func Build(leads []domain.LeadFeatures, opts Options) (domain.CohortReport, error) {
	g := opts.Granularity
	if g == "" {
		g = domain.GranularityMonth
	}
	if g != domain.GranularityDay && g != domain.GranularityWeek && g != domain.GranularityMonth {
		return domain.CohortReport{}, fmt.Errorf("%w: unknown granularity %q", domain.ErrInvalidInput, g)
	}
	maxOffsets := opts.MaxOffsets
	if maxOffsets <= 0 {
		maxOffsets = DefaultMaxOffsets
	}
	ref := opts.Reference.UTC()

	report := domain.CohortReport{Granularity: g, Cohorts: []domain.CohortRecord{}}
	members := make(map[string][]*domain.LeadFeatures)
	starts := make(map[string]time.Time)
	for i := range leads {
		key, start, ok := Assign(&leads[i], g)
		if !ok {
			report.Unassigned++
			continue
		}
		members[key] = append(members[key], &leads[i])
		starts[key] = start
	}

	keys := make([]string, 0, len(members))
	for key := range members {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(a, b int) bool { return starts[keys[a]].Before(starts[keys[b]]) })

	for _, key := range keys {
		start := starts[key]
		offsets := 1
		for offsets < maxOffsets && !AddPeriods(start, offsets, g).After(ref) {
			offsets++
		}

		assumedChange := ref
		if !ref.Before(AddPeriods(start, offsets, g)) {
			assumedChange = AddPeriods(start, offsets-1, g)
		}

		rec := domain.CohortRecord{
			Key:            key,
			Start:          start,
			Size:           len(members[key]),
			Retained:       make([]int, offsets),
			Converted:      make([]int, offsets),
			RetentionRate:  make([]float64, offsets),
			ConversionRate: make([]float64, offsets),
		}
		for k := 0; k < offsets; k++ {
			end := AddPeriods(start, k+1, g)
			lost, won := 0, 0
			for _, f := range members[key] {
				changedAt := f.StatusChangedAt
				if changedAt.IsZero() {
					changedAt = assumedChange
				}
				if !changedAt.Before(end) {
					continue
				}
				switch {
				case f.Lost():
					lost++
				case f.Converted():
					won++
				}
			}
			rec.Retained[k] = rec.Size - lost
			rec.Converted[k] = won
			rec.RetentionRate[k] = float64(rec.Retained[k]) / float64(rec.Size)
			rec.ConversionRate[k] = float64(won) / float64(rec.Size)
		}
		report.Cohorts = append(report.Cohorts, rec)
	}
	return report, nil
}

// Assign returns the cohort key and period start of a lead, or false when the
// lead has no creation date.
func Assign(f *domain.LeadFeatures, g domain.Granularity) (string, time.Time, bool) {
	if f.CreatedAt.IsZero() {
		return "", time.Time{}, false
	}
	start := PeriodStart(f.CreatedAt, g)
	return Key(start, g), start, true
}

// PeriodStart truncates t (in UTC) to the start of its period. Weeks start on Monday.
func PeriodStart(t time.Time, g domain.Granularity) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	switch g {
	case domain.GranularityDay:
		return day
	case domain.GranularityWeek:
		sinceMonday := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -sinceMonday)
	default:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
}

// AddPeriods moves a period start forward by n periods.
func AddPeriods(start time.Time, n int, g domain.Granularity) time.Time {
	switch g {
	case domain.GranularityDay:
		return start.AddDate(0, 0, n)
	case domain.GranularityWeek:
		return start.AddDate(0, 0, 7*n)
	default:
		return start.AddDate(0, n, 0)
	}
}

// Key formats a period start as a cohort key.
func Key(start time.Time, g domain.Granularity) string {
	switch g {
	case domain.GranularityDay:
		return start.Format("2006-01-02")
	case domain.GranularityWeek:
		year, week := start.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	default:
		return start.Format("2006-01")
	}
}

// RetentionRate is the mean period-over-period retention across all cohorts,
// or nil when no cohort spans two periods.
func RetentionRate(report domain.CohortReport) *float64 {
	sum, n := 0.0, 0
	for _, c := range report.Cohorts {
		for k := 1; k < len(c.Retained); k++ {
			if c.Retained[k-1] > 0 {
				sum += float64(c.Retained[k]) / float64(c.Retained[k-1])
				n++
			}
		}
	}
	if n == 0 {
		return nil
	}
	rate := sum / float64(n)
	return &rate
}
