package analytics

import (
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/cohort"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/stats"
)

// Series names used in descriptive, correlation and trend output.
const (
	SeriesComposite   = "composite_score"
	SeriesVisits      = "website_visits"
	SeriesPages       = "pages_viewed"
	SeriesOpens       = "email_opens"
	SeriesClicks      = "email_clicks"
	SeriesDownloads   = "downloads"
	SeriesRecency     = "days_since_last_activity"
	SeriesCompanySize = "company_size"
	SeriesDealValue   = "deal_value"
	SeriesConverted   = "converted"
	SeriesScoreByDate = "composite_by_created_at"
	SeriesLeadVolume  = "lead_volume"
	SeriesRevenue     = "revenue"
)

const (
	defaultHorizon = 3
	secondsPerDay  = 86400.0
)

// scored is one extracted and scored lead of the batch.
type scored struct {
	features  domain.LeadFeatures
	breakdown domain.ScoreBreakdown
	tags      []string
}

// descriptiveSeries returns the per-lead series summarised by the descriptive
// analysis. Recency, company size and deal value only include leads where the
// value is known.
func descriptiveSeries(leads []scored) []stats.NamedSeries {
	composite := make([]float64, 0, len(leads))
	visits := make([]float64, 0, len(leads))
	pages := make([]float64, 0, len(leads))
	opens := make([]float64, 0, len(leads))
	clicks := make([]float64, 0, len(leads))
	downloads := make([]float64, 0, len(leads))
	var recency, size, deals []float64
	for _, l := range leads {
		f := l.features
		composite = append(composite, l.breakdown.Composite)
		visits = append(visits, float64(f.WebsiteVisits))
		pages = append(pages, float64(f.PagesViewed))
		opens = append(opens, float64(f.EmailOpens))
		clicks = append(clicks, float64(f.EmailClicks))
		downloads = append(downloads, float64(f.Downloads))
		if f.HasActivity {
			recency = append(recency, float64(f.DaysSinceLastActivity))
		}
		if f.CompanySizeKnown {
			size = append(size, float64(f.CompanySize))
		}
		if f.DealValue > 0 {
			deals = append(deals, f.DealValue)
		}
	}
	return []stats.NamedSeries{
		{Name: SeriesComposite, Values: composite},
		{Name: SeriesVisits, Values: visits},
		{Name: SeriesPages, Values: pages},
		{Name: SeriesOpens, Values: opens},
		{Name: SeriesClicks, Values: clicks},
		{Name: SeriesDownloads, Values: downloads},
		{Name: SeriesRecency, Values: recency},
		{Name: SeriesCompanySize, Values: size},
		{Name: SeriesDealValue, Values: deals},
	}
}

// correlationSeries returns the equal-length series of the correlation matrix.
func correlationSeries(leads []scored) []stats.NamedSeries {
	all := descriptiveSeries(leads)
	converted := make([]float64, len(leads))
	for i, l := range leads {
		if l.features.Converted() {
			converted[i] = 1
		}
	}
	// the first six series carry one value per lead
	out := append([]stats.NamedSeries{}, all[:6]...)
	return append(out, stats.NamedSeries{Name: SeriesConverted, Values: converted})
}

// scoreByCreation returns (days since first creation, composite) pairs in
// creation order for leads with a creation date.
func scoreByCreation(leads []scored) (xs, ys []float64) {
	dated := make([]scored, 0, len(leads))
	for _, l := range leads {
		if !l.features.CreatedAt.IsZero() {
			dated = append(dated, l)
		}
	}
	sort.SliceStable(dated, func(a, b int) bool {
		return dated[a].features.CreatedAt.Before(dated[b].features.CreatedAt)
	})
	if len(dated) == 0 {
		return nil, nil
	}
	first := dated[0].features.CreatedAt
	for _, l := range dated {
		xs = append(xs, l.features.CreatedAt.Sub(first).Seconds()/secondsPerDay)
		ys = append(ys, l.breakdown.Composite)
	}
	return xs, ys
}

// periodSeries buckets values per period between the first and last period
// present, filling gaps with zero.
func periodSeries(points map[time.Time]float64, g domain.Granularity) []float64 {
	if len(points) == 0 {
		return nil
	}
	var first, last time.Time
	for start := range points {
		if first.IsZero() || start.Before(first) {
			first = start
		}
		if start.After(last) {
			last = start
		}
	}
	var out []float64
	for p := first; !p.After(last); p = cohort.AddPeriods(p, 1, g) {
		out = append(out, points[p])
	}
	return out
}

// leadVolume counts created leads per period.
func leadVolume(leads []scored, g domain.Granularity) []float64 {
	points := make(map[time.Time]float64)
	for _, l := range leads {
		if l.features.CreatedAt.IsZero() {
			continue
		}
		points[cohort.PeriodStart(l.features.CreatedAt, g)]++
	}
	return periodSeries(points, g)
}

// revenueSeries sums closed-won deal values per period of the status change,
// or of creation when the change time is unknown.
func revenueSeries(leads []scored, g domain.Granularity) []float64 {
	points := make(map[time.Time]float64)
	for _, l := range leads {
		f := l.features
		if !f.Converted() {
			continue
		}
		at := f.StatusChangedAt
		if at.IsZero() {
			at = f.CreatedAt
		}
		if at.IsZero() {
			continue
		}
		points[cohort.PeriodStart(at, g)] += f.DealValue
	}
	return periodSeries(points, g)
}

func featureList(leads []scored) []domain.LeadFeatures {
	out := make([]domain.LeadFeatures, len(leads))
	for i := range leads {
		out[i] = leads[i].features
	}
	return out
}
