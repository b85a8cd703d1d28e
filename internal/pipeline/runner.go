// Package pipeline runs batch scoring: the pure, data-parallel Runner and the
// store-backed Service that wraps it with persistence and events.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/history"
	"github.com/opensource-finance/kestrel/internal/rules"
	"github.com/opensource-finance/kestrel/internal/scoring"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers bounds per-batch parallelism when none is configured.
const DefaultWorkers = 8

// Runner extracts, scores, tags and diffs a batch of leads. It performs no I/O.
type Runner struct {
	segments *rules.Engine
	workers  int
	logger   *slog.Logger
}

// NewRunner creates a batch runner. The segment engine may be nil.
func NewRunner(segments *rules.Engine, workers int, logger *slog.Logger) *Runner {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{segments: segments, workers: workers, logger: logger}
}

// Run scores records in parallel. Leads not yet started when ctx is cancelled
// are skipped; leads in flight complete. Results keep the input order.
// The only error is domain.ErrInvalidBatch.
func (r *Runner) Run(ctx context.Context, tenantID string, records []domain.LeadRecord, rs domain.Ruleset, ref time.Time) (*domain.BatchResult, error) {
	started := time.Now()
	if ref.IsZero() {
		ref = started
	}
	ref = ref.UTC()

	extractions, err := features.ExtractBatch(records, ref)
	if err != nil {
		return nil, err
	}

	results := make([]domain.LeadResult, len(extractions))
	g := new(errgroup.Group)
	g.SetLimit(r.workers)
	for i := range extractions {
		x := &extractions[i]
		if ctx.Err() != nil {
			results[i] = skipped(x, ctx.Err().Error())
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = skipped(x, err.Error())
				return nil
			}
			results[i] = r.scoreOne(ctx, tenantID, x, rs, ref)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summarize(results)
	summary.RunID = uuid.New().String()
	summary.TenantID = tenantID
	summary.StartedAt = started.UTC()
	summary.CompletedAt = time.Now().UTC()
	summary.DurationMs = summary.CompletedAt.Sub(summary.StartedAt).Milliseconds()

	r.logger.Debug("batch scored",
		"tenant_id", tenantID,
		"processed", summary.Processed,
		"scored", summary.Scored,
		"skipped", summary.Skipped,
	)
	return &domain.BatchResult{Results: results, Summary: summary}, nil
}

func (r *Runner) scoreOne(ctx context.Context, tenantID string, x *features.Extraction, rs domain.Ruleset, ref time.Time) domain.LeadResult {
	start := time.Now()
	if x.Err != nil {
		return skipped(x, x.Err.Error())
	}
	f := &x.Features

	breakdown := scoring.Score(*f, rs)
	res := domain.LeadResult{
		LeadID:    f.LeadID,
		Outcome:   domain.OutcomeOK,
		Breakdown: &breakdown,
	}
	if f.Degraded {
		res.Outcome = domain.OutcomeDegraded
		for _, w := range f.Warnings {
			res.Reasons = append(res.Reasons, w.String())
		}
	}

	previous, hasPrevious := 0.0, f.PreviousScore != nil
	if hasPrevious {
		previous = *f.PreviousScore
	}
	entry, changed := history.Record(f.LeadID, previous, hasPrevious, breakdown, f.PreviousBreakdown, ref)
	res.History = entry
	res.Unchanged = !changed

	if r.segments != nil {
		res.Segments = r.segments.Tags(ctx, tenantID, rules.Input{Features: f, Breakdown: &breakdown})
	}
	res.ProcessUs = time.Since(start).Microseconds()
	return res
}

func skipped(x *features.Extraction, reason string) domain.LeadResult {
	return domain.LeadResult{
		LeadID:  x.Features.LeadID,
		Outcome: domain.OutcomeFailed,
		Error:   reason,
	}
}

// Summarize aggregates per-lead results. Hot leads keep input order.
func Summarize(results []domain.LeadResult) domain.RunSummary {
	s := domain.RunSummary{
		Processed: len(results),
		HotLeads:  []string{},
		Segments:  make(map[string]int),
	}
	for _, res := range results {
		if res.Outcome == domain.OutcomeFailed {
			s.Skipped++
			continue
		}
		s.Scored++
		if res.Outcome == domain.OutcomeDegraded {
			s.Degraded++
		}
		if res.Unchanged {
			s.Unchanged++
		}
		if res.Breakdown != nil && res.Breakdown.Temperature == domain.TemperatureHot {
			s.HotLeads = append(s.HotLeads, res.LeadID)
		}
		for _, tag := range res.Segments {
			s.Segments[tag]++
		}
	}
	return s
}
