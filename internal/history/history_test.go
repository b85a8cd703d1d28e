package history

import (
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var at = time.Date(2025, 6, 15, 9, 30, 0, 0, time.UTC)

func TestRecord(t *testing.T) {
	current := domain.ScoreBreakdown{
		Demographic:    20,
		Firmographic:   18,
		Behavioral:     12.5,
		Engagement:     8,
		Temporal:       5,
		Composite:      63.5,
		Temperature:    domain.TemperatureWarm,
		RulesetVersion: "v1",
	}

	t.Run("InitialScoring", func(t *testing.T) {
		entry, ok := Record("lead-1", 0, false, current, nil, at)
		if !ok {
			t.Fatal("expected an entry")
		}
		if entry.PreviousScore != 0 || entry.NewScore != 63.5 || entry.Delta != 63.5 {
			t.Errorf("unexpected scores: %+v", entry)
		}
		if entry.Reason != "initial scoring" {
			t.Errorf("expected initial scoring reason, got %q", entry.Reason)
		}
		if entry.RulesetVersion != "v1" || !entry.CreatedAt.Equal(at) {
			t.Errorf("unexpected metadata: %+v", entry)
		}
	})

	t.Run("UnchangedScore", func(t *testing.T) {
		entry, ok := Record("lead-1", 63.5, true, current, &current, at)
		if ok || entry != nil {
			t.Errorf("expected no entry for zero delta, got %+v", entry)
		}
	})

	t.Run("LargestFactorReason", func(t *testing.T) {
		prior := current
		prior.Behavioral = 8
		prior.Temporal = 7.5
		prior.Composite = 61.5
		entry, ok := Record("lead-1", 61.5, true, current, &prior, at)
		if !ok {
			t.Fatal("expected an entry")
		}
		if entry.Delta != 2 {
			t.Errorf("expected delta 2, got %.2f", entry.Delta)
		}
		if entry.Reason != "behavioral score increased by 4.50" {
			t.Errorf("unexpected reason %q", entry.Reason)
		}
	})

	t.Run("DecreaseReason", func(t *testing.T) {
		prior := current
		prior.Temporal = 10
		prior.Composite = 68.5
		entry, _ := Record("lead-1", 68.5, true, current, &prior, at)
		if entry.Delta != -5 {
			t.Errorf("expected delta -5, got %.2f", entry.Delta)
		}
		if entry.Reason != "temporal score decreased by 5.00" {
			t.Errorf("unexpected reason %q", entry.Reason)
		}
	})

	t.Run("TieBreakByFactorOrder", func(t *testing.T) {
		prior := current
		prior.Firmographic = 15
		prior.Engagement = 5
		prior.Composite = 57.5
		entry, _ := Record("lead-1", 57.5, true, current, &prior, at)
		if entry.Reason != "firmographic score increased by 3.00" {
			t.Errorf("expected firmographic to win tie, got %q", entry.Reason)
		}
	})

	t.Run("RecalculatedWhenFactorsEqual", func(t *testing.T) {
		entry, ok := Record("lead-1", 50, true, current, &current, at)
		if !ok {
			t.Fatal("expected an entry")
		}
		if entry.Reason != "score recalculated" {
			t.Errorf("unexpected reason %q", entry.Reason)
		}
	})

	t.Run("Idempotent", func(t *testing.T) {
		a, _ := Record("lead-1", 40, true, current, nil, at)
		b, _ := Record("lead-1", 40, true, current, nil, at)
		if *a != *b {
			t.Errorf("expected identical entries, got %+v and %+v", a, b)
		}
		c, _ := Record("lead-2", 40, true, current, nil, at)
		if a.ID == c.ID {
			t.Error("expected different IDs for different leads")
		}
	})

	t.Run("ScoreThenRescoreUnchanged", func(t *testing.T) {
		first, ok := Record("lead-9", 0, false, current, nil, at)
		if !ok {
			t.Fatal("expected first entry")
		}
		_, ok = Record("lead-9", first.NewScore, true, current, &current, at.Add(time.Hour))
		if ok {
			t.Error("expected no second entry")
		}
	})
}
