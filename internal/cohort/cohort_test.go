package cohort

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func snapshot() []domain.LeadFeatures {
	return []domain.LeadFeatures{
		{LeadID: "a", CreatedAt: date(2025, 1, 5), Status: domain.StatusClosedLost, StatusChangedAt: date(2025, 2, 10)},
		{LeadID: "b", CreatedAt: date(2025, 1, 20), Status: domain.StatusClosedWon, StatusChangedAt: date(2025, 1, 25)},
		{LeadID: "c", CreatedAt: date(2025, 1, 30), Status: domain.StatusNew},
		{LeadID: "d", CreatedAt: date(2025, 3, 2), Status: domain.StatusClosedWon},
		{LeadID: "e", Status: domain.StatusNew},
	}
}

func TestBuild(t *testing.T) {
	ref := date(2025, 3, 15)

	report, err := Build(snapshot(), Options{Granularity: domain.GranularityMonth, Reference: ref})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if report.Unassigned != 1 {
		t.Errorf("expected 1 unassigned lead, got %d", report.Unassigned)
	}
	if len(report.Cohorts) != 2 {
		t.Fatalf("expected 2 cohorts, got %d", len(report.Cohorts))
	}

	jan := report.Cohorts[0]
	if jan.Key != "2025-01" || jan.Size != 3 {
		t.Errorf("unexpected January cohort: %+v", jan)
	}
	assertInts(t, "jan retained", jan.Retained, []int{3, 2, 2})
	assertInts(t, "jan converted", jan.Converted, []int{1, 1, 1})
	if math.Abs(jan.RetentionRate[1]-2.0/3.0) > 1e-12 {
		t.Errorf("expected retention rate 2/3, got %v", jan.RetentionRate[1])
	}

	mar := report.Cohorts[1]
	if mar.Key != "2025-03" {
		t.Errorf("expected 2025-03, got %s", mar.Key)
	}
	// no change timestamp: the status counts from the reference time
	assertInts(t, "mar retained", mar.Retained, []int{1})
	assertInts(t, "mar converted", mar.Converted, []int{1})

	t.Run("RetentionRate", func(t *testing.T) {
		r := RetentionRate(report)
		if r == nil || math.Abs(*r-(2.0/3.0+1.0)/2) > 1e-12 {
			t.Errorf("unexpected retention rate %v", r)
		}
		if RetentionRate(domain.CohortReport{}) != nil {
			t.Error("expected nil retention rate without cohorts")
		}
	})

	t.Run("MembershipStableAcrossStatusChange", func(t *testing.T) {
		leads := snapshot()
		before, _, _ := Assign(&leads[2], domain.GranularityMonth)

		leads[2].Status = domain.StatusClosedLost
		leads[2].StatusChangedAt = date(2025, 3, 10)
		after, _, _ := Assign(&leads[2], domain.GranularityMonth)
		if before != after {
			t.Errorf("cohort moved from %s to %s", before, after)
		}

		again, err := Build(leads, Options{Granularity: domain.GranularityMonth, Reference: ref})
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if again.Cohorts[0].Size != 3 {
			t.Errorf("expected size unchanged, got %d", again.Cohorts[0].Size)
		}
		assertInts(t, "jan retained after change", again.Cohorts[0].Retained, []int{3, 2, 1})
	})

	t.Run("MaxOffsets", func(t *testing.T) {
		r, _ := Build(snapshot(), Options{Granularity: domain.GranularityDay, MaxOffsets: 5, Reference: ref})
		for _, c := range r.Cohorts {
			if len(c.Retained) > 5 {
				t.Errorf("cohort %s exceeds max offsets: %d", c.Key, len(c.Retained))
			}
		}
	})

	t.Run("UnknownGranularity", func(t *testing.T) {
		_, err := Build(nil, Options{Granularity: "quarter"})
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestBuildBeyondMaxOffsets(t *testing.T) {
	leads := []domain.LeadFeatures{
		{LeadID: "a", CreatedAt: date(2025, 4, 1), Status: domain.StatusClosedWon},
		{LeadID: "b", CreatedAt: date(2025, 4, 1), Status: domain.StatusClosedLost},
		{LeadID: "c", CreatedAt: date(2025, 4, 1), Status: domain.StatusNew},
	}
	ref := date(2025, 6, 30)

	t.Run("DayCohortOlderThanCap", func(t *testing.T) {
		report, err := Build(leads, Options{Granularity: domain.GranularityDay, Reference: ref})
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		c := report.Cohorts[0]
		if len(c.Retained) != DefaultMaxOffsets {
			t.Fatalf("expected %d offsets, got %d", DefaultMaxOffsets, len(c.Retained))
		}
		last := DefaultMaxOffsets - 1
		if c.Retained[last] != 2 || c.Converted[last] != 1 {
			t.Errorf("expected terminal statuses in the last offset, got retained=%d converted=%d",
				c.Retained[last], c.Converted[last])
		}
		for k := 0; k < last; k++ {
			if c.Retained[k] != 3 || c.Converted[k] != 0 {
				t.Errorf("offset %d: expected 3 retained and 0 converted, got %d and %d", k, c.Retained[k], c.Converted[k])
			}
		}
		if r := RetentionRate(report); r == nil || *r >= 1 {
			t.Errorf("expected retention below 1, got %v", r)
		}
	})

	t.Run("MonthCohortWithinCap", func(t *testing.T) {
		report, _ := Build(leads, Options{Granularity: domain.GranularityMonth, Reference: ref})
		assertInts(t, "retained", report.Cohorts[0].Retained, []int{3, 3, 2})
		assertInts(t, "converted", report.Cohorts[0].Converted, []int{0, 0, 1})
	})

	t.Run("KnownChangeAfterWindowIgnored", func(t *testing.T) {
		late := append([]domain.LeadFeatures(nil), leads...)
		late[0].StatusChangedAt = date(2025, 6, 1)
		report, _ := Build(late, Options{Granularity: domain.GranularityDay, Reference: ref})
		if got := report.Cohorts[0].Converted[DefaultMaxOffsets-1]; got != 0 {
			t.Errorf("expected a dated change outside the window to stay uncounted, got %d", got)
		}
	})
}

func TestPeriods(t *testing.T) {
	wed := time.Date(2025, 1, 1, 15, 4, 5, 0, time.UTC)

	if got := PeriodStart(wed, domain.GranularityWeek); !got.Equal(date(2024, 12, 30)) {
		t.Errorf("expected Monday 2024-12-30, got %v", got)
	}
	if got := Key(PeriodStart(wed, domain.GranularityWeek), domain.GranularityWeek); got != "2025-W01" {
		t.Errorf("expected 2025-W01, got %s", got)
	}
	if got := Key(PeriodStart(wed, domain.GranularityDay), domain.GranularityDay); got != "2025-01-01" {
		t.Errorf("expected 2025-01-01, got %s", got)
	}
	if got := AddPeriods(date(2025, 1, 1), 2, domain.GranularityMonth); !got.Equal(date(2025, 3, 1)) {
		t.Errorf("expected 2025-03-01, got %v", got)
	}

	t.Run("NonUTCInput", func(t *testing.T) {
		loc := time.FixedZone("UTC-8", -8*3600)
		late := time.Date(2025, 1, 31, 20, 0, 0, 0, loc) // 2025-02-01 04:00 UTC
		if got := Key(PeriodStart(late, domain.GranularityMonth), domain.GranularityMonth); got != "2025-02" {
			t.Errorf("expected UTC bucketing into 2025-02, got %s", got)
		}
	})
}

func assertInts(t *testing.T, name string, got, want []int) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("%s: expected %v, got %v", name, want, got)
		return
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("%s: expected %v, got %v", name, want, got)
			return
		}
	}
}
