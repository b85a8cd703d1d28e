package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/predict"
)

var ref = time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)

// leadsCSV builds n closed leads where engagement drives conversion, with a
// few flipped labels so the classes overlap, plus one open lead and one row
// without an id.
func leadsCSV(n int) string {
	var b strings.Builder
	b.WriteString("ID,Job_Title,Company_Size,Website_Visits,Email_Clicks,Status,Last_Engagement_At\n")
	for i := range n {
		status := "closed_lost"
		if i >= n/2 {
			status = "closed_won"
		}
		if i == n/2-2 {
			status = "closed_won"
		}
		if i == n/2+2 {
			status = "closed_lost"
		}
		engaged := ref.Add(-time.Duration(n-i) * 24 * time.Hour).Format(time.RFC3339)
		fmt.Fprintf(&b, "lead-%d,Manager,%d,%d,%d,%s,%s\n", i, 50+i*10, i, i/4, status, engaged)
	}
	b.WriteString("lead-open,CEO,5000,40,9,open,\n")
	b.WriteString(",CTO,10,1,0,closed_won,\n")
	return b.String()
}

func TestReadLeadsCSV(t *testing.T) {
	records, err := readLeadsCSV(strings.NewReader(leadsCSV(10)), 0)
	if err != nil {
		t.Fatalf("readLeadsCSV failed: %v", err)
	}
	if len(records) != 12 {
		t.Fatalf("expected 12 records, got %d", len(records))
	}
	if records[0]["job_title"] != "Manager" {
		t.Errorf("expected lowered header keys, got %v", records[0])
	}
	if _, ok := records[10]["last_engagement_at"]; ok {
		t.Error("expected empty cells to be left out")
	}

	limited, _ := readLeadsCSV(strings.NewReader(leadsCSV(10)), 3)
	if len(limited) != 3 {
		t.Errorf("expected limit of 3, got %d", len(limited))
	}

	if _, err := readLeadsCSV(strings.NewReader(""), 0); err == nil {
		t.Error("expected error for missing header")
	}
}

func TestBuildDataset(t *testing.T) {
	records, _ := readLeadsCSV(strings.NewReader(leadsCSV(40)), 0)
	rs := domain.DefaultRuleset()

	t.Run("ClosedOnly", func(t *testing.T) {
		ds, err := buildDataset(records, rs, ref, 20, false)
		if err != nil {
			t.Fatalf("buildDataset failed: %v", err)
		}
		if ds.Skipped != 1 || ds.Open != 1 {
			t.Errorf("expected 1 skipped and 1 open, got %d and %d", ds.Skipped, ds.Open)
		}
		if len(ds.Train)+len(ds.Holdout) != 40 {
			t.Errorf("expected 40 samples, got %d", len(ds.Train)+len(ds.Holdout))
		}
		if len(ds.Holdout) != 8 {
			t.Errorf("expected 8 holdout samples, got %d", len(ds.Holdout))
		}
		if ds.Converted != 20 {
			t.Errorf("expected 20 converted, got %d", ds.Converted)
		}
	})

	t.Run("IncludeOpen", func(t *testing.T) {
		ds, _ := buildDataset(records, rs, ref, 0, true)
		if len(ds.Train) != 41 || len(ds.Holdout) != 0 {
			t.Errorf("expected 41 training samples, got %d/%d", len(ds.Train), len(ds.Holdout))
		}
	})
}

func TestTrain(t *testing.T) {
	records, _ := readLeadsCSV(strings.NewReader(leadsCSV(60)), 0)
	ds, err := buildDataset(records, domain.DefaultRuleset(), ref, 20, false)
	if err != nil {
		t.Fatalf("buildDataset failed: %v", err)
	}

	model, err := train(ds, predict.DefaultFitOptions(), 0.5)
	if err != nil {
		t.Fatalf("train failed: %v", err)
	}
	if model.Metrics == nil || model.Metrics.N != len(ds.Holdout) {
		t.Fatalf("expected holdout metrics, got %+v", model.Metrics)
	}
	if model.Metrics.Accuracy < 0.7 {
		t.Errorf("expected accuracy >= 0.7, got %v", model.Metrics.Accuracy)
	}
	if model.Coefficients[predict.FeatureWebsiteVisits] <= 0 {
		t.Errorf("expected positive website visits coefficient, got %v", model.Coefficients[predict.FeatureWebsiteVisits])
	}

	path := filepath.Join(t.TempDir(), "model.json")
	if err := predict.SaveModel(path, model); err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}
	if _, err := predict.LoadModel(path); err != nil {
		t.Errorf("expected written model to load, got %v", err)
	}
}
