// Kestrel - Lead scoring and predictive analytics for revenue teams.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

// Trainer fits the conversion-probability model from historical leads.
//
// Usage:
//
//	go run ./cmd/trainer -csv /path/to/leads.csv -out model.json
//
// The CSV needs a header row using lead field names (job_title, company_size,
// website_visits, status, ...). Leads with status closed_won are positives,
// closed_lost negatives. The written artifact can be loaded with
// KESTREL_MODEL_PATH or uploaded with PUT /model.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/predict"
	"github.com/opensource-finance/kestrel/internal/scoring"
)

func main() {
	csvPath := flag.String("csv", "", "Path to the historical leads CSV")
	outPath := flag.String("out", "model.json", "Where to write the model artifact")
	rulesetPath := flag.String("ruleset", "", "Ruleset (YAML or JSON) used for the composite score feature")
	version := flag.String("version", "", "Model version (default logistic-v1)")
	lambda := flag.Float64("lambda", predict.DefaultFitOptions().Lambda, "Ridge penalty on standardized coefficients")
	holdout := flag.Int("holdout", 20, "Percent of rows held out for evaluation (0-50)")
	threshold := flag.Float64("threshold", 0.5, "Decision threshold for the confusion matrix")
	limit := flag.Int("limit", 0, "Maximum rows to read (0 = all)")
	includeOpen := flag.Bool("include-open", false, "Count open leads as not converted")
	refDate := flag.String("ref", "", "Reference date for recency (RFC 3339, default now)")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: trainer -csv /path/to/leads.csv [-out model.json]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *holdout < 0 || *holdout > 50 {
		fmt.Println("ERROR: -holdout must be between 0 and 50")
		os.Exit(1)
	}

	ref := time.Now().UTC()
	if *refDate != "" {
		t, err := time.Parse(time.RFC3339, *refDate)
		if err != nil {
			fmt.Printf("ERROR: invalid -ref: %v\n", err)
			os.Exit(1)
		}
		ref = t
	}

	rs := domain.DefaultRuleset()
	if *rulesetPath != "" {
		loaded, err := scoring.LoadRuleset(*rulesetPath)
		if err != nil {
			fmt.Printf("ERROR: failed to load ruleset: %v\n", err)
			os.Exit(1)
		}
		rs = *loaded
	}

	fmt.Println("KESTREL TRAINER - conversion model")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Ruleset:     %s\n", rs.Version)
	fmt.Printf("Holdout:     %d%%\n", *holdout)
	fmt.Printf("Reference:   %s\n", ref.Format(time.RFC3339))
	fmt.Println()

	records, err := loadCSV(*csvPath, *limit)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	ds, err := buildDataset(records, rs, ref, *holdout, *includeOpen)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Loaded %d rows\n", ds.Rows)
	fmt.Printf("  - Missing id:  %d\n", ds.Skipped)
	fmt.Printf("  - Open:        %d\n", ds.Open)
	fmt.Printf("  - Converted:   %d\n", ds.Converted)
	fmt.Printf("  - Train:       %d\n", len(ds.Train))
	fmt.Printf("  - Holdout:     %d\n", len(ds.Holdout))

	opts := predict.DefaultFitOptions()
	opts.Lambda = *lambda
	if *version != "" {
		opts.Version = *version
	}

	start := time.Now()
	model, err := train(ds, opts, *threshold)
	if err != nil {
		fmt.Printf("ERROR: training failed: %v\n", err)
		os.Exit(1)
	}
	printResults(model, time.Since(start))

	if err := predict.SaveModel(*outPath, model); err != nil {
		fmt.Printf("ERROR: failed to write model: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nModel written to %s\n", *outPath)
}

func printResults(model *domain.ModelArtifact, duration time.Duration) {
	m := model.Metrics

	fmt.Println("\nRESULTS")
	fmt.Printf("   Version:       %s\n", model.Version)
	fmt.Printf("   Features:      %d\n", len(model.Features))
	fmt.Printf("   Fit time:      %v\n", duration.Round(time.Millisecond))

	fmt.Printf("\nCONFUSION MATRIX (n=%d)\n", m.N)
	fmt.Println("                    Predicted")
	fmt.Println("                 Won       Not won")
	fmt.Printf("   Actual Won     %-9d %-9d\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("   Actual Lost    %-9d %-9d\n", m.FalsePositives, m.TrueNegatives)

	f1 := 0.0
	if m.Precision+m.Recall > 0 {
		f1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	fmt.Printf("\nMETRICS\n")
	fmt.Printf("   Accuracy:      %.4f\n", m.Accuracy)
	fmt.Printf("   Precision:     %.4f\n", m.Precision)
	fmt.Printf("   Recall:        %.4f\n", m.Recall)
	fmt.Printf("   F1:            %.4f\n", f1)
	fmt.Printf("   Log loss:      %.4f\n", m.LogLoss)
}
