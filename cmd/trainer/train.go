package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/features"
	"github.com/opensource-finance/kestrel/internal/predict"
)

// Dataset is the labelled training data split into fit and holdout parts.
type Dataset struct {
	Train   []predict.Sample
	Holdout []predict.Sample

	Rows      int
	Skipped   int
	Open      int
	Converted int
}

// readLeadsCSV reads a CSV export with a header row. Column names are lowered
// and become lead record fields; empty cells are left out.
func readLeadsCSV(r io.Reader, limit int) ([]domain.LeadRecord, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, col := range header {
		header[i] = strings.ToLower(strings.TrimSpace(col))
	}

	var records []domain.LeadRecord
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		record := make(domain.LeadRecord, len(header))
		for i, value := range row {
			if i < len(header) && value != "" {
				record[header[i]] = value
			}
		}
		records = append(records, record)

		if limit > 0 && len(records) >= limit {
			break
		}
	}
	return records, nil
}

// buildDataset labels every lead by whether it closed as won. Open leads carry
// no outcome and are skipped unless includeOpen counts them as not converted.
// holdoutPct percent of rows, spread evenly over the input, go to the holdout split.
func buildDataset(records []domain.LeadRecord, rs domain.Ruleset, ref time.Time, holdoutPct int, includeOpen bool) (*Dataset, error) {
	extractions, err := features.ExtractBatch(records, ref)
	if err != nil {
		return nil, err
	}

	ds := &Dataset{Rows: len(records)}
	for i, x := range extractions {
		if x.Err != nil {
			ds.Skipped++
			continue
		}
		f := x.Features
		closed := f.Converted() || f.Lost()
		if !closed {
			ds.Open++
			if !includeOpen {
				continue
			}
		}

		sample := predict.Sample{Vector: predict.BuildVector(f, rs), Converted: f.Converted()}
		if sample.Converted {
			ds.Converted++
		}
		if holdoutPct > 0 && (i*holdoutPct)/100 != ((i+1)*holdoutPct)/100 {
			ds.Holdout = append(ds.Holdout, sample)
			continue
		}
		ds.Train = append(ds.Train, sample)
	}
	return ds, nil
}

// train fits the model and records holdout metrics on it. Without a holdout
// the metrics are measured on the training data.
func train(ds *Dataset, opts predict.FitOptions, threshold float64) (*domain.ModelArtifact, error) {
	model, err := predict.Fit(ds.Train, opts)
	if err != nil {
		return nil, err
	}

	eval := ds.Holdout
	if len(eval) == 0 {
		eval = ds.Train
	}
	metrics, err := predict.Evaluate(model, eval, threshold)
	if err != nil {
		return nil, err
	}
	model.Metrics = &metrics
	return model, nil
}

func loadCSV(path string, limit int) ([]domain.LeadRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return readLeadsCSV(file, limit)
}
