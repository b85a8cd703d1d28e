package predict

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestBuildVector(t *testing.T) {
	rs := domain.DefaultRuleset()
	f := domain.LeadFeatures{
		LeadID:                "lead-1",
		JobTitle:              "vp sales",
		CompanySize:           250,
		CompanySizeKnown:      true,
		Industry:              "fintech",
		WebsiteVisits:         4,
		EmailClicks:           2,
		DaysSinceLastActivity: 3,
		HasActivity:           true,
		Source:                "webinar",
	}
	v := BuildVector(f, rs)

	if v[FeatureWebsiteVisits] != 4 || v[FeatureEmailClicks] != 2 {
		t.Errorf("unexpected counters: %v", v)
	}
	if v["source=webinar"] != 1 || v["industry=fintech"] != 1 || v["tier=senior"] != 1 {
		t.Errorf("expected one-hot encodings, got %v", v)
	}
	if v[FeatureHasActivity] != 1 || v[FeatureRecency] != 3 {
		t.Errorf("unexpected recency encoding: %v", v)
	}
	if math.Abs(v[FeatureCompanySize]-math.Log1p(250)) > 1e-12 {
		t.Errorf("unexpected company size encoding %v", v[FeatureCompanySize])
	}
	if v[FeatureComposite] <= 0 {
		t.Errorf("expected composite score, got %v", v[FeatureComposite])
	}

	t.Run("NoActivityIsBounded", func(t *testing.T) {
		v := BuildVector(domain.LeadFeatures{DaysSinceLastActivity: domain.NoActivityDays, JobTitle: domain.Unclassified}, rs)
		if v[FeatureRecency] != float64(rs.Temporal.StalenessDays+1) {
			t.Errorf("expected bounded recency, got %v", v[FeatureRecency])
		}
		if v["tier=unclassified"] != 1 || v["source=unknown"] != 1 {
			t.Errorf("expected default categories, got %v", v.Names())
		}
	})
}

func TestPredict(t *testing.T) {
	model := &domain.ModelArtifact{
		Version:      "test-v1",
		Kind:         domain.ModelKindLogistic,
		Intercept:    0,
		Features:     []string{"a"},
		Coefficients: map[string]float64{"a": 1},
		Means:        map[string]float64{"a": 0},
		Scales:       map[string]float64{"a": 1},
	}

	t.Run("PointEstimate", func(t *testing.T) {
		p, err := Predict(model, Vector{"a": 0})
		if err != nil {
			t.Fatalf("Predict failed: %v", err)
		}
		if p.Probability != 0.5 {
			t.Errorf("expected 0.5, got %v", p.Probability)
		}
		if p.Confidence != nil {
			t.Error("expected nil confidence without covariance")
		}
		if p.ModelVersion != "test-v1" {
			t.Errorf("expected model version, got %s", p.ModelVersion)
		}
	})

	t.Run("DeltaMethodInterval", func(t *testing.T) {
		withCov := *model
		withCov.Covariance = [][]float64{{0.04, 0}, {0, 0.01}}
		p, err := Predict(&withCov, Vector{"a": 0})
		if err != nil {
			t.Fatalf("Predict failed: %v", err)
		}
		if p.Confidence == nil {
			t.Fatal("expected confidence interval")
		}
		if math.Abs(p.Confidence.StdErr-0.2) > 1e-12 {
			t.Errorf("expected stderr 0.2, got %v", p.Confidence.StdErr)
		}
		if !(p.Confidence.Lower < 0.5 && p.Confidence.Upper > 0.5) {
			t.Errorf("expected interval around 0.5, got %+v", p.Confidence)
		}
		if math.Abs(p.Confidence.Lower+p.Confidence.Upper-1) > 1e-12 {
			t.Error("expected interval symmetric on the probability scale at logit 0")
		}
	})

	t.Run("BoundedProbability", func(t *testing.T) {
		for _, a := range []float64{-1000, -5, 5, 1000} {
			p, _ := Predict(model, Vector{"a": a})
			if p.Probability < 0 || p.Probability > 1 || math.IsNaN(p.Probability) {
				t.Errorf("a=%v: probability out of range %v", a, p.Probability)
			}
		}
	})

	t.Run("ModelUnavailable", func(t *testing.T) {
		_, err := Predict(nil, Vector{})
		if !domain.IsModelUnavailable(err) {
			t.Errorf("expected ModelUnavailableError, got %v", err)
		}
	})

	t.Run("BatchFallback", func(t *testing.T) {
		leads := []domain.LeadFeatures{
			{LeadID: "a", Status: domain.StatusClosedWon},
			{LeadID: "b", Status: domain.StatusNew},
			{LeadID: "c", Status: domain.StatusClosedLost},
			{LeadID: "d", Status: domain.StatusNew},
		}
		preds, fallback := PredictBatch(nil, leads, domain.DefaultRuleset())
		if !fallback {
			t.Error("expected fallback flag")
		}
		for _, p := range preds {
			if p.Probability != 0.25 || !p.Fallback || p.Confidence != nil {
				t.Errorf("unexpected fallback prediction %+v", p)
			}
		}
		if preds[2].LeadID != "c" {
			t.Errorf("expected lead ids preserved, got %s", preds[2].LeadID)
		}
	})
}

func trainingSamples() []Sample {
	samples := make([]Sample, 0, 40)
	for i := 0; i < 40; i++ {
		converted := i >= 20
		if i == 18 {
			converted = true
		}
		if i == 22 {
			converted = false
		}
		samples = append(samples, Sample{
			Vector:    Vector{"x": float64(i), "noise": float64(i % 3)},
			Converted: converted,
		})
	}
	return samples
}

func TestFit(t *testing.T) {
	samples := trainingSamples()

	model, err := Fit(samples, DefaultFitOptions())
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if model.Kind != domain.ModelKindLogistic || model.Version != "logistic-v1" {
		t.Errorf("unexpected artifact header: %s %s", model.Kind, model.Version)
	}
	if len(model.Features) != 2 || model.Features[0] != "noise" || model.Features[1] != "x" {
		t.Errorf("expected sorted features, got %v", model.Features)
	}
	if model.Coefficients["x"] <= 0 {
		t.Errorf("expected positive coefficient on x, got %v", model.Coefficients["x"])
	}
	if len(model.Covariance) != 3 || len(model.Covariance[0]) != 3 {
		t.Fatalf("expected 3x3 covariance, got %v", model.Covariance)
	}
	for i := range model.Covariance {
		if model.Covariance[i][i] <= 0 {
			t.Errorf("expected positive variance at %d, got %v", i, model.Covariance[i][i])
		}
	}

	metrics, err := Evaluate(model, samples, 0.5)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if metrics.Accuracy < 0.85 {
		t.Errorf("expected accuracy >= 0.85, got %v", metrics.Accuracy)
	}
	if metrics.TruePositives+metrics.FalsePositives+metrics.TrueNegatives+metrics.FalseNegatives != len(samples) {
		t.Error("confusion matrix does not add up")
	}

	low, _ := Predict(model, Vector{"x": 2, "noise": 1})
	high, _ := Predict(model, Vector{"x": 37, "noise": 1})
	if !(low.Probability < 0.5 && high.Probability > 0.5) {
		t.Errorf("expected separation, got %v / %v", low.Probability, high.Probability)
	}
	if high.Confidence == nil {
		t.Error("expected interval from fitted covariance")
	}

	t.Run("SingleClass", func(t *testing.T) {
		_, err := Fit([]Sample{{Vector: Vector{"x": 1}}, {Vector: Vector{"x": 2}}}, DefaultFitOptions())
		if !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("TooFewSamples", func(t *testing.T) {
		_, err := Fit([]Sample{{Vector: Vector{"x": 1}, Converted: true}}, DefaultFitOptions())
		if !domain.IsInsufficientData(err) {
			t.Errorf("expected InsufficientDataError, got %v", err)
		}
	})
}

func TestForecastRevenue(t *testing.T) {
	t.Run("LinearTrend", func(t *testing.T) {
		series := make([]float64, 12)
		for i := range series {
			series[i] = 100 + 10*float64(i)
		}
		series[5] += 3
		series[6] -= 3

		f, err := ForecastRevenue(series, 3, ForecastOptions{})
		if err != nil {
			t.Fatalf("ForecastRevenue failed: %v", err)
		}
		if f.Fallback || len(f.Points) != 3 {
			t.Fatalf("unexpected forecast %+v", f)
		}
		if math.Abs(f.Points[0].Value-220) > 2 {
			t.Errorf("expected ~220, got %v", f.Points[0].Value)
		}
		w0 := f.Points[0].Interval.Upper - f.Points[0].Interval.Lower
		w2 := f.Points[2].Interval.Upper - f.Points[2].Interval.Lower
		if w2 <= w0 {
			t.Errorf("expected interval to widen with horizon: %v then %v", w0, w2)
		}
	})

	t.Run("Seasonal", func(t *testing.T) {
		season := []float64{5, -5, 10, -10}
		series := make([]float64, 12)
		for i := range series {
			series[i] = 100 + 10*float64(i) + season[i%4]
		}
		f, err := ForecastRevenue(series, 4, ForecastOptions{SeasonLength: 4})
		if err != nil {
			t.Fatalf("ForecastRevenue failed: %v", err)
		}
		if len(f.Seasonal) != 4 {
			t.Fatalf("expected 4 seasonal indices, got %v", f.Seasonal)
		}
		for h, p := range f.Points {
			x := 12 + h
			want := 100 + 10*float64(x) + season[x%4]
			if math.Abs(p.Value-want) > 1.5 {
				t.Errorf("step %d: expected ~%v, got %v", p.Step, want, p.Value)
			}
		}
	})

	t.Run("SeasonNeedsTwoCycles", func(t *testing.T) {
		f, _ := ForecastRevenue([]float64{1, 2, 3, 4, 5}, 1, ForecastOptions{SeasonLength: 4})
		if f.Seasonal != nil || f.Reason == "" {
			t.Errorf("expected seasonal adjustment skipped with reason, got %+v", f)
		}
	})

	t.Run("ShortSeriesFallback", func(t *testing.T) {
		f, err := ForecastRevenue([]float64{100, 200}, 2, ForecastOptions{})
		if err != nil {
			t.Fatalf("ForecastRevenue failed: %v", err)
		}
		if !f.Fallback || f.Points[1].Value != 150 || f.Points[1].Interval != nil {
			t.Errorf("expected mean fallback without interval, got %+v", f)
		}
	})

	t.Run("EmptySeries", func(t *testing.T) {
		f, _ := ForecastRevenue(nil, 1, ForecastOptions{})
		if !f.Fallback || f.Points[0].Value != 0 {
			t.Errorf("expected zero fallback, got %+v", f)
		}
	})

	t.Run("FlooredAtZero", func(t *testing.T) {
		f, _ := ForecastRevenue([]float64{30, 20, 10}, 2, ForecastOptions{})
		for _, p := range f.Points {
			if p.Value < 0 || p.Interval.Lower < 0 {
				t.Errorf("expected non-negative forecast, got %+v", p)
			}
		}
	})

	t.Run("NegativeHorizon", func(t *testing.T) {
		if _, err := ForecastRevenue([]float64{1, 2, 3}, -1, ForecastOptions{}); !errors.Is(err, domain.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestEstimateCLV(t *testing.T) {
	opts := CLVOptions{DefaultDealValue: 1000, DefaultRetention: 0.6, DiscountRate: 0.1, GrossMargin: 0.5}

	t.Run("Observed", func(t *testing.T) {
		r := 0.5
		est := EstimateCLV([]float64{1000, 3000, 0}, &r, opts)
		want := 0.5 * 2000 * 1.1 / 0.6
		if math.Abs(est.Value-want) > 1e-9 {
			t.Errorf("expected %v, got %v", want, est.Value)
		}
		if est.Fallback {
			t.Error("expected no fallback")
		}
	})

	t.Run("Fallback", func(t *testing.T) {
		est := EstimateCLV(nil, nil, opts)
		if !est.Fallback || len(est.Reasons) != 2 {
			t.Errorf("expected flagged fallback, got %+v", est)
		}
		want := 0.5 * 1000 * 1.1 / (1.1 - 0.6)
		if math.Abs(est.Value-want) > 1e-9 {
			t.Errorf("expected %v, got %v", want, est.Value)
		}
	})

	t.Run("RetentionClamped", func(t *testing.T) {
		r := 1.5
		est := EstimateCLV([]float64{100}, &r, CLVOptions{})
		if est.Retention != maxRetention {
			t.Errorf("expected retention clamped to %v, got %v", maxRetention, est.Retention)
		}
		if math.IsInf(est.Value, 0) || est.Value <= 0 {
			t.Errorf("expected finite positive CLV, got %v", est.Value)
		}
	})
}

func TestValidateModel(t *testing.T) {
	model, err := Fit(trainingSamples(), DefaultFitOptions())
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if err := ValidateModel(model); err != nil {
		t.Fatalf("expected fitted model to validate, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(m *domain.ModelArtifact)
	}{
		{"WrongKind", func(m *domain.ModelArtifact) { m.Kind = "tree" }},
		{"NoFeatures", func(m *domain.ModelArtifact) { m.Features = nil }},
		{"MissingCoefficient", func(m *domain.ModelArtifact) { delete(m.Coefficients, "x") }},
		{"NegativeScale", func(m *domain.ModelArtifact) { m.Scales["x"] = -1 }},
		{"CovarianceShape", func(m *domain.ModelArtifact) { m.Covariance = m.Covariance[:2] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := Fit(trainingSamples(), DefaultFitOptions())
			tt.mutate(m)
			if err := ValidateModel(m); !errors.Is(err, domain.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	if err := ValidateModel(nil); err == nil {
		t.Error("expected error for nil model")
	}
}

func TestModelFile(t *testing.T) {
	model, err := Fit(trainingSamples(), DefaultFitOptions())
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	path := filepath.Join(t.TempDir(), "model.json")
	if err := SaveModel(path, model); err != nil {
		t.Fatalf("SaveModel failed: %v", err)
	}

	loaded, err := LoadModel(path)
	if err != nil {
		t.Fatalf("LoadModel failed: %v", err)
	}
	want, _ := Predict(model, Vector{"x": 30, "noise": 2})
	got, _ := Predict(loaded, Vector{"x": 30, "noise": 2})
	if math.Abs(want.Probability-got.Probability) > 1e-12 {
		t.Errorf("expected identical predictions, got %v and %v", want.Probability, got.Probability)
	}

	if _, err := LoadModel(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
