package predict

import (
	"fmt"
	"math"

	"github.com/opensource-finance/kestrel/internal/domain"
	"gonum.org/v1/gonum/mat"
)

// z95 is the two-sided standard normal critical value at 95%.
const z95 = 1.959963984540054

// conversionModel names the model in ModelUnavailableError.
const conversionModel = "conversion"

// Predict returns the conversion probability of one vector. When the model
// carries a covariance matrix a 95% interval is derived by the delta method
// on the logit; otherwise Confidence stays nil.
func Predict(model *domain.ModelArtifact, v Vector) (domain.ConversionPrediction, error) {
	if model == nil {
		return domain.ConversionPrediction{}, &domain.ModelUnavailableError{Model: conversionModel}
	}

	z := standardize(model, v)
	logit := model.Intercept
	for i, name := range model.Features {
		logit += model.Coefficients[name] * z[i+1]
	}

	out := domain.ConversionPrediction{
		Probability:  sigmoid(logit),
		ModelVersion: model.Version,
	}

	k := len(model.Features) + 1
	if len(model.Covariance) == k {
		cov := mat.NewDense(k, k, nil)
		for i, row := range model.Covariance {
			if len(row) != k {
				return out, nil
			}
			cov.SetRow(i, row)
		}
		g := mat.NewVecDense(k, z)
		variance := mat.Inner(g, cov, g)
		if variance >= 0 && !math.IsNaN(variance) {
			se := math.Sqrt(variance)
			out.Confidence = &domain.Interval{
				Level:  0.95,
				Lower:  sigmoid(logit - z95*se),
				Upper:  sigmoid(logit + z95*se),
				StdErr: se,
			}
		}
	}
	return out, nil
}

// PredictBatch scores every lead. Without a model it falls back to the batch's
// observed closed-won rate and flags every prediction; the returned bool
// reports the fallback.
func PredictBatch(model *domain.ModelArtifact, leads []domain.LeadFeatures, rs domain.Ruleset) ([]domain.ConversionPrediction, bool) {
	out := make([]domain.ConversionPrediction, len(leads))
	if model == nil {
		rate := BaseRate(leads)
		for i, f := range leads {
			out[i] = domain.ConversionPrediction{LeadID: f.LeadID, Probability: rate, Fallback: true}
		}
		return out, true
	}
	for i, f := range leads {
		p, _ := Predict(model, BuildVector(f, rs))
		p.LeadID = f.LeadID
		out[i] = p
	}
	return out, false
}

// BaseRate is the closed-won share of the leads, 0 for an empty batch.
func BaseRate(leads []domain.LeadFeatures) float64 {
	if len(leads) == 0 {
		return 0
	}
	won := 0
	for i := range leads {
		if leads[i].Converted() {
			won++
		}
	}
	return float64(won) / float64(len(leads))
}

// standardize returns [1, z_1..z_k] in model feature order.
func standardize(model *domain.ModelArtifact, v Vector) []float64 {
	z := make([]float64, len(model.Features)+1)
	z[0] = 1
	for i, name := range model.Features {
		scale := model.Scales[name]
		if scale == 0 {
			scale = 1
		}
		z[i+1] = (v[name] - model.Means[name]) / scale
	}
	return z
}

func sigmoid(x float64) float64 {
	if x >= 0 {
		return 1 / (1 + math.Exp(-x))
	}
	e := math.Exp(x)
	return e / (1 + e)
}

// ValidateModel checks that an artifact is internally consistent: every
// feature carries a coefficient and the covariance, when present, matches the
// coefficient count plus the intercept.
func ValidateModel(model *domain.ModelArtifact) error {
	if model == nil {
		return fmt.Errorf("%w: model is required", domain.ErrInvalidInput)
	}
	if model.Kind != domain.ModelKindLogistic {
		return fmt.Errorf("%w: unsupported model kind %q", domain.ErrInvalidInput, model.Kind)
	}
	if len(model.Features) == 0 {
		return fmt.Errorf("%w: model has no features", domain.ErrInvalidInput)
	}
	for _, name := range model.Features {
		if _, ok := model.Coefficients[name]; !ok {
			return fmt.Errorf("%w: feature %q has no coefficient", domain.ErrInvalidInput, name)
		}
		if s, ok := model.Scales[name]; ok && s < 0 {
			return fmt.Errorf("%w: feature %q has a negative scale", domain.ErrInvalidInput, name)
		}
	}
	if k := len(model.Features) + 1; len(model.Covariance) > 0 {
		if len(model.Covariance) != k {
			return fmt.Errorf("%w: covariance has %d rows, expected %d", domain.ErrInvalidInput, len(model.Covariance), k)
		}
		for _, row := range model.Covariance {
			if len(row) != k {
				return fmt.Errorf("%w: covariance is not %dx%d", domain.ErrInvalidInput, k, k)
			}
		}
	}
	return nil
}
