package predict

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Sample is one labelled training row.
type Sample struct {
	Vector    Vector
	Converted bool
}

// FitOptions controls logistic regression fitting.
type FitOptions struct {
	Version string
	// Lambda is the ridge penalty on standardized coefficients (not the intercept).
	Lambda  float64
	MaxIter int
	Tol     float64
}

// DefaultFitOptions returns the trainer defaults.
func DefaultFitOptions() FitOptions {
	return FitOptions{Version: "logistic-v1", Lambda: 1, MaxIter: 50, Tol: 1e-8}
}

// ErrNotConverged is returned when IRLS exceeds MaxIter.
var ErrNotConverged = errors.New("logistic regression did not converge")

// Fit trains a ridge-penalized logistic regression by iteratively reweighted
// least squares. The returned artifact carries the inverse Hessian at the
// optimum as coefficient covariance.
func Fit(samples []Sample, opts FitOptions) (*domain.ModelArtifact, error) {
	if len(samples) < 2 {
		return nil, domain.NewInsufficientData("fit", 2, len(samples))
	}
	positives := 0
	for _, s := range samples {
		if s.Converted {
			positives++
		}
	}
	if positives == 0 || positives == len(samples) {
		return nil, fmt.Errorf("%w: training data needs both converted and unconverted leads", domain.ErrInvalidInput)
	}
	if opts.MaxIter <= 0 {
		opts.MaxIter = 50
	}
	if opts.Tol <= 0 {
		opts.Tol = 1e-8
	}
	if opts.Lambda < 0 {
		opts.Lambda = 0
	}

	names := featureNames(samples)
	n, k := len(samples), len(names)+1
	means := make(map[string]float64, len(names))
	scales := make(map[string]float64, len(names))
	column := make([]float64, n)
	for _, name := range names {
		for i, s := range samples {
			column[i] = s.Vector[name]
		}
		mean := stat.Mean(column, nil)
		sd := math.Sqrt(stat.PopVariance(column, nil))
		if sd == 0 || math.IsNaN(sd) {
			sd = 1
		}
		means[name], scales[name] = mean, sd
	}

	x := mat.NewDense(n, k, nil)
	y := mat.NewVecDense(n, nil)
	for i, s := range samples {
		x.Set(i, 0, 1)
		for j, name := range names {
			x.Set(i, j+1, (s.Vector[name]-means[name])/scales[name])
		}
		if s.Converted {
			y.SetVec(i, 1)
		}
	}

	beta := mat.NewVecDense(k, nil)
	var hessian mat.Dense
	converged := false
	for iter := 0; iter < opts.MaxIter; iter++ {
		var eta mat.VecDense
		eta.MulVec(x, beta)

		resid := mat.NewVecDense(n, nil)
		wx := mat.NewDense(n, k, nil)
		for i := 0; i < n; i++ {
			p := sigmoid(eta.AtVec(i))
			resid.SetVec(i, y.AtVec(i)-p)
			w := math.Max(p*(1-p), 1e-10)
			for j := 0; j < k; j++ {
				wx.Set(i, j, w*x.At(i, j))
			}
		}

		var grad mat.VecDense
		grad.MulVec(x.T(), resid)
		hessian.Mul(x.T(), wx)
		for j := 1; j < k; j++ {
			grad.SetVec(j, grad.AtVec(j)-opts.Lambda*beta.AtVec(j))
			hessian.Set(j, j, hessian.At(j, j)+opts.Lambda)
		}

		var step mat.VecDense
		if err := step.SolveVec(&hessian, &grad); err != nil {
			return nil, fmt.Errorf("failed to solve IRLS step: %w", err)
		}
		beta.AddVec(beta, &step)

		if mat.Norm(&step, math.Inf(1)) < opts.Tol {
			converged = true
			break
		}
	}
	if !converged {
		return nil, ErrNotConverged
	}

	var inv mat.Dense
	if err := inv.Inverse(&hessian); err != nil {
		return nil, fmt.Errorf("failed to invert hessian: %w", err)
	}
	covariance := make([][]float64, k)
	for i := range covariance {
		covariance[i] = mat.Row(nil, i, &inv)
	}

	coefficients := make(map[string]float64, len(names))
	for j, name := range names {
		coefficients[name] = beta.AtVec(j + 1)
	}

	version := opts.Version
	if version == "" {
		version = DefaultFitOptions().Version
	}
	return &domain.ModelArtifact{
		Version:      version,
		Kind:         domain.ModelKindLogistic,
		Intercept:    beta.AtVec(0),
		Features:     names,
		Coefficients: coefficients,
		Means:        means,
		Scales:       scales,
		Covariance:   covariance,
		TrainedAt:    time.Now().UTC(),
	}, nil
}

// Evaluate scores labelled samples against a model at the given decision threshold.
func Evaluate(model *domain.ModelArtifact, samples []Sample, threshold float64) (domain.ModelMetrics, error) {
	if model == nil {
		return domain.ModelMetrics{}, &domain.ModelUnavailableError{Model: conversionModel}
	}
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.5
	}
	m := domain.ModelMetrics{N: len(samples)}
	for _, s := range samples {
		pred, err := Predict(model, s.Vector)
		if err != nil {
			return m, err
		}
		p := math.Min(math.Max(pred.Probability, 1e-15), 1-1e-15)
		positive := pred.Probability >= threshold
		switch {
		case positive && s.Converted:
			m.TruePositives++
		case positive && !s.Converted:
			m.FalsePositives++
		case !positive && s.Converted:
			m.FalseNegatives++
		default:
			m.TrueNegatives++
		}
		if s.Converted {
			m.LogLoss -= math.Log(p)
		} else {
			m.LogLoss -= math.Log(1 - p)
		}
	}
	if m.N > 0 {
		m.LogLoss /= float64(m.N)
		m.Accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(m.N)
	}
	if d := m.TruePositives + m.FalsePositives; d > 0 {
		m.Precision = float64(m.TruePositives) / float64(d)
	}
	if d := m.TruePositives + m.FalseNegatives; d > 0 {
		m.Recall = float64(m.TruePositives) / float64(d)
	}
	return m, nil
}

func featureNames(samples []Sample) []string {
	set := make(map[string]struct{})
	for _, s := range samples {
		for name := range s.Vector {
			set[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
