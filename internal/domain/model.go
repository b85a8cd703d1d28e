package domain

import "time"

// ModelKindLogistic is the only supported conversion model family.
const ModelKindLogistic = "logistic"

// ModelArtifact is a trained conversion-probability model.
// Features fixes the coefficient order used by Covariance, whose first row and
// column belong to the intercept.
type ModelArtifact struct {
	ID           string             `json:"id"`
	TenantID     string             `json:"tenantId,omitempty"`
	Version      string             `json:"version" validate:"required"`
	Kind         string             `json:"kind" validate:"required,eq=logistic"`
	Intercept    float64            `json:"intercept"`
	Features     []string           `json:"features" validate:"required,min=1"`
	Coefficients map[string]float64 `json:"coefficients" validate:"required"`
	Means        map[string]float64 `json:"means,omitempty"`
	Scales       map[string]float64 `json:"scales,omitempty"`
	Covariance   [][]float64        `json:"covariance,omitempty"`
	Metrics      *ModelMetrics      `json:"metrics,omitempty"`
	TrainedAt    time.Time          `json:"trainedAt"`
}

// ModelMetrics is the holdout evaluation recorded at training time.
type ModelMetrics struct {
	N              int     `json:"n"`
	Accuracy       float64 `json:"accuracy"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	LogLoss        float64 `json:"logLoss"`
	TruePositives  int     `json:"tp"`
	FalsePositives int     `json:"fp"`
	TrueNegatives  int     `json:"tn"`
	FalseNegatives int     `json:"fn"`
}
