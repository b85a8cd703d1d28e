package domain

import "time"

// SegmentRule tags scored leads whose CEL expression evaluates to true.
type SegmentRule struct {
	ID          string `json:"id"`
	TenantID    string `json:"tenantId"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Version     string `json:"version"`

	// Tag is attached to the lead result when Expression matches.
	Tag string `json:"tag" validate:"required"`

	// Expression must evaluate to bool.
	Expression string `json:"expression" validate:"required"`

	// Priority orders tags on the lead result (higher first).
	Priority int `json:"priority"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
}

// SegmentResult is the evaluation of one segment rule against one lead.
type SegmentResult struct {
	RuleID    string `json:"ruleId"`
	Tag       string `json:"tag"`
	Matched   bool   `json:"matched"`
	Error     string `json:"error,omitempty"`
	ProcessUs int64  `json:"processUs"`
}
