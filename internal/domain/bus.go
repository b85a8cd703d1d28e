package domain

import (
	"context"
	"time"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community), NATS or Kafka (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AllTenants subscribes a handler to a topic for every tenant.
// Workers use it; publishers always name a concrete tenant.
const AllTenants = "_global"

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel", "nats" or "kafka"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds

	// Kafka settings (Pro tier)
	KafkaBrokers []string
	KafkaGroupID string
}

// Standard topic names for the scoring workflow.
const (
	TopicScoringRequested   = "kestrel.scoring.requested"
	TopicScoringCompleted   = "kestrel.scoring.completed"
	TopicLeadHot            = "kestrel.lead.hot"
	TopicAnalyticsRequested = "kestrel.analytics.requested"
	TopicAnalyticsCompleted = "kestrel.analytics.completed"
)

// ScoringRequest asks a worker to run a store-backed scoring pass.
type ScoringRequest struct {
	RunID    string    `json:"runId"`
	TenantID string    `json:"tenantId"`
	Since    time.Time `json:"since"`
}

// AnalyticsRequest asks a worker to run analytics over the tenant's leads.
type AnalyticsRequest struct {
	ReportID   string              `json:"reportId"`
	TenantID   string              `json:"tenantId"`
	Parameters AnalyticsParameters `json:"parameters"`
}

// HotLeadEvent is published for every lead that scores hot in a run.
// The external workflow layer decides whether to notify anyone.
type HotLeadEvent struct {
	RunID       string      `json:"runId"`
	TenantID    string      `json:"tenantId"`
	LeadID      string      `json:"leadId"`
	Composite   float64     `json:"composite"`
	Temperature Temperature `json:"temperature"`
	Segments    []string    `json:"segments,omitempty"`
}

// AnalyticsCompletedEvent announces a stored analytics report.
type AnalyticsCompletedEvent struct {
	ReportID string   `json:"reportId"`
	TenantID string   `json:"tenantId"`
	State    RunState `json:"state"`
}
