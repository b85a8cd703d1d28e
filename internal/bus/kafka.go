package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/segmentio/kafka-go"
)

// KafkaBus implements EventBus using Kafka topics. The tenant travels as the
// message key, so one tenant's events stay ordered within a partition.
type KafkaBus struct {
	mu      sync.Mutex
	brokers []string
	groupID string
	writers map[string]*kafka.Writer
	subs    map[string]*kafkaSubscription
	closed  bool
	log     *slog.Logger
}

type kafkaSubscription struct {
	id     string
	topic  string
	reader *kafka.Reader
	cancel context.CancelFunc
	done   chan struct{}
}

// NewKafkaBus creates a Kafka-backed event bus.
func NewKafkaBus(cfg domain.EventBusConfig) (*KafkaBus, error) {
	if len(cfg.KafkaBrokers) == 0 {
		return nil, fmt.Errorf("kafka bus requires at least one broker")
	}
	group := cfg.KafkaGroupID
	if group == "" {
		group = "kestrel"
	}
	return &KafkaBus{
		brokers: cfg.KafkaBrokers,
		groupID: group,
		writers: make(map[string]*kafka.Writer),
		subs:    make(map[string]*kafkaSubscription),
		log:     slog.Default().With(slog.String("component", "kafka-bus")),
	}, nil
}

// Publish writes a message to the topic, keyed by tenant.
func (b *KafkaBus) Publish(ctx context.Context, tenantID string, topic string, payload []byte) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}

	w, err := b.writer(topic)
	if err != nil {
		return err
	}

	data, err := json.Marshal(newMessage(tenantID, topic, payload))
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(tenantID), Value: data})
}

// Subscribe starts a consumer for the topic. AllTenants subscribers share one
// consumer group so each message is handled once across nodes; a tenant
// subscription reads with its own group and skips other tenants' messages.
func (b *KafkaBus) Subscribe(ctx context.Context, tenantID string, topic string, handler domain.MessageHandler) (domain.Subscription, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenantID is required")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &kafkaSubscription{
		id:     uuid.New().String(),
		topic:  topic,
		reader: kafka.NewReader(b.readerConfig(tenantID, topic)),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	b.subs[sub.id] = sub

	go b.consume(subCtx, sub, tenantID, handler)
	return sub, nil
}

func (b *KafkaBus) consume(ctx context.Context, sub *kafkaSubscription, tenantID string, handler domain.MessageHandler) {
	defer close(sub.done)
	for {
		m, err := sub.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			b.log.Error("kafka read failed", "topic", sub.topic, "error", err)
			time.Sleep(time.Second)
			continue
		}

		msg, ok := decode(m, tenantID)
		if !ok {
			continue
		}
		if err := handler(ctx, msg); err != nil {
			b.log.Error("handler error",
				"topic", sub.topic,
				"message_id", msg.ID,
				"error", err,
			)
		}
	}
}

// decode unwraps the envelope and reports whether the subscription for
// tenantID should see it.
func decode(m kafka.Message, tenantID string) (*domain.Message, bool) {
	var msg domain.Message
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		slog.Error("failed to unmarshal kafka message", "topic", m.Topic, "error", err)
		return nil, false
	}
	if msg.TenantID == "" {
		msg.TenantID = string(m.Key)
	}
	if tenantID != domain.AllTenants && msg.TenantID != tenantID {
		return nil, false
	}
	return &msg, true
}

func (b *KafkaBus) readerConfig(tenantID, topic string) kafka.ReaderConfig {
	group := b.groupID
	if tenantID != domain.AllTenants {
		group = b.groupID + "-" + tenantID
	}
	return kafka.ReaderConfig{
		Brokers:  b.brokers,
		GroupID:  group,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	}
}

func (b *KafkaBus) writer(topic string) (*kafka.Writer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("bus is closed")
	}
	if w, ok := b.writers[topic]; ok {
		return w, nil
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(b.brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	b.writers[topic] = w
	return w, nil
}

// Ping dials the first reachable broker.
func (b *KafkaBus) Ping(ctx context.Context) error {
	var lastErr error
	for _, broker := range b.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		return conn.Close()
	}
	return fmt.Errorf("no kafka broker reachable: %w", lastErr)
}

// Close stops every consumer and flushes the writers.
func (b *KafkaBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	writers := b.writers
	b.subs = make(map[string]*kafkaSubscription)
	b.writers = make(map[string]*kafka.Writer)
	b.mu.Unlock()

	var errs []error
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, w := range writers {
		if err := w.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Unsubscribe stops the consumer and waits for it to exit.
func (s *kafkaSubscription) Unsubscribe() error {
	s.cancel()
	<-s.done
	return s.reader.Close()
}

// Topic returns the subscribed topic.
func (s *kafkaSubscription) Topic() string {
	return s.topic
}
