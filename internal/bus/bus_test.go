package bus

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/segmentio/kafka-go"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		got := make(chan *domain.Message, 1)
		_, err := bus.Subscribe(ctx, tenantID, domain.TopicScoringCompleted, func(ctx context.Context, msg *domain.Message) error {
			got <- msg
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, tenantID, domain.TopicScoringCompleted, []byte(`{"processed":3}`)); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		select {
		case msg := <-got:
			if string(msg.Payload) != `{"processed":3}` {
				t.Errorf("expected summary payload, got '%s'", string(msg.Payload))
			}
			if msg.TenantID != tenantID {
				t.Errorf("expected tenantID '%s', got '%s'", tenantID, msg.TenantID)
			}
			if msg.ID == "" || msg.Timestamp == 0 {
				t.Error("expected message id and timestamp to be set")
			}
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for message")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		var received1, received2 atomic.Int32

		bus.Subscribe(ctx, "tenant-001", domain.TopicLeadHot, func(ctx context.Context, msg *domain.Message) error {
			received1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "tenant-002", domain.TopicLeadHot, func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		bus.Publish(ctx, "tenant-001", domain.TopicLeadHot, []byte("lead-1"))
		waitFor(t, func() bool { return received1.Load() == 1 })
		time.Sleep(20 * time.Millisecond)

		if received2.Load() != 0 {
			t.Errorf("tenant-002 should receive 0 messages, got %d", received2.Load())
		}
	})

	t.Run("AllTenantsReceivesEveryTenant", func(t *testing.T) {
		var count atomic.Int32
		tenants := make(chan string, 4)

		bus.Subscribe(ctx, domain.AllTenants, domain.TopicScoringRequested, func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			tenants <- msg.TenantID
			return nil
		})

		bus.Publish(ctx, "tenant-a", domain.TopicScoringRequested, []byte("{}"))
		bus.Publish(ctx, "tenant-b", domain.TopicScoringRequested, []byte("{}"))
		waitFor(t, func() bool { return count.Load() == 2 })

		seen := map[string]bool{<-tenants: true, <-tenants: true}
		if !seen["tenant-a"] || !seen["tenant-b"] {
			t.Errorf("expected messages from tenant-a and tenant-b, got %v", seen)
		}
	})

	t.Run("RequiresTenantID", func(t *testing.T) {
		if err := bus.Publish(ctx, "", "topic", []byte("data")); err == nil {
			t.Error("expected error for empty tenantID")
		}
		_, err := bus.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if err == nil {
			t.Error("expected error for empty tenantID")
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, tenantID, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, tenantID, "unsub.topic", []byte("msg1"))
		waitFor(t, func() bool { return count.Load() == 1 })

		if err := sub.Unsubscribe(); err != nil {
			t.Fatalf("unsubscribe failed: %v", err)
		}

		bus.Publish(ctx, tenantID, "unsub.topic", []byte("msg2"))
		time.Sleep(30 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("HandlerErrorKeepsSubscription", func(t *testing.T) {
		var count atomic.Int32
		bus.Subscribe(ctx, tenantID, "failing.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return context.DeadlineExceeded
		})

		bus.Publish(ctx, tenantID, "failing.topic", []byte("1"))
		bus.Publish(ctx, tenantID, "failing.topic", []byte("2"))
		waitFor(t, func() bool { return count.Load() == 2 })
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, tenantID, domain.TopicAnalyticsCompleted, func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if sub.Topic() != domain.TopicAnalyticsCompleted {
			t.Errorf("expected topic '%s', got '%s'", domain.TopicAnalyticsCompleted, sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	bus.Subscribe(ctx, "tenant-001", "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}
	if err := bus.Publish(ctx, "tenant-001", "close.topic", []byte("data")); err == nil {
		t.Error("expected error after close")
	}
	if err := bus.Ping(ctx); err == nil {
		t.Error("expected ping error after close")
	}
	_, err := bus.Subscribe(ctx, "tenant-001", "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})
	if err == nil {
		t.Error("expected subscribe error after close")
	}
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()
	var received atomic.Int32
	const messageCount = 100

	bus.Subscribe(ctx, "tenant-load", "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		return nil
	})

	for range messageCount {
		bus.Publish(ctx, "tenant-load", "load.topic", []byte("msg"))
	}

	deadline := time.Now().Add(5 * time.Second)
	for received.Load() < messageCount && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if received.Load() != messageCount {
		t.Fatalf("expected %d messages, got %d", messageCount, received.Load())
	}
}

func TestNewBus(t *testing.T) {
	t.Run("ChannelType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "channel", ChannelBufferSize: 50})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		if _, ok := bus.(*ChannelBus); !ok {
			t.Error("expected ChannelBus for channel type")
		}
	})

	t.Run("KafkaType", func(t *testing.T) {
		bus, err := New(domain.EventBusConfig{Type: "kafka", KafkaBrokers: []string{"localhost:9092"}})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer bus.Close()

		kb, ok := bus.(*KafkaBus)
		if !ok {
			t.Fatal("expected KafkaBus for kafka type")
		}
		if kb.groupID != "kestrel" {
			t.Errorf("expected default group 'kestrel', got '%s'", kb.groupID)
		}
	})

	t.Run("KafkaRequiresBrokers", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error without brokers")
		}
	})

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "amqp"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})
}

func TestKafkaDecode(t *testing.T) {
	envelope, _ := json.Marshal(newMessage("tenant-001", domain.TopicLeadHot, []byte("lead-9")))
	m := kafka.Message{Topic: domain.TopicLeadHot, Key: []byte("tenant-001"), Value: envelope}

	t.Run("MatchingTenant", func(t *testing.T) {
		msg, ok := decode(m, "tenant-001")
		if !ok {
			t.Fatal("expected message to be accepted")
		}
		if string(msg.Payload) != "lead-9" {
			t.Errorf("expected payload 'lead-9', got '%s'", string(msg.Payload))
		}
	})

	t.Run("OtherTenantSkipped", func(t *testing.T) {
		if _, ok := decode(m, "tenant-002"); ok {
			t.Error("expected message for another tenant to be skipped")
		}
	})

	t.Run("AllTenants", func(t *testing.T) {
		if _, ok := decode(m, domain.AllTenants); !ok {
			t.Error("expected AllTenants subscription to accept message")
		}
	})

	t.Run("TenantFromKey", func(t *testing.T) {
		raw := kafka.Message{Key: []byte("tenant-003"), Value: []byte(`{"id":"x","topic":"t"}`)}
		msg, ok := decode(raw, "tenant-003")
		if !ok || msg.TenantID != "tenant-003" {
			t.Errorf("expected tenant from key, got %+v", msg)
		}
	})

	t.Run("Malformed", func(t *testing.T) {
		if _, ok := decode(kafka.Message{Value: []byte("not json")}, domain.AllTenants); ok {
			t.Error("expected malformed message to be dropped")
		}
	})
}

func TestKafkaReaderConfig(t *testing.T) {
	kb, err := NewKafkaBus(domain.EventBusConfig{KafkaBrokers: []string{"b1:9092", "b2:9092"}, KafkaGroupID: "scoring"})
	if err != nil {
		t.Fatalf("NewKafkaBus failed: %v", err)
	}

	shared := kb.readerConfig(domain.AllTenants, domain.TopicScoringRequested)
	if shared.GroupID != "scoring" {
		t.Errorf("expected shared group 'scoring', got '%s'", shared.GroupID)
	}
	own := kb.readerConfig("tenant-001", domain.TopicLeadHot)
	if own.GroupID != "scoring-tenant-001" {
		t.Errorf("expected tenant group 'scoring-tenant-001', got '%s'", own.GroupID)
	}
	if len(own.Brokers) != 2 || own.Topic != domain.TopicLeadHot {
		t.Errorf("unexpected reader config: %+v", own)
	}
}
