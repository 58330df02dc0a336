package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kestrel-noc/kestrel/internal/domain"
)

func waitFor(t *testing.T, wg *sync.WaitGroup) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestChannelBus(t *testing.T) {
	bus := NewChannelBus(100)
	defer bus.Close()

	ctx := context.Background()
	scope := "Casablanca"

	t.Run("PublishAndSubscribe", func(t *testing.T) {
		var receivedMsg *domain.Message
		var wg sync.WaitGroup
		wg.Add(1)

		_, err := bus.Subscribe(ctx, scope, domain.TopicSynthesisCompleted, func(ctx context.Context, msg *domain.Message) error {
			receivedMsg = msg
			wg.Done()
			return nil
		})
		if err != nil {
			t.Fatalf("subscribe failed: %v", err)
		}

		if err := bus.Publish(ctx, scope, domain.TopicSynthesisCompleted, []byte("hello")); err != nil {
			t.Fatalf("publish failed: %v", err)
		}

		waitFor(t, &wg)

		if string(receivedMsg.Payload) != "hello" {
			t.Errorf("expected payload 'hello', got '%s'", string(receivedMsg.Payload))
		}
		if receivedMsg.Scope != scope {
			t.Errorf("expected scope '%s', got '%s'", scope, receivedMsg.Scope)
		}
		if receivedMsg.ID == "" || receivedMsg.Timestamp == 0 {
			t.Error("expected message envelope to carry ID and timestamp")
		}
	})

	t.Run("ScopeIsolation", func(t *testing.T) {
		var received1, received2 atomic.Int32

		bus.Subscribe(ctx, "Rabat", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, "Tanger", "isolation.topic", func(ctx context.Context, msg *domain.Message) error {
			received2.Add(1)
			return nil
		})

		bus.Publish(ctx, "Rabat", "isolation.topic", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if received1.Load() != 1 {
			t.Errorf("Rabat should receive 1 message, got %d", received1.Load())
		}
		if received2.Load() != 0 {
			t.Errorf("Tanger should receive 0 messages, got %d", received2.Load())
		}
	})

	t.Run("AnyScopeReceivesEveryCity", func(t *testing.T) {
		scopes := make(chan string, 4)
		bus.Subscribe(ctx, domain.AnyScope, "any.topic", func(ctx context.Context, msg *domain.Message) error {
			scopes <- msg.Scope
			return nil
		})

		bus.Publish(ctx, "Rabat", "any.topic", []byte("a"))
		bus.Publish(ctx, "Tanger", "any.topic", []byte("b"))
		bus.Publish(ctx, "Rabat", "other.topic", []byte("c"))

		got := map[string]bool{}
		for i := 0; i < 2; i++ {
			select {
			case s := <-scopes:
				got[s] = true
			case <-time.After(time.Second):
				t.Fatalf("timeout waiting for wildcard delivery, got %v", got)
			}
		}
		if !got["Rabat"] || !got["Tanger"] {
			t.Errorf("expected deliveries from Rabat and Tanger, got %v", got)
		}
		select {
		case s := <-scopes:
			t.Errorf("unexpected delivery from %s on another topic", s)
		case <-time.After(50 * time.Millisecond):
		}
	})

	t.Run("RejectsWildcardPublish", func(t *testing.T) {
		if err := bus.Publish(ctx, domain.AnyScope, "topic", []byte("data")); !errors.Is(err, ErrWildcardScope) {
			t.Errorf("expected ErrWildcardScope, got %v", err)
		}
		if _, err := bus.Request(ctx, domain.AnyScope, "topic", nil); !errors.Is(err, ErrWildcardScope) {
			t.Errorf("expected ErrWildcardScope from Request, got %v", err)
		}
	})

	t.Run("RequiresScope", func(t *testing.T) {
		if err := bus.Publish(ctx, "", "topic", []byte("data")); !errors.Is(err, ErrScopeRequired) {
			t.Errorf("expected ErrScopeRequired, got %v", err)
		}

		_, err := bus.Subscribe(ctx, "", "topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if !errors.Is(err, ErrScopeRequired) {
			t.Errorf("expected ErrScopeRequired, got %v", err)
		}
	})

	t.Run("Unsubscribe", func(t *testing.T) {
		var count atomic.Int32

		sub, _ := bus.Subscribe(ctx, scope, "unsub.topic", func(ctx context.Context, msg *domain.Message) error {
			count.Add(1)
			return nil
		})

		bus.Publish(ctx, scope, "unsub.topic", []byte("msg1"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message before unsubscribe, got %d", count.Load())
		}

		sub.Unsubscribe()
		sub.Unsubscribe()

		bus.Publish(ctx, scope, "unsub.topic", []byte("msg2"))
		time.Sleep(50 * time.Millisecond)

		if count.Load() != 1 {
			t.Errorf("expected 1 message after unsubscribe, got %d", count.Load())
		}
	})

	t.Run("MultipleSubscribers", func(t *testing.T) {
		var count1, count2 atomic.Int32

		bus.Subscribe(ctx, scope, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count1.Add(1)
			return nil
		})
		bus.Subscribe(ctx, scope, "multi.topic", func(ctx context.Context, msg *domain.Message) error {
			count2.Add(1)
			return nil
		})

		bus.Publish(ctx, scope, "multi.topic", []byte("broadcast"))
		time.Sleep(50 * time.Millisecond)

		if count1.Load() != 1 || count2.Load() != 1 {
			t.Errorf("expected both subscribers to receive, got %d and %d", count1.Load(), count2.Load())
		}
	})

	t.Run("HandlerPanicIsContained", func(t *testing.T) {
		var wg sync.WaitGroup
		wg.Add(2)
		var calls atomic.Int32

		bus.Subscribe(ctx, scope, "panic.topic", func(ctx context.Context, msg *domain.Message) error {
			defer wg.Done()
			if calls.Add(1) == 1 {
				panic("boom")
			}
			return nil
		})

		bus.Publish(ctx, scope, "panic.topic", []byte("first"))
		bus.Publish(ctx, scope, "panic.topic", []byte("second"))

		waitFor(t, &wg)
		if calls.Load() != 2 {
			t.Errorf("expected subscriber to survive a panic, got %d calls", calls.Load())
		}
	})

	t.Run("Request", func(t *testing.T) {
		bus.Subscribe(ctx, scope, "echo", func(ctx context.Context, msg *domain.Message) error {
			return bus.Publish(ctx, msg.Scope, msg.Metadata["reply_to"], append([]byte("re:"), msg.Payload...))
		})

		reqCtx, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()

		reply, err := bus.Request(reqCtx, scope, "echo", []byte("ping"))
		if err != nil {
			t.Fatalf("request failed: %v", err)
		}
		if string(reply) != "re:ping" {
			t.Errorf("expected 're:ping', got '%s'", reply)
		}
	})

	t.Run("RequestWithoutResponder", func(t *testing.T) {
		reqCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()

		if _, err := bus.Request(reqCtx, scope, "nobody.home", nil); !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("expected deadline exceeded, got %v", err)
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := bus.Ping(ctx); err != nil {
			t.Errorf("ping failed: %v", err)
		}
	})

	t.Run("SubscriptionTopic", func(t *testing.T) {
		sub, _ := bus.Subscribe(ctx, scope, "my.topic", func(ctx context.Context, msg *domain.Message) error {
			return nil
		})
		if sub.Topic() != "my.topic" {
			t.Errorf("expected topic 'my.topic', got '%s'", sub.Topic())
		}
	})
}

func TestChannelBusClose(t *testing.T) {
	bus := NewChannelBus(100)
	ctx := context.Background()

	bus.Subscribe(ctx, "Rabat", "close.topic", func(ctx context.Context, msg *domain.Message) error {
		return nil
	})

	if err := bus.Close(); err != nil {
		t.Errorf("close failed: %v", err)
	}
	if err := bus.Close(); err != nil {
		t.Errorf("second close failed: %v", err)
	}

	if err := bus.Publish(ctx, "Rabat", "close.topic", []byte("data")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed after close, got %v", err)
	}
	if err := bus.Ping(ctx); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ping ErrClosed after close, got %v", err)
	}
}

func TestPublishJSON(t *testing.T) {
	bus := NewChannelBus(10)
	defer bus.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	var got map[string]int64

	bus.Subscribe(ctx, domain.GlobalScope, "json.topic", func(ctx context.Context, msg *domain.Message) error {
		defer wg.Done()
		return json.Unmarshal(msg.Payload, &got)
	})

	if err := PublishJSON(ctx, bus, Scope(""), "json.topic", map[string]int64{"Nbr_WCL_DLPRB": 2}); err != nil {
		t.Fatalf("PublishJSON failed: %v", err)
	}
	waitFor(t, &wg)

	if got["Nbr_WCL_DLPRB"] != 2 {
		t.Errorf("expected decoded payload, got %v", got)
	}

	if err := PublishJSON(ctx, bus, "x", "json.topic", make(chan int)); err == nil {
		t.Error("expected unmarshalable payload to fail")
	}
}

func TestScopeAndSubject(t *testing.T) {
	if Scope("") != domain.GlobalScope {
		t.Errorf("expected empty city to map to %s", domain.GlobalScope)
	}
	if Scope("Fes") != "Fes" {
		t.Error("expected city to be its own scope")
	}

	tests := []struct {
		scope, topic, want string
	}{
		{"Fes", domain.TopicSynthesisAlert, "kestrel.Fes.synthesis.alert"},
		{"El Jadida", domain.TopicBatchSubmitted, "kestrel.El_Jadida.batch.submitted"},
		{"a.b", "t", "kestrel.a_b.t"},
		{"a*b", "t", "kestrel.a_b.t"},
		{domain.AnyScope, domain.TopicBatchSubmitted, "kestrel.*.batch.submitted"},
	}
	for _, tt := range tests {
		if got := Subject(tt.scope, tt.topic); got != tt.want {
			t.Errorf("Subject(%q, %q) = %q, want %q", tt.scope, tt.topic, got, tt.want)
		}
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

	t.Run("UnsupportedType", func(t *testing.T) {
		if _, err := New(domain.EventBusConfig{Type: "kafka"}); err == nil {
			t.Error("expected error for unsupported type")
		}
	})

	t.Run("NATSUnreachable", func(t *testing.T) {
		_, err := New(domain.EventBusConfig{
			Type:              "nats",
			NATSUrl:           "nats://127.0.0.1:1",
			NATSMaxReconnects: 1,
			NATSReconnectWait: 1,
		})
		if err == nil {
			t.Error("expected connection error for unreachable NATS")
		}
	})
}

func TestChannelBusHighLoad(t *testing.T) {
	bus := NewChannelBus(1000)
	defer bus.Close()

	ctx := context.Background()
	const messageCount = 100

	var received atomic.Int32
	var wg sync.WaitGroup
	wg.Add(messageCount)

	bus.Subscribe(ctx, "load", "load.topic", func(ctx context.Context, msg *domain.Message) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	for i := 0; i < messageCount; i++ {
		bus.Publish(ctx, "load", "load.topic", []byte("msg"))
	}

	waitFor(t, &wg)
	if received.Load() != messageCount {
		t.Errorf("expected %d messages, got %d", messageCount, received.Load())
	}
}
