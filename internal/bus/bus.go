// Package bus carries evaluation events between the API, the worker and
// downstream consumers.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kestrel-noc/kestrel/internal/domain"
)

var (
	// ErrScopeRequired is returned when a message has no scope.
	ErrScopeRequired = errors.New("scope is required")

	// ErrClosed is returned by operations on a closed bus.
	ErrClosed = errors.New("bus is closed")

	// ErrWildcardScope is returned when publishing to domain.AnyScope.
	ErrWildcardScope = errors.New("cannot publish to the wildcard scope")
)

// New creates an event bus based on configuration.
// "channel" keeps events in process; "nats" fans them out to other services.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// PublishJSON marshals v and publishes it.
func PublishJSON(ctx context.Context, b domain.EventBus, scope, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", topic, err)
	}
	return b.Publish(ctx, scope, topic, payload)
}

// Scope returns the bus scope for a city; events without a city go to GlobalScope.
func Scope(city string) string {
	if city == "" {
		return domain.GlobalScope
	}
	return city
}

// checkPublishScope validates the scope of an outgoing message.
func checkPublishScope(scope string) error {
	switch scope {
	case "":
		return ErrScopeRequired
	case domain.AnyScope:
		return ErrWildcardScope
	}
	return nil
}

func newMessage(scope, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		Scope:     scope,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}
