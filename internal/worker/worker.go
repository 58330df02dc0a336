// Package worker evaluates batches submitted on the event bus.
package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kestrel-noc/kestrel/internal/domain"
	"github.com/kestrel-noc/kestrel/internal/metrics"
	"github.com/kestrel-noc/kestrel/internal/synthesis"
)

// Worker consumes batch.submitted messages and runs them through the
// synthesis service, which stores and republishes the result.
type Worker struct {
	bus     domain.EventBus
	service *synthesis.Service

	mu            sync.Mutex
	subscriptions []domain.Subscription
	ctx           context.Context
	cancel        context.CancelFunc
}

// Config holds worker configuration.
type Config struct {
	// Cities to consume batches for; empty consumes every scope.
	Cities []string
}

// NewWorker creates an async batch worker.
func NewWorker(bus domain.EventBus, service *synthesis.Service) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:     bus,
		service: service,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start subscribes to the batch topic for each configured city, or for
// every city when none are configured.
func (w *Worker) Start(cfg Config) error {
	scopes := cfg.Cities
	if len(scopes) == 0 {
		scopes = []string{domain.AnyScope}
	}

	for _, scope := range scopes {
		sub, err := w.bus.Subscribe(w.ctx, scope, domain.TopicBatchSubmitted, w.handleMessage)
		if err != nil {
			return fmt.Errorf("failed to subscribe worker for %s: %w", scope, err)
		}
		w.mu.Lock()
		w.subscriptions = append(w.subscriptions, sub)
		w.mu.Unlock()

		slog.Info("worker subscribed",
			"scope", scope,
			"topic", domain.TopicBatchSubmitted,
		)
	}

	return nil
}

// handleMessage decodes a batch and synthesizes it.
// A batch without a city inherits the message scope unless it is global.
func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var req synthesis.Request
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		metrics.WorkerFailedTotal.Inc()
		slog.Error("failed to parse batch message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	if req.City == "" && msg.Scope != domain.GlobalScope {
		req.City = msg.Scope
	}
	if req.TraceID == "" {
		req.TraceID = msg.ID
	}

	syn, err := w.service.Run(ctx, "worker", &req)
	if err != nil {
		metrics.WorkerFailedTotal.Inc()
		slog.Error("batch synthesis failed",
			"message_id", msg.ID,
			"city", req.City,
			"error", err,
		)
		return err
	}

	metrics.WorkerProcessedTotal.Inc()
	slog.Debug("batch processed",
		"message_id", msg.ID,
		"synthesis_id", syn.ID,
		"status", syn.Status,
	)
	return nil
}

// Stop cancels in-flight handlers and unsubscribes.
func (w *Worker) Stop() error {
	w.cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}
	w.subscriptions = nil

	slog.Info("workers stopped")
	return nil
}

// Consuming reports whether the worker holds at least one subscription.
func (w *Worker) Consuming() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subscriptions) > 0
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
	}
}
