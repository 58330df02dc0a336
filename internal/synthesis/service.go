package synthesis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kestrel-noc/kestrel/internal/bus"
	"github.com/kestrel-noc/kestrel/internal/domain"
	"github.com/kestrel-noc/kestrel/internal/kpi"
	"github.com/kestrel-noc/kestrel/internal/metrics"
	"github.com/kestrel-noc/kestrel/internal/workbook"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrNoRecords is returned when a request carries no records to evaluate.
var ErrNoRecords = errors.New("missing data to calculate")

var tracer = otel.Tracer("kestrel-synthesis")

// Request is one batch of records to synthesize.
type Request struct {
	City    string                `json:"city"`
	Date    string                `json:"date,omitempty"`
	TraceID string                `json:"traceId,omitempty"`
	Records []domain.MetricRecord `json:"records"`
}

// Service runs the full synthesis pipeline: canonicalize, evaluate, aggregate,
// persist and publish. The API and the async worker share one Service.
type Service struct {
	catalog   atomic.Pointer[kpi.Catalog]
	processor *Processor
	repo      domain.Repository
	bus       domain.EventBus
	workers   int
}

// NewService creates a synthesis service. repo and eventBus may be nil.
func NewService(catalog *kpi.Catalog, processor *Processor, repo domain.Repository, eventBus domain.EventBus, workers int) *Service {
	if processor == nil {
		processor = NewProcessor()
	}
	s := &Service{
		processor: processor,
		repo:      repo,
		bus:       eventBus,
		workers:   workers,
	}
	s.SetCatalog(catalog)
	return s
}

// Catalog returns the catalog currently in use.
func (s *Service) Catalog() *kpi.Catalog {
	return s.catalog.Load()
}

// SetCatalog swaps the catalog; batches already running keep the old one.
func (s *Service) SetCatalog(c *kpi.Catalog) {
	s.catalog.Store(c)
	if c != nil {
		metrics.CatalogRules.Set(float64(c.Len()))
	}
}

// Run evaluates a batch and returns the stored synthesis.
// Persistence and publish failures are logged; the synthesis is still returned.
func (s *Service) Run(ctx context.Context, source string, req *Request) (*domain.Synthesis, error) {
	start := time.Now()

	if req == nil || len(req.Records) == 0 {
		metrics.EvaluationsTotal.WithLabelValues(source, "rejected").Inc()
		return nil, ErrNoRecords
	}

	catalog := s.Catalog()
	if catalog == nil {
		return nil, kpi.ErrEmptyCatalog
	}

	ctx, span := tracer.Start(ctx, "synthesis.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("kestrel.city", req.City),
		attribute.Int("kestrel.records", len(req.Records)),
		attribute.Int("kestrel.rules", catalog.Len()),
	)

	records := workbook.CanonicalizeAll(req.Records)

	evalStart := time.Now()
	report, err := kpi.EvaluateParallel(ctx, records, catalog, s.workers)
	evalDuration := time.Since(evalStart)
	metrics.EvaluationDuration.Observe(evalDuration.Seconds())
	if err != nil {
		metrics.EvaluationsTotal.WithLabelValues(source, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "evaluation cancelled")
		return nil, fmt.Errorf("evaluation aborted: %w", err)
	}
	metrics.ObserveReport(report.Records, report.Counts, report.Skipped)

	syn := s.processor.Process(ctx, &Input{
		City:             req.City,
		Date:             req.Date,
		TraceID:          req.TraceID,
		Report:           report,
		Catalog:          catalog,
		StartTime:        start,
		EvaluateDuration: evalDuration,
	})
	span.SetAttributes(
		attribute.String("kestrel.status", syn.Status),
		attribute.Int64("kestrel.total_alarms", syn.TotalAlarms),
	)

	if s.repo != nil {
		if err := s.repo.SaveSynthesis(ctx, syn); err != nil {
			slog.Error("failed to save synthesis",
				"synthesis_id", syn.ID,
				"city", syn.City,
				"error", err,
			)
		}
	}

	s.publish(ctx, syn)

	metrics.EvaluationsTotal.WithLabelValues(source, syn.Status).Inc()

	if skipped := report.SkippedTotal(); skipped > 0 {
		slog.Warn("records skipped for missing metrics",
			"synthesis_id", syn.ID,
			"skipped", skipped,
			"rules", len(syn.Skipped),
		)
	}
	slog.Info("synthesis computed",
		"synthesis_id", syn.ID,
		"source", source,
		"city", syn.City,
		"records", report.Records,
		"status", syn.Status,
		"total_alarms", syn.TotalAlarms,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return syn, nil
}

func (s *Service) publish(ctx context.Context, syn *domain.Synthesis) {
	if s.bus == nil {
		return
	}

	scope := bus.Scope(syn.City)
	if err := bus.PublishJSON(ctx, s.bus, scope, domain.TopicSynthesisCompleted, syn); err != nil {
		slog.Error("failed to publish synthesis",
			"synthesis_id", syn.ID,
			"error", err,
		)
	}

	if ShouldAlert(syn) {
		if err := bus.PublishJSON(ctx, s.bus, scope, domain.TopicSynthesisAlert, syn); err != nil {
			slog.Error("failed to publish alert",
				"synthesis_id", syn.ID,
				"error", err,
			)
		}
	}
}
