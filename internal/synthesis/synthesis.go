// Package synthesis turns KPI evaluation reports into stored syntheses.
// A synthesis carries the per-rule alarm counts together with the totals,
// status and metadata the API and the event bus publish.
package synthesis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kestrel-noc/kestrel/internal/domain"
	"github.com/kestrel-noc/kestrel/internal/kpi"
)

// EngineVersion is stamped on every synthesis.
const EngineVersion = "kestrel-1.0"

// Processor aggregates evaluation reports into syntheses.
type Processor struct {
	// Total alarm count at or above which a synthesis is ALRT
	AlertThreshold int64
}

// NewProcessor creates a processor that alerts on any alarm.
func NewProcessor() *Processor {
	return &Processor{
		AlertThreshold: 1,
	}
}

// Input contains everything needed to build a synthesis.
type Input struct {
	City      string
	Date      string
	TraceID   string
	Report    kpi.Report
	Catalog   *kpi.Catalog
	StartTime time.Time

	// Time spent in the evaluator
	EvaluateDuration time.Duration
}

// Process builds a synthesis from an evaluation report.
func (p *Processor) Process(ctx context.Context, input *Input) *domain.Synthesis {
	s := &domain.Synthesis{
		ID:         uuid.New().String(),
		City:       input.City,
		Date:       input.Date,
		Timestamp:  time.Now().UTC(),
		Counts:     make(domain.EvaluationResult, len(input.Report.Counts)),
		Skipped:    make(map[string]int64, len(input.Report.Skipped)),
		Categories: make(map[string]int64),
	}

	for name, n := range input.Report.Counts {
		s.Counts[name] = n
		s.TotalAlarms += n
		if n > 0 {
			s.Triggered = append(s.Triggered, name)
		}
	}
	sort.Strings(s.Triggered)

	for name, n := range input.Report.Skipped {
		if n > 0 {
			s.Skipped[name] = n
		}
	}

	if input.Catalog != nil {
		for _, def := range input.Catalog.Definitions() {
			if def.Category == "" {
				continue
			}
			s.Categories[def.Category] += s.Counts[def.Name]
		}
	}

	threshold := p.AlertThreshold
	if threshold <= 0 {
		threshold = 1
	}
	if s.TotalAlarms >= threshold {
		s.Status = domain.StatusAlert
	} else {
		s.Status = domain.StatusNoAlert
	}

	totalMs := int64(0)
	if !input.StartTime.IsZero() {
		totalMs = time.Since(input.StartTime).Milliseconds()
	}

	s.Metadata = domain.SynthesisMetadata{
		TraceID:        input.TraceID,
		Records:        input.Report.Records,
		RulesEvaluated: len(input.Report.Counts),
		SkippedTotal:   input.Report.SkippedTotal(),
		EvaluateMs:     input.EvaluateDuration.Milliseconds(),
		TotalMs:        totalMs,
		EngineVersion:  EngineVersion,
	}

	return s
}

// ShouldAlert returns true if the synthesis should trigger an alert.
func ShouldAlert(s *domain.Synthesis) bool {
	return s.Status == domain.StatusAlert
}

// Reasons lists a human-readable line per triggered rule, in rule name order.
func Reasons(s *domain.Synthesis, c *kpi.Catalog) []string {
	var reasons []string
	for _, name := range s.Triggered {
		label := name
		if c != nil {
			if r, ok := c.Lookup(name); ok && r.Definition.Description != "" {
				label = r.Definition.Description
			}
		}
		reasons = append(reasons, fmt.Sprintf("%s: %d", label, s.Counts[name]))
	}
	return reasons
}
