package domain

import (
	"time"
)

// Synthesis is the stored outcome of one KPI synthesis request.
type Synthesis struct {
	ID        string    `json:"id"`
	City      string    `json:"city"`
	Date      string    `json:"date,omitempty"`
	Status    string    `json:"status"` // "ALRT" or "NALT"
	Timestamp time.Time `json:"timestamp"`

	// Per-rule alarm counts
	Counts EvaluationResult `json:"counts"`

	// Records skipped per rule because a referenced metric was missing
	Skipped map[string]int64 `json:"skipped,omitempty"`

	// Alarm counts summed per KPI family
	Categories map[string]int64 `json:"categories,omitempty"`

	TotalAlarms int64    `json:"totalAlarms"`
	Triggered   []string `json:"triggered,omitempty"`

	Metadata SynthesisMetadata `json:"metadata"`
}

// SynthesisMetadata contains processing information.
type SynthesisMetadata struct {
	TraceID        string `json:"traceId"`
	Records        int    `json:"records"`
	RulesEvaluated int    `json:"rulesEvaluated"`
	SkippedTotal   int64  `json:"skippedTotal"`
	EvaluateMs     int64  `json:"evaluateMs"`
	TotalMs        int64  `json:"totalMs"`
	EngineVersion  string `json:"engineVersion"`
}

// Decision status constants
const (
	StatusAlert   = "ALRT" // at least one rule matched a record
	StatusNoAlert = "NALT"
)
