package domain

import "time"

// RuleDefinition defines one KPI alarm rule of the catalog.
type RuleDefinition struct {
	// Name is the unique identifier and the key in an EvaluationResult.
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`

	// CEL predicate over metric names, e.g. "CSSR < 95.0 && TotalTrafficGB > 0.0"
	Expression string `json:"expression" yaml:"expression"`

	// Whether rule is active
	Enabled bool `json:"enabled" yaml:"enabled"`

	CreatedAt time.Time `json:"createdAt,omitempty" yaml:"-"`
	UpdatedAt time.Time `json:"updatedAt,omitempty" yaml:"-"`
}

// KPI families used to group rule counts in a synthesis.
const (
	CategoryAccessibility = "accessibility"
	CategoryRetainability = "retainability"
	CategoryIntegrity     = "integrity"
	CategoryUtilization   = "utilization"
	CategoryMobility      = "mobility"
	CategoryVoice         = "voice"
)

// EvaluationResult maps rule name to the number of records that satisfied the rule.
// It holds exactly one entry per catalog rule, zero counts included.
type EvaluationResult map[string]int64

// Total returns the sum of all rule counts.
func (r EvaluationResult) Total() int64 {
	var total int64
	for _, n := range r {
		total += n
	}
	return total
}
