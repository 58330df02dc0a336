package kpi

import (
	"context"
	"sync"

	"github.com/google/cel-go/common/types"
	"github.com/kestrel-noc/kestrel/internal/domain"
)

// Report is an evaluation result plus skip diagnostics.
type Report struct {
	Counts domain.EvaluationResult `json:"counts"`

	// Skipped counts, per rule, records that lacked a referenced metric.
	Skipped map[string]int64 `json:"skipped"`

	Records int `json:"records"`
}

// SkippedTotal returns the number of (record, rule) pairs skipped.
func (r Report) SkippedTotal() int64 {
	var total int64
	for _, n := range r.Skipped {
		total += n
	}
	return total
}

// Flags maps rule name to whether one record satisfied the rule.
type Flags map[string]bool

// Evaluate counts, per catalog rule, the records that satisfy the rule.
// The result always holds one entry per rule; an empty batch yields all zeros.
func Evaluate(records []domain.MetricRecord, c *Catalog) domain.EvaluationResult {
	return EvaluateReport(records, c).Counts
}

// EvaluateReport is Evaluate with per-rule skip counts.
func EvaluateReport(records []domain.MetricRecord, c *Catalog) Report {
	report := newReport(c)
	report.Records = len(records)

	for _, rec := range records {
		activation := c.activation(rec)
		for _, rule := range c.rules {
			matched, ok := rule.eval(activation)
			if !ok {
				report.Skipped[rule.Definition.Name]++
				continue
			}
			if matched {
				report.Counts[rule.Definition.Name]++
			}
		}
	}

	return report
}

// EvaluateRecord reports which rules one record trips.
// Rules the record cannot be evaluated against are false.
func EvaluateRecord(rec domain.MetricRecord, c *Catalog) Flags {
	flags := make(Flags, len(c.rules))
	activation := c.activation(rec)
	for _, rule := range c.rules {
		matched, ok := rule.eval(activation)
		flags[rule.Definition.Name] = ok && matched
	}
	return flags
}

// EvaluateParallel splits records into contiguous chunks, evaluates them on
// up to workers goroutines and sums the per-rule counts.
// The result equals EvaluateReport over the whole batch.
func EvaluateParallel(ctx context.Context, records []domain.MetricRecord, c *Catalog, workers int) (Report, error) {
	if workers <= 1 || len(records) < 2 {
		return EvaluateReport(records, c), ctx.Err()
	}
	if workers > len(records) {
		workers = len(records)
	}

	chunk := (len(records) + workers - 1) / workers
	partials := make([]Report, 0, workers)
	for start := 0; start < len(records); start += chunk {
		partials = append(partials, Report{})
	}

	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, workers)

	for i := range partials {
		start := i * chunk
		end := min(start+chunk, len(records))

		wg.Add(1)
		go func(idx int, part []domain.MetricRecord) {
			defer wg.Done()

			select {
			case sem <- struct{}{}: // Acquire
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }() // Release

			partials[idx] = EvaluateReport(part, c)
		}(i, records[start:end])
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	report := newReport(c)
	for _, p := range partials {
		report = Merge(report, p)
	}
	return report, nil
}

// Merge sums two reports rule by rule.
func Merge(a, b Report) Report {
	out := Report{
		Counts:  make(domain.EvaluationResult, len(a.Counts)),
		Skipped: make(map[string]int64, len(a.Skipped)),
		Records: a.Records + b.Records,
	}
	for name, n := range a.Counts {
		out.Counts[name] += n
	}
	for name, n := range b.Counts {
		out.Counts[name] += n
	}
	for name, n := range a.Skipped {
		out.Skipped[name] += n
	}
	for name, n := range b.Skipped {
		out.Skipped[name] += n
	}
	return out
}

func newReport(c *Catalog) Report {
	report := Report{
		Counts:  make(domain.EvaluationResult, len(c.rules)),
		Skipped: make(map[string]int64, len(c.rules)),
	}
	for _, rule := range c.rules {
		report.Counts[rule.Definition.Name] = 0
	}
	return report
}

// activation converts the declared metrics of a record to float64.
// Missing or non-numeric metrics are left out.
func (c *Catalog) activation(rec domain.MetricRecord) map[string]any {
	activation := make(map[string]any, len(c.fields))
	for name := range c.fields {
		if v, ok := rec.Float(name); ok {
			activation[name] = v
		}
	}
	return activation
}

// eval runs the rule against an activation.
// ok is false when a referenced metric is missing or evaluation fails.
func (r *CompiledRule) eval(activation map[string]any) (matched bool, ok bool) {
	for _, name := range r.Fields {
		if _, present := activation[name]; !present {
			return false, false
		}
	}

	out, _, err := r.Program.Eval(activation)
	if err != nil {
		return false, false
	}

	b, isBool := out.(types.Bool)
	if !isBool {
		return false, false
	}
	return bool(b), true
}
