// Package validate collects validation violations across a hook phase
// and raises them together as one ValidationFailure. It never
// short-circuits on the first violation.
package validate

import (
	"sync"

	"list-mutator/internal/merr"
)

// Violation is one reported validation failure.
type Violation struct {
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Collector accumulates violations reported by validation routines. It
// is safe for concurrent use so field-level hooks of the same phase can
// share one collector.
type Collector struct {
	mu         sync.Mutex
	violations []Violation
}

// Report records one violation.
func (c *Collector) Report(message string, data map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.violations = append(c.violations, Violation{Message: message, Data: data})
}

// Violations returns the violations reported so far, in report order.
func (c *Collector) Violations() []Violation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Violation, len(c.violations))
	copy(out, c.violations)
	return out
}

// Err returns nil when no violations were reported, otherwise one
// ValidationFailure carrying the full ordered violation list.
func (c *Collector) Err() error {
	violations := c.Violations()
	if len(violations) == 0 {
		return nil
	}
	entries := make([]interface{}, len(violations))
	for i, v := range violations {
		entry := map[string]interface{}{"message": v.Message}
		if len(v.Data) > 0 {
			entry["data"] = v.Data
		}
		entries[i] = entry
	}
	return merr.New(merr.KindValidationFailure, "the mutation failed validation").
		WithData(map[string]interface{}{"errors": entries})
}

// Run executes routine with a report callback and fails with a
// ValidationFailure if the routine reported one or more violations.
func Run(routine func(report func(message string, data map[string]interface{}))) error {
	var c Collector
	routine(c.Report)
	return c.Err()
}
