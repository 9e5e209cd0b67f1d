// Package action implements the action-execution engine described in
// spec.md §4.F: given an ActionInvocation, load the action's definition,
// merge and validate its payload, render its executor template, dispatch
// to a named Executor, run an optional postprocess script, and persist
// the result.
//
// Grounded on the teacher's internal/adapter package (Adapter interface +
// Registry, one adapter per external system) for the executor/registry
// shape, generalized from the teacher's fixed LLM-provider set to Ergo's
// http/raw_command/js/send_input executors.
package action

import (
	"context"
	"fmt"

	"github.com/dimfeld/ergo/internal/domain"
)

// Executor runs one action's rendered payload against an external
// system and returns its result as a plain field map (JSON-shaped), per
// spec.md §4.F steps 7-8.
type Executor interface {
	Name() string
	TemplateFields() domain.TemplateFields
	Execute(ctx context.Context, values map[string]any) (map[string]any, error)
}

// Registry looks executors up by the executor_id named on an Action row.
type Registry struct {
	executors map[string]Executor
}

// NewRegistry builds a Registry from a fixed executor set, matching the
// teacher's adapter.NewRegistry(adapters ...Adapter) pattern.
func NewRegistry(executors ...Executor) *Registry {
	r := &Registry{executors: make(map[string]Executor, len(executors))}
	for _, e := range executors {
		r.executors[e.Name()] = e
	}
	return r
}

func (r *Registry) Get(name string) (Executor, error) {
	e, ok := r.executors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrMissingExecutor, name)
	}
	return e, nil
}
