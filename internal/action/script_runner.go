package action

import (
	"context"

	"github.com/dimfeld/ergo/internal/script"
)

// PoolRunner adapts a *script.Pool to the engine's ScriptRunner
// interface, running executor-template and postprocess scripts at
// TierSimple: like the state-machine evaluator (see
// internal/script/statemachine_adapter.go), these compute plain data and
// never need ctx.http.
type PoolRunner struct {
	Pool *script.Pool
}

func (r *PoolRunner) Run(ctx context.Context, src string, bindings map[string]any) (any, error) {
	opts := script.Options{Tier: script.TierSimple, Bindings: script.Bindings(bindings)}
	result, err := r.Pool.Submit(ctx, src, opts)
	if err != nil {
		return nil, err
	}
	return result.Value, nil
}
