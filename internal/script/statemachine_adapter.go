package script

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dimfeld/ergo/internal/statemachine"
)

// StateMachineEvaluator adapts a Pool to statemachine.ScriptEvaluator,
// running target and payload-builder scripts at TierSimple (no network)
// per spec.md §4.G's tier table.
type StateMachineEvaluator struct {
	Pool *Pool
}

func NewStateMachineEvaluator(pool *Pool) *StateMachineEvaluator {
	return &StateMachineEvaluator{Pool: pool}
}

func (s *StateMachineEvaluator) EvalTarget(ctx context.Context, src string, data statemachine.StateMachineData, payload json.RawMessage) (string, error) {
	result, err := s.run(ctx, src, data, payload)
	if err != nil {
		return "", err
	}
	if result.Value == nil {
		return "", nil
	}
	next, ok := result.Value.(string)
	if !ok {
		return "", fmt.Errorf("transition target script must return a string or null, got %T", result.Value)
	}
	return next, nil
}

func (s *StateMachineEvaluator) EvalPayload(ctx context.Context, src string, data statemachine.StateMachineData, payload json.RawMessage) (json.RawMessage, error) {
	result, err := s.run(ctx, src, data, payload)
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(result.Value)
	if err != nil {
		return nil, fmt.Errorf("encoding script result: %w", err)
	}
	return encoded, nil
}

func (s *StateMachineEvaluator) run(ctx context.Context, src string, data statemachine.StateMachineData, payload json.RawMessage) (Result, error) {
	var contextVal any
	if len(data.Context) > 0 {
		if err := json.Unmarshal(data.Context, &contextVal); err != nil {
			return Result{}, fmt.Errorf("decoding state context: %w", err)
		}
	}
	var payloadVal any
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &payloadVal); err != nil {
			return Result{}, fmt.Errorf("decoding input payload: %w", err)
		}
	}

	return s.Pool.Submit(ctx, src, Options{
		Tier: TierSimple,
		Bindings: Bindings{
			"context": contextVal,
			"payload": payloadVal,
			"state":   data.State,
		},
	})
}
