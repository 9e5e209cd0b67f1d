// Package statemachine implements the state-machine engine (spec.md
// §4.D): a pure function over (machine config, current data, trigger,
// payload) that returns a new data value, a changed flag, and the action
// invocations the trigger produced.
//
// Grounded on original_source/src/tasks/state_machine.rs, generalized
// past that revision's Literal/FieldMap-only subset to the full
// Script-capable sum types spec.md §4.D and §9 require
// (TransitionTarget and ActionPayloadBuilder are closed two-variant sum
// types here, same as the commented-out future variants in that file).
package statemachine

import (
	"context"
	"encoding/json"
	"fmt"
)

// StateMachine is pure data: { name, initial_state, states, global_on },
// per spec.md §3.
type StateMachine struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description,omitempty"`
	Initial     string                     `json:"initial"`
	States      map[string]StateDefinition `json:"states"`
	GlobalOn    []EventHandler             `json:"global_on,omitempty"`
}

type StateDefinition struct {
	Description string         `json:"description,omitempty"`
	On          []EventHandler `json:"on,omitempty"`
}

// EventHandler binds a task-local trigger id to an optional next-state
// target and zero or more action invocations.
type EventHandler struct {
	TriggerID string            `json:"trigger_id"`
	Target    *TransitionTarget `json:"target,omitempty"`
	Actions   []ActionInvokeDef `json:"actions,omitempty"`
}

// TransitionTarget is a closed sum type: either a literal next-state name
// or a script that computes one. A null result from the script means
// "stay in the current state", per spec.md §4.D step 2.
type TransitionTarget struct {
	Literal string `json:"literal,omitempty"`
	Script  string `json:"script,omitempty"`
}

func (t TransitionTarget) IsScript() bool { return t.Script != "" }

// ActionInvokeDef names a task-local action binding and the builder that
// computes its invocation payload.
type ActionInvokeDef struct {
	TaskActionLocalID string              `json:"task_action_local_id"`
	Data              ActionPayloadBuilder `json:"data"`
}

// ActionPayloadBuilder is a closed sum type: a field-by-field map of
// sources, or a script whose return value is the whole payload.
type ActionPayloadBuilder struct {
	FieldMap map[string]ActionInvokeDefDataField `json:"field_map,omitempty"`
	Script   string                              `json:"script,omitempty"`
}

func (b ActionPayloadBuilder) IsScript() bool { return b.Script != "" }

// ActionInvokeDefDataField is one field's source within a FieldMap
// builder: a constant, a JSON Pointer into the input payload, a JSON
// Pointer into context, or a script — each with a Required flag raising
// a typed error when required and absent, per spec.md §4.D step 3 and
// original_source's InputPayloadMissingField/ContextMissingField.
type ActionInvokeDefDataField struct {
	Kind     FieldSourceKind `json:"kind"`
	Constant json.RawMessage `json:"constant,omitempty"`
	Path     string          `json:"path,omitempty"` // RFC 6901 JSON Pointer
	Script   string          `json:"script,omitempty"`
	Required bool            `json:"required,omitempty"`
}

type FieldSourceKind string

const (
	FieldSourceConstant FieldSourceKind = "constant"
	FieldSourceInput    FieldSourceKind = "input"
	FieldSourceContext  FieldSourceKind = "context"
	FieldSourceScript   FieldSourceKind = "script"
)

// StateMachineData is the mutable per-machine state: the current state
// name and an arbitrary JSON context blob.
type StateMachineData struct {
	State   string          `json:"state"`
	Context json.RawMessage `json:"context"`
}

// ScriptEvaluator is the seam into the script evaluator façade
// (internal/script Component G). Accepting an interface here, rather
// than importing internal/script directly, keeps this package's pure
// core decoupled from goja — the "simple" sandbox tier is the concrete
// implementation wired in by callers (internal/input).
type ScriptEvaluator interface {
	// EvalTarget runs a target script with context and payload in scope
	// and returns the next state name, or "" to stay.
	EvalTarget(ctx context.Context, script string, data StateMachineData, payload json.RawMessage) (string, error)
	// EvalPayload runs a payload-builder script (whole-payload or single
	// field mode share the same call shape: script, context, payload in,
	// a JSON value out).
	EvalPayload(ctx context.Context, script string, data StateMachineData, payload json.RawMessage) (json.RawMessage, error)
}

// Errors. UnknownState and ScriptError carry structured detail the way
// the teacher's domain errors do (sentinel + typed struct), matching
// spec.md §4.D's exact taxonomy: UnknownState, ContextMissingField,
// InputPayloadMissingField, ScriptError.
type UnknownStateError struct {
	MachineIndex int
	State        string
}

func (e UnknownStateError) Error() string {
	return fmt.Sprintf("state machine %d: unknown state %q", e.MachineIndex, e.State)
}

type ContextMissingFieldError struct{ Path string }

func (e ContextMissingFieldError) Error() string {
	return fmt.Sprintf("context missing field %q", e.Path)
}

type InputPayloadMissingFieldError struct{ Path string }

func (e InputPayloadMissingFieldError) Error() string {
	return fmt.Sprintf("input payload missing field %q", e.Path)
}

type ScriptError struct{ Cause error }

func (e ScriptError) Error() string { return fmt.Sprintf("script error: %v", e.Cause) }
func (e ScriptError) Unwrap() error { return e.Cause }

// Result is what Apply returns: the (possibly unchanged) new data, a
// changed flag, and the action invocations the trigger produced.
type Result struct {
	Data    StateMachineData
	Changed bool
	Actions []ActionInvocation
}

// ActionInvocation is a resolved action invocation: which task-local
// action to invoke and its built payload. internal/input wraps this with
// ids (actions_log_id, input_arrival_id) before persisting, so this type
// intentionally carries only what the pure engine can compute.
type ActionInvocation struct {
	TaskActionLocalID string
	Payload           json.RawMessage
}

// Apply runs the algorithm in spec.md §4.D:
//  1. Look up the handler for triggerID in the current state's handler
//     list; fall back to the machine's global_on; if still absent, no-op.
//  2. Compute next_state.
//  3. Resolve action invocations.
//  4. If next_state differs from the current state, update it and mark
//     changed.
func Apply(ctx context.Context, machineIndex int, machine StateMachine, data StateMachineData, triggerID string, payload json.RawMessage, eval ScriptEvaluator) (Result, error) {
	stateDef, ok := machine.States[data.State]
	if !ok {
		return Result{}, UnknownStateError{MachineIndex: machineIndex, State: data.State}
	}

	handler, found := findHandler(stateDef.On, triggerID)
	if !found {
		handler, found = findHandler(machine.GlobalOn, triggerID)
	}
	if !found {
		return Result{Data: data, Changed: false}, nil
	}

	nextState, err := resolveTarget(ctx, handler.Target, data, payload, eval)
	if err != nil {
		return Result{}, err
	}

	actions, err := resolveActions(ctx, handler.Actions, data, payload, eval)
	if err != nil {
		return Result{}, err
	}

	newData := data
	changed := false
	if nextState != "" && nextState != data.State {
		newData.State = nextState
		changed = true
	}

	return Result{Data: newData, Changed: changed, Actions: actions}, nil
}

func findHandler(handlers []EventHandler, triggerID string) (EventHandler, bool) {
	for _, h := range handlers {
		if h.TriggerID == triggerID {
			return h, true
		}
	}
	return EventHandler{}, false
}

func resolveTarget(ctx context.Context, target *TransitionTarget, data StateMachineData, payload json.RawMessage, eval ScriptEvaluator) (string, error) {
	if target == nil {
		return "", nil
	}
	if !target.IsScript() {
		return target.Literal, nil
	}
	if eval == nil {
		return "", ScriptError{Cause: fmt.Errorf("no script evaluator configured")}
	}
	next, err := eval.EvalTarget(ctx, target.Script, data, payload)
	if err != nil {
		return "", ScriptError{Cause: err}
	}
	return next, nil
}

func resolveActions(ctx context.Context, defs []ActionInvokeDef, data StateMachineData, payload json.RawMessage, eval ScriptEvaluator) ([]ActionInvocation, error) {
	invocations := make([]ActionInvocation, 0, len(defs))
	for _, def := range defs {
		built, err := buildPayload(ctx, def.Data, data, payload, eval)
		if err != nil {
			return nil, err
		}
		invocations = append(invocations, ActionInvocation{
			TaskActionLocalID: def.TaskActionLocalID,
			Payload:           built,
		})
	}
	return invocations, nil
}

func buildPayload(ctx context.Context, builder ActionPayloadBuilder, data StateMachineData, payload json.RawMessage, eval ScriptEvaluator) (json.RawMessage, error) {
	if builder.IsScript() {
		if eval == nil {
			return nil, ScriptError{Cause: fmt.Errorf("no script evaluator configured")}
		}
		result, err := eval.EvalPayload(ctx, builder.Script, data, payload)
		if err != nil {
			return nil, ScriptError{Cause: err}
		}
		return result, nil
	}

	out := make(map[string]json.RawMessage, len(builder.FieldMap))
	for name, field := range builder.FieldMap {
		value, err := resolveField(ctx, field, data, payload, eval)
		if err != nil {
			return nil, err
		}
		out[name] = value
	}
	encoded, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	return encoded, nil
}

func resolveField(ctx context.Context, field ActionInvokeDefDataField, data StateMachineData, payload json.RawMessage, eval ScriptEvaluator) (json.RawMessage, error) {
	switch field.Kind {
	case FieldSourceConstant:
		if len(field.Constant) == 0 {
			return json.RawMessage("null"), nil
		}
		return field.Constant, nil

	case FieldSourceInput:
		value, ok := pointerLookup(payload, field.Path)
		if !ok {
			if field.Required {
				return nil, InputPayloadMissingFieldError{Path: field.Path}
			}
			return json.RawMessage("null"), nil
		}
		return value, nil

	case FieldSourceContext:
		value, ok := pointerLookup(data.Context, field.Path)
		if !ok {
			if field.Required {
				return nil, ContextMissingFieldError{Path: field.Path}
			}
			return json.RawMessage("null"), nil
		}
		return value, nil

	case FieldSourceScript:
		if eval == nil {
			return nil, ScriptError{Cause: fmt.Errorf("no script evaluator configured")}
		}
		result, err := eval.EvalPayload(ctx, field.Script, data, payload)
		if err != nil {
			return nil, ScriptError{Cause: err}
		}
		return result, nil

	default:
		return nil, fmt.Errorf("unknown field source kind %q", field.Kind)
	}
}
