package statemachine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func literalTarget(state string) *TransitionTarget {
	return &TransitionTarget{Literal: state}
}

func constantField(value string) ActionInvokeDefDataField {
	return ActionInvokeDefDataField{Kind: FieldSourceConstant, Constant: json.RawMessage(`"` + value + `"`)}
}

func TestApply_StateLocalHandlerTransitionsAndBuildsPayload(t *testing.T) {
	machine := StateMachine{
		Initial: "pending",
		States: map[string]StateDefinition{
			"pending": {
				On: []EventHandler{
					{
						TriggerID: "approve",
						Target:    literalTarget("approved"),
						Actions: []ActionInvokeDef{
							{
								TaskActionLocalID: "notify_slack",
								Data: ActionPayloadBuilder{
									FieldMap: map[string]ActionInvokeDefDataField{
										"message": constantField("approved"),
										"amount": {
											Kind:     FieldSourceInput,
											Path:     "/amount",
											Required: true,
										},
									},
								},
							},
						},
					},
				},
			},
			"approved": {},
		},
	}

	data := StateMachineData{State: "pending", Context: json.RawMessage(`{}`)}
	payload := json.RawMessage(`{"amount": 42}`)

	result, err := Apply(context.Background(), 0, machine, data, "approve", payload, nil)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, "approved", result.Data.State)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, "notify_slack", result.Actions[0].TaskActionLocalID)

	var built map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(result.Actions[0].Payload, &built))
	assert.JSONEq(t, `"approved"`, string(built["message"]))
	assert.JSONEq(t, `42`, string(built["amount"]))
}

func TestApply_FallsBackToGlobalOn(t *testing.T) {
	machine := StateMachine{
		Initial: "pending",
		States: map[string]StateDefinition{
			"pending": {},
		},
		GlobalOn: []EventHandler{
			{TriggerID: "cancel", Target: literalTarget("cancelled")},
		},
	}

	data := StateMachineData{State: "pending", Context: json.RawMessage(`{}`)}

	result, err := Apply(context.Background(), 0, machine, data, "cancel", json.RawMessage(`{}`), nil)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, "cancelled", result.Data.State)
}

func TestApply_NoHandlerIsNoop(t *testing.T) {
	machine := StateMachine{
		Initial: "pending",
		States: map[string]StateDefinition{
			"pending": {},
		},
	}

	data := StateMachineData{State: "pending", Context: json.RawMessage(`{}`)}

	result, err := Apply(context.Background(), 0, machine, data, "unrecognized_trigger", json.RawMessage(`{}`), nil)
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Equal(t, "pending", result.Data.State)
	assert.Empty(t, result.Actions)
}

func TestApply_UnknownCurrentStateErrors(t *testing.T) {
	machine := StateMachine{
		Initial: "pending",
		States: map[string]StateDefinition{
			"pending": {},
		},
	}

	data := StateMachineData{State: "does_not_exist", Context: json.RawMessage(`{}`)}

	_, err := Apply(context.Background(), 3, machine, data, "approve", json.RawMessage(`{}`), nil)
	require.Error(t, err)
	var unknownState UnknownStateError
	require.True(t, errors.As(err, &unknownState))
	assert.Equal(t, 3, unknownState.MachineIndex)
	assert.Equal(t, "does_not_exist", unknownState.State)
}

func TestApply_RequiredInputFieldMissingErrors(t *testing.T) {
	machine := StateMachine{
		Initial: "pending",
		States: map[string]StateDefinition{
			"pending": {
				On: []EventHandler{
					{
						TriggerID: "approve",
						Actions: []ActionInvokeDef{
							{
								TaskActionLocalID: "notify_slack",
								Data: ActionPayloadBuilder{
									FieldMap: map[string]ActionInvokeDefDataField{
										"amount": {Kind: FieldSourceInput, Path: "/amount", Required: true},
									},
								},
							},
						},
					},
				},
			},
		},
	}

	data := StateMachineData{State: "pending", Context: json.RawMessage(`{}`)}

	_, err := Apply(context.Background(), 0, machine, data, "approve", json.RawMessage(`{}`), nil)
	require.Error(t, err)
	var missing InputPayloadMissingFieldError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "/amount", missing.Path)
}

func TestApply_RequiredContextFieldMissingErrors(t *testing.T) {
	machine := StateMachine{
		Initial: "pending",
		States: map[string]StateDefinition{
			"pending": {
				On: []EventHandler{
					{
						TriggerID: "approve",
						Actions: []ActionInvokeDef{
							{
								TaskActionLocalID: "notify_slack",
								Data: ActionPayloadBuilder{
									FieldMap: map[string]ActionInvokeDefDataField{
										"owner": {Kind: FieldSourceContext, Path: "/owner", Required: true},
									},
								},
							},
						},
					},
				},
			},
		},
	}

	data := StateMachineData{State: "pending", Context: json.RawMessage(`{}`)}

	_, err := Apply(context.Background(), 0, machine, data, "approve", json.RawMessage(`{}`), nil)
	require.Error(t, err)
	var missing ContextMissingFieldError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "/owner", missing.Path)
}

func TestApply_OptionalMissingFieldResolvesToNull(t *testing.T) {
	machine := StateMachine{
		Initial: "pending",
		States: map[string]StateDefinition{
			"pending": {
				On: []EventHandler{
					{
						TriggerID: "approve",
						Actions: []ActionInvokeDef{
							{
								TaskActionLocalID: "notify_slack",
								Data: ActionPayloadBuilder{
									FieldMap: map[string]ActionInvokeDefDataField{
										"note": {Kind: FieldSourceInput, Path: "/note", Required: false},
									},
								},
							},
						},
					},
				},
			},
		},
	}

	data := StateMachineData{State: "pending", Context: json.RawMessage(`{}`)}

	result, err := Apply(context.Background(), 0, machine, data, "approve", json.RawMessage(`{}`), nil)
	require.NoError(t, err)
	var built map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(result.Actions[0].Payload, &built))
	assert.JSONEq(t, `null`, string(built["note"]))
}

func TestApply_TransitionToSameStateIsNotChanged(t *testing.T) {
	machine := StateMachine{
		Initial: "pending",
		States: map[string]StateDefinition{
			"pending": {
				On: []EventHandler{
					{TriggerID: "ping", Target: literalTarget("pending")},
				},
			},
		},
	}

	data := StateMachineData{State: "pending", Context: json.RawMessage(`{}`)}

	result, err := Apply(context.Background(), 0, machine, data, "ping", json.RawMessage(`{}`), nil)
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Equal(t, "pending", result.Data.State)
}

type fakeEvaluator struct {
	targetState string
	targetErr   error
	payload     json.RawMessage
	payloadErr  error
}

func (f fakeEvaluator) EvalTarget(_ context.Context, _ string, _ StateMachineData, _ json.RawMessage) (string, error) {
	return f.targetState, f.targetErr
}

func (f fakeEvaluator) EvalPayload(_ context.Context, _ string, _ StateMachineData, _ json.RawMessage) (json.RawMessage, error) {
	return f.payload, f.payloadErr
}

func TestApply_ScriptTargetUsesEvaluator(t *testing.T) {
	machine := StateMachine{
		Initial: "pending",
		States: map[string]StateDefinition{
			"pending": {
				On: []EventHandler{
					{TriggerID: "approve", Target: &TransitionTarget{Script: "return 'approved'"}},
				},
			},
		},
	}

	data := StateMachineData{State: "pending", Context: json.RawMessage(`{}`)}
	eval := fakeEvaluator{targetState: "approved"}

	result, err := Apply(context.Background(), 0, machine, data, "approve", json.RawMessage(`{}`), eval)
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.Equal(t, "approved", result.Data.State)
}

func TestApply_ScriptTargetWithoutEvaluatorErrors(t *testing.T) {
	machine := StateMachine{
		Initial: "pending",
		States: map[string]StateDefinition{
			"pending": {
				On: []EventHandler{
					{TriggerID: "approve", Target: &TransitionTarget{Script: "return 'approved'"}},
				},
			},
		},
	}

	data := StateMachineData{State: "pending", Context: json.RawMessage(`{}`)}

	_, err := Apply(context.Background(), 0, machine, data, "approve", json.RawMessage(`{}`), nil)
	require.Error(t, err)
	var scriptErr ScriptError
	require.True(t, errors.As(err, &scriptErr))
}

func TestApply_ScriptPayloadBuilderUsesEvaluator(t *testing.T) {
	machine := StateMachine{
		Initial: "pending",
		States: map[string]StateDefinition{
			"pending": {
				On: []EventHandler{
					{
						TriggerID: "approve",
						Actions: []ActionInvokeDef{
							{TaskActionLocalID: "notify_slack", Data: ActionPayloadBuilder{Script: "return {message: 'hi'}"}},
						},
					},
				},
			},
		},
	}

	data := StateMachineData{State: "pending", Context: json.RawMessage(`{}`)}
	eval := fakeEvaluator{payload: json.RawMessage(`{"message":"hi"}`)}

	result, err := Apply(context.Background(), 0, machine, data, "approve", json.RawMessage(`{}`), eval)
	require.NoError(t, err)
	require.Len(t, result.Actions, 1)
	assert.JSONEq(t, `{"message":"hi"}`, string(result.Actions[0].Payload))
}

func TestPointerLookup(t *testing.T) {
	doc := json.RawMessage(`{"a": {"b": [1, 2, {"c": "deep"}]}, "d~e": "escaped", "f/g": "slash"}`)

	value, ok := pointerLookup(doc, "/a/b/2/c")
	require.True(t, ok)
	assert.JSONEq(t, `"deep"`, string(value))

	value, ok = pointerLookup(doc, "/d~0e")
	require.True(t, ok)
	assert.JSONEq(t, `"escaped"`, string(value))

	value, ok = pointerLookup(doc, "/f~1g")
	require.True(t, ok)
	assert.JSONEq(t, `"slash"`, string(value))

	_, ok = pointerLookup(doc, "/a/missing")
	assert.False(t, ok)

	_, ok = pointerLookup(doc, "/a/b/99")
	assert.False(t, ok)

	value, ok = pointerLookup(doc, "")
	require.True(t, ok)
	assert.JSONEq(t, string(doc), string(value))
}
