package action

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dimfeld/ergo/internal/domain"
	"github.com/dimfeld/ergo/internal/notify"
	"github.com/dimfeld/ergo/internal/objectid"
	"github.com/dimfeld/ergo/internal/template"
)

// InvocationData is everything the engine needs about the task/action
// pairing an ActionInvocation names, the Go equivalent of
// original_source/api/tasks/actions/execute.rs's ExecuteActionData
// query-result struct, expressed as the existing domain types instead of
// a flattened one-off struct.
type InvocationData struct {
	Task       domain.Task
	TaskAction domain.TaskAction
	Action     domain.Action
	Account    *domain.Account // nil when the task action has no account bound
}

// Store is the action engine's repository boundary: everything it reads
// or writes in Postgres, kept as an interface so the engine is testable
// without a live database (internal/repository/postgres provides the
// real implementation).
type Store interface {
	LoadInvocation(ctx context.Context, taskID objectid.TaskID, localID string) (*InvocationData, error)
	MarkRunning(ctx context.Context, actionsLogID uuid.UUID) error
	PersistResult(ctx context.Context, actionsLogID uuid.UUID, status domain.LogStatus, result json.RawMessage) error
}

// ScriptRunner is the subset of internal/script the engine needs for
// executor-template scripts and postprocess scripts, both run at
// TierSimple since they compute plain data, not side effects (grounded
// on spec.md §4.G's tier table: only the js executor itself needs
// TierExecutor).
type ScriptRunner interface {
	Run(ctx context.Context, src string, bindings map[string]any) (any, error)
}

// Engine is the action-execution engine described in spec.md §4.F.
type Engine struct {
	Store    Store
	Registry *Registry
	Script   ScriptRunner
	Notifier notify.Notifier
}

// Execute runs one ActionInvocation end to end: load, merge, validate,
// render, dispatch, postprocess, persist, notify. Grounded on
// original_source/api/tasks/actions/execute.rs's execute()/
// execute_action()/prepare_invocation() trio, collapsed into one
// sequential function since Go has no async runtime boundary forcing the
// split the original used.
func (e *Engine) Execute(ctx context.Context, invocation domain.ActionInvocation) (result map[string]any, execErr error) {
	if err := e.Store.MarkRunning(ctx, invocation.ActionsLogID); err != nil {
		return nil, fmt.Errorf("marking action running: %w", err)
	}

	defer func() {
		e.persistAndNotify(ctx, invocation, result, execErr)
	}()

	data, err := e.Store.LoadInvocation(ctx, invocation.TaskID, invocation.TaskActionLocalID)
	if err != nil {
		return nil, fmt.Errorf("loading action invocation data: %w", err)
	}

	if err := domain.Validate(data.Task); err != nil {
		return nil, fmt.Errorf("invalid task row: %w", err)
	}
	if err := domain.Validate(data.TaskAction); err != nil {
		return nil, fmt.Errorf("invalid task action row: %w", err)
	}
	if err := domain.Validate(data.Action); err != nil {
		return nil, fmt.Errorf("invalid action row: %w", err)
	}
	if data.Account != nil {
		if err := domain.Validate(data.Account); err != nil {
			return nil, fmt.Errorf("invalid account row: %w", err)
		}
	}

	e.Notifier.Notify(ctx, notify.Notification{
		Event:          notify.EventActionStarted,
		TaskID:         invocation.TaskID,
		TaskTriggerID:  derefTaskTriggerID(invocation.TaskTriggerID),
		InputArrivalID: invocation.InputArrivalID,
		ActionsLogID:   invocation.ActionsLogID,
	})

	if data.Action.AccountRequired && data.TaskAction.AccountID == nil {
		return nil, domain.ErrAccountRequired
	}
	if data.Account != nil && data.Account.Expired(time.Now()) {
		return nil, domain.ErrAccountExpired
	}

	executor, err := e.Registry.Get(data.Action.ExecutorID)
	if err != nil {
		return nil, err
	}

	merged, err := mergePayload(data, invocation.Payload)
	if err != nil {
		return nil, err
	}

	if err := data.Action.TemplateFields.Validate(merged); err != nil {
		return nil, err
	}

	executorValues, err := e.renderExecutorTemplate(ctx, data.Action.ExecutorTemplate, merged)
	if err != nil {
		return nil, err
	}

	if err := executor.TemplateFields().Validate(executorValues); err != nil {
		return nil, err
	}

	output, err := executor.Execute(ctx, executorValues)
	if err != nil {
		return nil, err
	}

	if data.Action.PostprocessScript != "" {
		output, err = e.postprocess(ctx, data.Action.PostprocessScript, output, invocation.Payload)
		if err != nil {
			return nil, err
		}
	}

	return output, nil
}

// persistAndNotify runs as Execute's deferred tail so every return path
// -- including the early account-check/registry-lookup failures -- gets
// exactly one persist + notify, matching spec.md §4.F step 10 and the
// REDESIGN-FLAG-fixed success path (original_source's success branch
// mistakenly emits NotifyEvent::ActionError; this emits ActionSuccess).
func (e *Engine) persistAndNotify(ctx context.Context, invocation domain.ActionInvocation, output map[string]any, execErr error) {
	status := domain.LogStatusSuccess
	var resultJSON json.RawMessage
	notifyEvent := notify.EventActionSuccess
	notifyErr := ""

	if execErr != nil {
		status = domain.LogStatusError
		notifyEvent = notify.EventActionError
		notifyErr = execErr.Error()
		resultJSON, _ = json.Marshal(map[string]any{"error": notifyErr})
	} else {
		resultJSON, _ = json.Marshal(map[string]any{"output": output})
	}

	if err := e.Store.PersistResult(ctx, invocation.ActionsLogID, status, resultJSON); err != nil {
		notifyErr = fmt.Sprintf("%s (and failed to persist result: %v)", notifyErr, err)
	}

	e.Notifier.Notify(ctx, notify.Notification{
		Event:          notifyEvent,
		TaskID:         invocation.TaskID,
		TaskTriggerID:  derefTaskTriggerID(invocation.TaskTriggerID),
		InputArrivalID: invocation.InputArrivalID,
		ActionsLogID:   invocation.ActionsLogID,
		Error:          notifyErr,
	})
}

// mergePayload builds the executor template's input values by merging,
// in order, the task-action's pre-filled template, the invocation's own
// payload object, and the bound account's fields -- later sources
// overwrite earlier ones, per spec.md §4.F step 4 ("Account fields win so
// that user-level overrides cannot leak credentials into unauthorised
// slots").
func mergePayload(data *InvocationData, invocationPayload json.RawMessage) (map[string]any, error) {
	merged := make(map[string]any, len(data.Action.TemplateFields))

	if len(data.TaskAction.ActionTemplate) > 0 {
		for _, entry := range data.TaskAction.ActionTemplate {
			merged[entry.Field] = entry.Value
		}
	}

	if len(invocationPayload) > 0 {
		var payloadObj map[string]any
		if err := json.Unmarshal(invocationPayload, &payloadObj); err == nil {
			for k, v := range payloadObj {
				merged[k] = v
			}
		}
	}

	if data.Account != nil {
		for k, v := range data.Account.Fields {
			merged[k] = v
		}
	}

	return merged, nil
}

func (e *Engine) renderExecutorTemplate(ctx context.Context, tmpl domain.ScriptOrTemplate, merged map[string]any) (map[string]any, error) {
	if tmpl.IsScript() {
		value, err := e.Script.Run(ctx, tmpl.Script, map[string]any{"args": merged})
		if err != nil {
			return nil, fmt.Errorf("running executor template script: %w", err)
		}
		asMap, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("executor template script must return an object, got %T", value)
		}
		return asMap, nil
	}

	entries := make([]template.Entry, len(tmpl.Template))
	for i, te := range tmpl.Template {
		entries[i] = template.Entry{Field: te.Field, Value: te.Value}
	}
	return template.RenderEntries(entries, merged)
}

func (e *Engine) postprocess(ctx context.Context, src string, output map[string]any, invocationPayload json.RawMessage) (map[string]any, error) {
	var payloadVal any
	if len(invocationPayload) > 0 {
		_ = json.Unmarshal(invocationPayload, &payloadVal)
	}

	value, err := e.Script.Run(ctx, src, map[string]any{"output": output, "payload": payloadVal})
	if err != nil {
		return nil, fmt.Errorf("running postprocess script: %w", err)
	}
	if value == nil {
		return output, nil
	}
	asMap, ok := value.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("postprocess script must return an object or null, got %T", value)
	}
	return asMap, nil
}

func derefTaskTriggerID(id *objectid.TaskTriggerID) objectid.TaskTriggerID {
	if id == nil {
		return objectid.TaskTriggerID{}
	}
	return *id
}
