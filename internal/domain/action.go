package domain

import "github.com/dimfeld/ergo/internal/objectid"

// Action is a named side effect with a template and an executor, per
// spec.md §3. Name and ExecutorID carry validate tags checked by Validate
// before the action engine dispatches to an executor (internal/action/
// engine.go's Execute) -- a row with either blank would otherwise fail
// much later and more confusingly, inside the registry lookup or the
// notifier.
type Action struct {
	ActionID          objectid.ActionID `json:"action_id"`
	Name              string            `json:"name" validate:"required"`
	ExecutorID        string            `json:"executor_id" validate:"required"`
	ExecutorTemplate  ScriptOrTemplate  `json:"executor_template"`
	TemplateFields    TemplateFields    `json:"template_fields"`
	AccountRequired   bool              `json:"account_required"`
	PostprocessScript string            `json:"postprocess_script,omitempty"`
	TimeoutSeconds    int               `json:"timeout_seconds,omitempty"`
}

// TaskAction binds a task-local name to an Action, optionally pre-filling
// some template fields and an account to use.
type TaskAction struct {
	TaskID         objectid.TaskID     `json:"task_id"`
	LocalID        string              `json:"task_action_local_id" validate:"required"`
	Name           string              `json:"name" validate:"required"`
	ActionID       objectid.ActionID   `json:"action_id"`
	ActionTemplate []TemplateEntry     `json:"action_template,omitempty"`
	AccountID      *objectid.AccountID `json:"account_id,omitempty"`
}

// Input is a named event type with a JSON schema; the external world
// pushes payloads conforming to it.
type Input struct {
	InputID objectid.InputID `json:"input_id"`
	Name    string           `json:"name"`
	Schema  []byte           `json:"schema"` // JSON schema, validated externally to the core per spec.md §1
}

// TaskTrigger is a task-local name for an Input binding.
type TaskTrigger struct {
	TaskID  objectid.TaskID        `json:"task_id"`
	LocalID string                 `json:"task_trigger_local_id"`
	InputID objectid.InputID       `json:"input_id"`
	Name    string                 `json:"name"`
}
