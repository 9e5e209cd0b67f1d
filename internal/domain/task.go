package domain

import (
	"encoding/json"

	"github.com/dimfeld/ergo/internal/objectid"
)

// Task is the immutable tuple plus two mutable JSON blobs described in
// spec.md §3. config and state are stored as raw JSON rather than typed
// Go structs here because the input-application engine (internal/input)
// is the only place that needs to decode them into
// []statemachine.StateMachine / []statemachine.StateMachineData, and
// decoding eagerly on every row load this package would touch would
// require importing internal/statemachine from internal/domain, which
// would make domain depend on an engine package for no benefit to the
// other consumers of Task (the drain and the action engine never look
// inside config/state).
type Task struct {
	TaskID          objectid.TaskID `json:"task_id"`
	OrgID           objectid.OrgID  `json:"org_id"`
	Name            string          `json:"name" validate:"required"`
	Enabled         bool            `json:"enabled"`
	TaskTemplateID  *objectid.TaskTemplateID `json:"task_template_id,omitempty"`
	TemplateVersion int             `json:"template_version"`
	Config          json.RawMessage `json:"config"` // []statemachine.StateMachine
	State           json.RawMessage `json:"state"`  // []statemachine.StateMachineData
}
