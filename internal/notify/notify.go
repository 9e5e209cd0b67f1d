// Package notify names the notification collaborator's interface at the
// one point the core touches it (spec.md §1 treats notification delivery
// as an external collaborator out of scope for this specification). The
// default implementation here logs events; a real deployment would swap
// it for a delivery service without the core caring.
package notify

import (
	"context"
	"log/slog"

	"github.com/dimfeld/ergo/internal/objectid"
	"github.com/google/uuid"
)

// Event identifies what happened. ActionStarted supplements spec.md's
// named events (InputProcessed, ActionSuccess, ActionError) with the
// original's pre-dispatch notification (api/tasks/actions/execute.rs
// emits one before calling the executor) — pure observability addition,
// emitted by the action engine at the start of dispatch.
type Event string

const (
	EventInputProcessed Event = "input_processed"
	EventActionStarted  Event = "action_started"
	EventActionSuccess  Event = "action_success"
	EventActionError    Event = "action_error"
)

// Notification is the payload handed to the collaborator. Fields beyond
// Event are optional depending on which event is being reported.
type Notification struct {
	Event          Event
	TaskID         objectid.TaskID
	TaskTriggerID  objectid.TaskTriggerID
	InputArrivalID uuid.UUID
	ActionsLogID   uuid.UUID
	Error          string
}

// Notifier is the collaborator interface the core calls into. It never
// returns an error to the caller: notification delivery failures must not
// abort an input application or action execution, matching spec.md's
// framing of notifications as a side channel, not part of the
// transactional contract.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// LogNotifier is the default Notifier, logging every event at Info
// level. It is not meant to be the production delivery mechanism — just
// the ambient implementation that lets the core run and be tested
// without a real notification backend wired in.
type LogNotifier struct {
	Logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{Logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) {
	l.Logger.Info("notification",
		"event", string(n.Event),
		"task_id", n.TaskID.String(),
		"actions_log_id", n.ActionsLogID.String(),
		"input_arrival_id", n.InputArrivalID.String(),
		"error", n.Error,
	)
}
