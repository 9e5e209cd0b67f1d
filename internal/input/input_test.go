package input

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dimfeld/ergo/internal/domain"
	"github.com/dimfeld/ergo/internal/notify"
	"github.com/dimfeld/ergo/internal/objectid"
	"github.com/dimfeld/ergo/internal/statemachine"
)

type fakeTx struct {
	data           *TaskApplyData
	loadErr        error
	updatedState   json.RawMessage
	loggedRows     []domain.ActionsLogRow
	stagedInvokes  []domain.ActionInvocation
	insertLogErr   error
	insertStageErr error
}

func (f *fakeTx) LoadTask(_ context.Context, _ objectid.TaskID, _ objectid.TaskTriggerID) (*TaskApplyData, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.data, nil
}

func (f *fakeTx) UpdateTaskState(_ context.Context, _ objectid.TaskID, state json.RawMessage) error {
	f.updatedState = state
	return nil
}

func (f *fakeTx) InsertActionsLog(_ context.Context, row domain.ActionsLogRow) error {
	if f.insertLogErr != nil {
		return f.insertLogErr
	}
	f.loggedRows = append(f.loggedRows, row)
	return nil
}

func (f *fakeTx) InsertActionStaging(_ context.Context, inv domain.ActionInvocation) error {
	if f.insertStageErr != nil {
		return f.insertStageErr
	}
	f.stagedInvokes = append(f.stagedInvokes, inv)
	return nil
}

type fakeStore struct {
	tx            *fakeTx
	runErr        error
	loggedStatus  domain.LogStatus
	loggedErrBlob json.RawMessage
	updateCalls   int
}

func (f *fakeStore) RunSerializable(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	if f.runErr != nil {
		return f.runErr
	}
	return fn(ctx, f.tx)
}

func (f *fakeStore) UpdateInputsLog(_ context.Context, _ uuid.UUID, status domain.LogStatus, errBlob json.RawMessage) error {
	f.updateCalls++
	f.loggedStatus = status
	f.loggedErrBlob = errBlob
	return nil
}

type fakeNotifier struct {
	events []notify.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n notify.Notification) {
	f.events = append(f.events, n)
}

type fakeActionExecutor struct {
	executed []domain.ActionInvocation
	err      error
}

func (f *fakeActionExecutor) Execute(_ context.Context, inv domain.ActionInvocation) (map[string]any, error) {
	f.executed = append(f.executed, inv)
	return nil, f.err
}

func oneMachineTask(taskID objectid.TaskID, triggerLocal string) *TaskApplyData {
	config, _ := json.Marshal([]statemachine.StateMachine{
		{
			Initial: "pending",
			States: map[string]statemachine.StateDefinition{
				"pending": {
					On: []statemachine.EventHandler{
						{
							TriggerID: triggerLocal,
							Target:    &statemachine.TransitionTarget{Literal: "done"},
							Actions: []statemachine.ActionInvokeDef{
								{TaskActionLocalID: "notify", Data: statemachine.ActionPayloadBuilder{
									FieldMap: map[string]statemachine.ActionInvokeDefDataField{
										"msg": {Kind: statemachine.FieldSourceConstant, Constant: json.RawMessage(`"hi"`)},
									},
								}},
							},
						},
					},
				},
				"done": {},
			},
		},
	})
	state, _ := json.Marshal([]statemachine.StateMachineData{{State: "pending", Context: json.RawMessage(`{}`)}})

	return &TaskApplyData{
		Task: domain.Task{
			TaskID: taskID,
			Name:   "my-task",
			Config: config,
			State:  state,
		},
		TriggerLocalID: triggerLocal,
	}
}

func TestApplyInput_StagesActionsAndUpdatesState(t *testing.T) {
	taskID := objectid.NewTaskID()
	tx := &fakeTx{data: oneMachineTask(taskID, "go")}
	store := &fakeStore{tx: tx}
	notifier := &fakeNotifier{}
	engine := &Engine{Store: store, Notifier: notifier}

	triggerID := objectid.NewTaskTriggerID()
	arrivalID := uuid.New()

	err := engine.ApplyInput(context.Background(), taskID, objectid.NewInputID(), triggerID, arrivalID, json.RawMessage(`{}`), false)
	require.NoError(t, err)

	assert.NotNil(t, tx.updatedState)
	require.Len(t, tx.loggedRows, 1)
	assert.Equal(t, domain.LogStatusPending, tx.loggedRows[0].Status)
	require.Len(t, tx.stagedInvokes, 1)
	assert.Equal(t, "notify", tx.stagedInvokes[0].TaskActionLocalID)

	require.Len(t, notifier.events, 1)
	assert.Equal(t, notify.EventInputProcessed, notifier.events[0].Event)

	assert.Equal(t, 1, store.updateCalls)
	assert.Equal(t, domain.LogStatusSuccess, store.loggedStatus)
}

func TestApplyInput_ImmediateActionsRunsAfterCommitAndSkipsStaging(t *testing.T) {
	taskID := objectid.NewTaskID()
	tx := &fakeTx{data: oneMachineTask(taskID, "go")}
	store := &fakeStore{tx: tx}
	actions := &fakeActionExecutor{}
	engine := &Engine{Store: store, Notifier: &fakeNotifier{}, Actions: actions}

	err := engine.ApplyInput(context.Background(), taskID, objectid.NewInputID(), objectid.NewTaskTriggerID(), uuid.New(), json.RawMessage(`{}`), true)
	require.NoError(t, err)

	assert.Empty(t, tx.stagedInvokes, "immediate actions must not also be staged for the drain")
	require.Len(t, actions.executed, 1)
	assert.Equal(t, "notify", actions.executed[0].TaskActionLocalID)
}

func TestApplyInput_UnknownTriggerIsNoopButStillSucceeds(t *testing.T) {
	taskID := objectid.NewTaskID()
	data := oneMachineTask(taskID, "go")
	data.TriggerLocalID = "some-other-trigger"
	tx := &fakeTx{data: data}
	store := &fakeStore{tx: tx}
	engine := &Engine{Store: store, Notifier: &fakeNotifier{}}

	err := engine.ApplyInput(context.Background(), taskID, objectid.NewInputID(), objectid.NewTaskTriggerID(), uuid.New(), json.RawMessage(`{}`), false)
	require.NoError(t, err)

	assert.Nil(t, tx.updatedState)
	assert.Empty(t, tx.loggedRows)
}

func TestApplyInput_LoadFailurePropagatesAndMarksInputsLogError(t *testing.T) {
	tx := &fakeTx{loadErr: domain.ErrTaskNotFound}
	store := &fakeStore{tx: tx}
	engine := &Engine{Store: store, Notifier: &fakeNotifier{}}

	err := engine.ApplyInput(context.Background(), objectid.NewTaskID(), objectid.NewInputID(), objectid.NewTaskTriggerID(), uuid.New(), json.RawMessage(`{}`), false)
	require.ErrorIs(t, err, domain.ErrTaskNotFound)

	assert.Equal(t, domain.LogStatusError, store.loggedStatus)
	assert.NotEmpty(t, store.loggedErrBlob)
}

func TestApplyInput_ImmediateActionsWithoutExecutorIsError(t *testing.T) {
	taskID := objectid.NewTaskID()
	tx := &fakeTx{data: oneMachineTask(taskID, "go")}
	store := &fakeStore{tx: tx}
	engine := &Engine{Store: store, Notifier: &fakeNotifier{}}

	err := engine.ApplyInput(context.Background(), taskID, objectid.NewInputID(), objectid.NewTaskTriggerID(), uuid.New(), json.RawMessage(`{}`), true)
	require.Error(t, err)
}
