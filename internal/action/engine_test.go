package action

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
)

type fakeStore struct {
	data          *InvocationData
	loadErr       error
	runningCalls  []uuid.UUID
	persistedStat domain.LogStatus
	persistedID   uuid.UUID
	persistedBody json.RawMessage
}

func (f *fakeStore) LoadInvocation(_ context.Context, _ objectid.TaskID, _ string) (*InvocationData, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.data, nil
}

func (f *fakeStore) MarkRunning(_ context.Context, id uuid.UUID) error {
	f.runningCalls = append(f.runningCalls, id)
	return nil
}

func (f *fakeStore) PersistResult(_ context.Context, id uuid.UUID, status domain.LogStatus, result json.RawMessage) error {
	f.persistedID = id
	f.persistedStat = status
	f.persistedBody = result
	return nil
}

type fakeNotifier struct {
	events []notify.Notification
}

func (f *fakeNotifier) Notify(_ context.Context, n notify.Notification) {
	f.events = append(f.events, n)
}

type mockExecutor struct {
	name   string
	fields domain.TemplateFields
	output map[string]any
	err    error
	gotValues map[string]any
}

func (m *mockExecutor) Name() string                         { return m.name }
func (m *mockExecutor) TemplateFields() domain.TemplateFields { return m.fields }
func (m *mockExecutor) Execute(_ context.Context, values map[string]any) (map[string]any, error) {
	m.gotValues = values
	if m.err != nil {
		return nil, m.err
	}
	return m.output, nil
}

// newTestInvocationData mirrors spec.md §9's echo acceptance scenario:
// a task_action pre-fills one constant field, the invocation payload
// supplies the value a trigger resolved, and the action's own
// executor_template does the Handlebars-style substitution against the
// merged result.
func newTestInvocationData(executorID string) *InvocationData {
	return &InvocationData{
		Task: domain.Task{TaskID: objectid.NewTaskID(), Name: "my-task"},
		TaskAction: domain.TaskAction{
			LocalID: "run",
			Name:    "run",
			ActionTemplate: []domain.TemplateEntry{
				{Field: "constant_field", Value: "always-the-same"},
			},
		},
		Action: domain.Action{
			ActionID:   objectid.NewActionID(),
			Name:       "echo",
			ExecutorID: executorID,
			ExecutorTemplate: domain.ScriptOrTemplate{
				Template: []domain.TemplateEntry{
					{Field: "text", Value: "{{url}}"},
				},
			},
			TemplateFields: domain.TemplateFields{
				"url":            {Format: domain.TemplateFieldFormat{Type: domain.FormatString}},
				"constant_field": {Format: domain.TemplateFieldFormat{Type: domain.FormatString}},
			},
		},
	}
}

func TestEngine_Execute_Success(t *testing.T) {
	store := &fakeStore{data: newTestInvocationData("mock")}
	notifier := &fakeNotifier{}
	mock := &mockExecutor{
		name:   "mock",
		fields: domain.TemplateFields{"text": {Format: domain.TemplateFieldFormat{Type: domain.FormatString}}},
		output: map[string]any{"ok": true},
	}
	engine := &Engine{
		Store:    store,
		Registry: NewRegistry(mock),
		Notifier: notifier,
	}

	invocation := domain.ActionInvocation{
		ActionsLogID:      uuid.New(),
		TaskID:            store.data.Task.TaskID,
		TaskActionLocalID: "run",
		InputArrivalID:    uuid.New(),
		Payload:           json.RawMessage(`{"url": "http://example.com"}`),
	}

	output, err := engine.Execute(context.Background(), invocation)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"ok": true}, output)

	assert.Equal(t, "http://example.com", mock.gotValues["text"])
	assert.Equal(t, domain.LogStatusSuccess, store.persistedStat)
	assert.Equal(t, invocation.ActionsLogID, store.persistedID)

	require.Len(t, notifier.events, 2)
	assert.Equal(t, notify.EventActionStarted, notifier.events[0].Event)
	assert.Equal(t, notify.EventActionSuccess, notifier.events[1].Event, "REDESIGN FLAG: success must emit ActionSuccess, not ActionError")
}

func TestEngine_Execute_ExecutorFailureEmitsActionError(t *testing.T) {
	store := &fakeStore{data: newTestInvocationData("mock")}
	notifier := &fakeNotifier{}
	mock := &mockExecutor{
		name:   "mock",
		fields: domain.TemplateFields{"text": {Format: domain.TemplateFieldFormat{Type: domain.FormatString}}},
		err:    assert.AnError,
	}
	engine := &Engine{Store: store, Registry: NewRegistry(mock), Notifier: notifier}

	invocation := domain.ActionInvocation{
		ActionsLogID:      uuid.New(),
		TaskID:            store.data.Task.TaskID,
		TaskActionLocalID: "run",
		Payload:           json.RawMessage(`{"url": "http://example.com"}`),
	}

	_, err := engine.Execute(context.Background(), invocation)
	require.Error(t, err)

	assert.Equal(t, domain.LogStatusError, store.persistedStat)
	require.Len(t, notifier.events, 2)
	assert.Equal(t, notify.EventActionError, notifier.events[1].Event)
	assert.NotEmpty(t, notifier.events[1].Error)
}

func TestEngine_Execute_MissingExecutorIsError(t *testing.T) {
	store := &fakeStore{data: newTestInvocationData("does-not-exist")}
	notifier := &fakeNotifier{}
	engine := &Engine{Store: store, Registry: NewRegistry(), Notifier: notifier}

	invocation := domain.ActionInvocation{
		ActionsLogID:      uuid.New(),
		TaskID:            store.data.Task.TaskID,
		TaskActionLocalID: "run",
	}

	_, err := engine.Execute(context.Background(), invocation)
	require.ErrorIs(t, err, domain.ErrMissingExecutor)
	assert.Equal(t, domain.LogStatusError, store.persistedStat)
}

func TestEngine_Execute_AccountRequiredButMissing(t *testing.T) {
	data := newTestInvocationData("mock")
	data.Action.AccountRequired = true
	store := &fakeStore{data: data}
	notifier := &fakeNotifier{}
	mock := &mockExecutor{name: "mock", fields: domain.TemplateFields{}}
	engine := &Engine{Store: store, Registry: NewRegistry(mock), Notifier: notifier}

	invocation := domain.ActionInvocation{
		ActionsLogID:      uuid.New(),
		TaskID:            data.Task.TaskID,
		TaskActionLocalID: "run",
	}

	_, err := engine.Execute(context.Background(), invocation)
	require.ErrorIs(t, err, domain.ErrAccountRequired)
}

func TestEngine_Execute_MergeOrderAccountFieldsWin(t *testing.T) {
	data := newTestInvocationData("mock")
	accountID := objectid.NewAccountID()
	data.TaskAction.AccountID = &accountID
	data.Account = &domain.Account{Name: "acct", Fields: map[string]any{"url": "from-account"}}
	store := &fakeStore{data: data}
	mock := &mockExecutor{name: "mock", fields: domain.TemplateFields{"text": {Format: domain.TemplateFieldFormat{Type: domain.FormatString}}}}
	engine := &Engine{Store: store, Registry: NewRegistry(mock), Notifier: &fakeNotifier{}}

	invocation := domain.ActionInvocation{
		ActionsLogID:      uuid.New(),
		TaskID:            data.Task.TaskID,
		TaskActionLocalID: "run",
		Payload:           json.RawMessage(`{"url": "from-payload"}`),
	}

	_, err := engine.Execute(context.Background(), invocation)
	require.NoError(t, err)
	assert.Equal(t, "from-account", mock.gotValues["text"])
}

func TestEngine_Execute_PostprocessReplacesOutput(t *testing.T) {
	data := newTestInvocationData("mock")
	data.Action.PostprocessScript = "return {replaced: true}"
	store := &fakeStore{data: data}
	mock := &mockExecutor{
		name:   "mock",
		fields: domain.TemplateFields{"text": {Format: domain.TemplateFieldFormat{Type: domain.FormatString}}},
		output: map[string]any{"original": true},
	}
	engine := &Engine{
		Store:    store,
		Registry: NewRegistry(mock),
		Notifier: &fakeNotifier{},
		Script:   &fakeScriptRunner{value: map[string]any{"replaced": true}},
	}

	invocation := domain.ActionInvocation{
		ActionsLogID:      uuid.New(),
		TaskID:            data.Task.TaskID,
		TaskActionLocalID: "run",
		Payload:           json.RawMessage(`{"url": "http://example.com"}`),
	}

	output, err := engine.Execute(context.Background(), invocation)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"replaced": true}, output)
}

type fakeScriptRunner struct {
	value any
	err   error
}

func (f *fakeScriptRunner) Run(_ context.Context, _ string, _ map[string]any) (any, error) {
	return f.value, f.err
}
