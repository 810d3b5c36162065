package action

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

type fakeEntity struct {
	ID      uint64         `json:"id"`
	Fields  map[string]any `json:"fields"`
	saves   int
	saveErr error
}

func newFakeEntity(fields map[string]any) *fakeEntity {
	return &fakeEntity{ID: 42, Fields: fields}
}

func (f *fakeEntity) EntityType() string { return "asset" }
func (f *fakeEntity) EntityID() uint64   { return f.ID }

func (f *fakeEntity) Field(name string) (any, bool) {
	v, ok := f.Fields[name]
	return v, ok
}

func (f *fakeEntity) SetField(name string, value any) error {
	if name == "id" {
		return errors.New("id is read-only")
	}
	f.Fields[name] = value
	return nil
}

func (f *fakeEntity) Relation(context.Context, *gorm.DB, string) (model.FieldReader, error) {
	return nil, nil
}

func (f *fakeEntity) Save(context.Context, *gorm.DB) error {
	f.saves++
	return f.saveErr
}

// MockHandler is a mock implementation of Handler
type MockHandler struct {
	mock.Mock
}

func (m *MockHandler) Validate(config json.RawMessage) error {
	args := m.Called(config)
	return args.Error(0)
}

func (m *MockHandler) Execute(ctx context.Context, tx *gorm.DB, entity model.Entity, config json.RawMessage) (any, error) {
	args := m.Called(ctx, tx, entity, config)
	return args.Get(0), args.Error(1)
}

func newAction(actionType string, order int, policy model.FailurePolicy, config string) model.TransitionAction {
	return model.TransitionAction{
		BaseModel:      model.BaseModel{ID: uuid.New()},
		ActionType:     actionType,
		ExecutionOrder: order,
		Config:         json.RawMessage(config),
		OnFailure:      policy,
		Active:         true,
	}
}

func TestRunner_ExecutesInOrder(t *testing.T) {
	var calls []string
	runner := NewRunner()
	for _, name := range []string{"first", "second", "third"} {
		name := name
		h := new(MockHandler)
		h.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
			Run(func(mock.Arguments) { calls = append(calls, name) }).
			Return(name+"-done", nil)
		runner.Register(name, h)
	}

	third := newAction("third", 30, model.FailurePolicyAbort, `{}`)
	first := newAction("first", 10, model.FailurePolicyAbort, `{}`)
	second := newAction("second", 20, model.FailurePolicyAbort, `{}`)
	transition := &model.PipelineTransition{Code: "activate", Actions: []model.TransitionAction{third, first, second}}

	results, err := runner.Run(context.Background(), nil, transition, newFakeEntity(map[string]any{}))

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second", "third"}, calls)
	assert.Equal(t, Result{Type: "first", Status: StatusSuccess, Result: "first-done"}, results[first.ID.String()])
	assert.Len(t, results, 3)
}

func TestRunner_SkipsInactiveActions(t *testing.T) {
	h := new(MockHandler)
	runner := NewRunner()
	runner.Register("noop", h)

	inactive := newAction("noop", 1, model.FailurePolicyAbort, `{}`)
	inactive.Active = false
	transition := &model.PipelineTransition{Actions: []model.TransitionAction{inactive}}

	results, err := runner.Run(context.Background(), nil, transition, newFakeEntity(nil))

	require.NoError(t, err)
	assert.Empty(t, results)
	h.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRunner_UnknownTypeIsSkippedAsSuccess(t *testing.T) {
	runner := NewRunner()
	a := newAction("fax_document", 1, model.FailurePolicyAbort, `{}`)
	transition := &model.PipelineTransition{Actions: []model.TransitionAction{a}}

	results, err := runner.Run(context.Background(), nil, transition, newFakeEntity(nil))

	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, results[a.ID.String()].Status)
	assert.Equal(t, "skipped", results[a.ID.String()].Result)
}

func TestRunner_FailurePolicies(t *testing.T) {
	boom := errors.New("boom")

	build := func(policy model.FailurePolicy) (*Runner, *model.PipelineTransition, *MockHandler) {
		ok := new(MockHandler)
		ok.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("ok", nil)
		bad := new(MockHandler)
		bad.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, boom)
		after := new(MockHandler)
		after.On("Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("after", nil)

		runner := NewRunner()
		runner.Register("ok", ok)
		runner.Register("bad", bad)
		runner.Register("after", after)

		transition := &model.PipelineTransition{Code: "dispose", Actions: []model.TransitionAction{
			newAction("ok", 1, model.FailurePolicyAbort, `{}`),
			newAction("bad", 2, policy, `{}`),
			newAction("after", 3, model.FailurePolicyAbort, `{}`),
		}}
		return runner, transition, after
	}

	t.Run("abort stops and reports", func(t *testing.T) {
		runner, transition, after := build(model.FailurePolicyAbort)

		results, err := runner.Run(context.Background(), nil, transition, newFakeEntity(nil))

		var aborted *model.ActionAbortedError
		require.ErrorAs(t, err, &aborted)
		assert.Equal(t, transition.Actions[1].ID.String(), aborted.ActionID)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, StatusFailed, results[transition.Actions[1].ID.String()].Status)
		assert.Equal(t, "boom", results[transition.Actions[1].ID.String()].Error)
		after.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	for _, policy := range []model.FailurePolicy{model.FailurePolicyContinue, model.FailurePolicyLogAndContinue} {
		t.Run(string(policy)+" records and proceeds", func(t *testing.T) {
			runner, transition, after := build(policy)

			results, err := runner.Run(context.Background(), nil, transition, newFakeEntity(nil))

			require.NoError(t, err)
			assert.Equal(t, StatusSuccess, results[transition.Actions[0].ID.String()].Status)
			assert.Equal(t, StatusFailed, results[transition.Actions[1].ID.String()].Status)
			assert.Equal(t, StatusSuccess, results[transition.Actions[2].ID.String()].Status)
			after.AssertNumberOfCalls(t, "Execute", 1)
		})
	}

	t.Run("unknown policy aborts", func(t *testing.T) {
		runner, transition, _ := build("")
		_, err := runner.Run(context.Background(), nil, transition, newFakeEntity(nil))
		assert.Equal(t, model.ErrCodeActionAborted, model.ErrorCode(err))
	})
}

func TestRunner_ValidateConfig(t *testing.T) {
	runner := NewRunner()
	runner.Register(TypeUpdateField, NewUpdateFieldHandler())

	assert.NoError(t, runner.ValidateConfig(TypeUpdateField, json.RawMessage(`{"field":"status","value":"active"}`)))

	err := runner.ValidateConfig(TypeUpdateField, json.RawMessage(`{"value":"active"}`))
	assert.Equal(t, model.ErrCodeInvalidActionConfig, model.ErrorCode(err))

	err = runner.ValidateConfig(TypeUpdateField, json.RawMessage(`{"field":`))
	assert.Equal(t, model.ErrCodeInvalidActionConfig, model.ErrorCode(err))

	err = runner.ValidateConfig("fax_document", json.RawMessage(`{}`))
	assert.Equal(t, model.ErrCodePluginNotFound, model.ErrorCode(err))
}

type undoHandler struct {
	MockHandler
	undone []any
}

func (u *undoHandler) Undo(_ context.Context, result any) error {
	u.undone = append(u.undone, result)
	return nil
}

func TestRunner_CompensateUndoesSuccessfulActionsNewestFirst(t *testing.T) {
	runner := NewRunner()
	undo := &undoHandler{}
	plain := &MockHandler{}
	runner.Register("archive", undo)
	runner.Register("plain", plain)

	first := newAction("archive", 1, model.FailurePolicyAbort, `{}`)
	second := newAction("archive", 2, model.FailurePolicyContinue, `{}`)
	third := newAction("archive", 3, model.FailurePolicyAbort, `{}`)
	other := newAction("plain", 4, model.FailurePolicyAbort, `{}`)
	transition := &model.PipelineTransition{Code: "dispose", Actions: []model.TransitionAction{third, other, first, second}}

	runner.Compensate(context.Background(), transition, map[string]Result{
		first.ID.String():  {Type: "archive", Status: StatusSuccess, Result: "key-1"},
		second.ID.String(): {Type: "archive", Status: StatusFailed},
		third.ID.String():  {Type: "archive", Status: StatusSuccess, Result: "key-3"},
		other.ID.String():  {Type: "plain", Status: StatusSuccess},
	})

	assert.Equal(t, []any{"key-3", "key-1"}, undo.undone)
	plain.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
