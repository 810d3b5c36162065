package model

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func boolPtr(b bool) *bool {
	return &b
}

func validDefinition() *PipelineDefinition {
	return &PipelineDefinition{
		Name:       "Asset Lifecycle",
		Code:       "AssetLifecycle",
		EntityType: "asset",
		Active:     true,
		States: []StateDefinition{
			{Code: "draft", Name: "Draft", Kind: StateKindInitial},
			{Code: "active", Name: "Active", Kind: StateKindIntermediate},
			{Code: "disposed", Name: "Disposed", Kind: StateKindFinal},
		},
		Transitions: []TransitionDefinition{
			{Code: "activate", Name: "Activate", From: "draft", To: "active"},
			{
				Code: "dispose", Name: "Dispose", From: "active", To: "disposed",
				Guards: &GuardConditions{FieldChecks: []FieldCheck{{Field: "condition", Operator: "!=", Value: "good"}}},
				Actions: []ActionDefinition{
					{Type: "update_field", Order: 1, Config: map[string]any{"field": "status", "value": "disposed"}},
				},
			},
			{Code: "report_lost", Name: "Report Lost", From: "*", To: "disposed"},
		},
	}
}

func TestPipelineDefinition_Validate(t *testing.T) {
	t.Run("valid definition", func(t *testing.T) {
		assert.NoError(t, validDefinition().Validate(nil))
	})

	t.Run("missing code", func(t *testing.T) {
		def := validDefinition()
		def.Code = ""
		assert.Error(t, def.Validate(nil))
	})

	t.Run("no initial state", func(t *testing.T) {
		def := validDefinition()
		def.States[0].Kind = StateKindIntermediate
		err := def.Validate(nil)
		assert.ErrorContains(t, err, "exactly one initial state")
	})

	t.Run("two initial states", func(t *testing.T) {
		def := validDefinition()
		def.States[1].Kind = StateKindInitial
		assert.ErrorContains(t, def.Validate(nil), "found 2")
	})

	t.Run("duplicate state code", func(t *testing.T) {
		def := validDefinition()
		def.States = append(def.States, StateDefinition{Code: "draft", Name: "Again", Kind: StateKindFinal})
		assert.ErrorContains(t, def.Validate(nil), "more than once")
	})

	t.Run("unknown state kind", func(t *testing.T) {
		def := validDefinition()
		def.States[1].Kind = "paused"
		assert.ErrorContains(t, def.Validate(nil), "unknown kind")
	})

	t.Run("unknown target state", func(t *testing.T) {
		def := validDefinition()
		def.Transitions[0].To = "archived"
		assert.ErrorContains(t, def.Validate(nil), "unknown target state")
	})

	t.Run("unknown source state", func(t *testing.T) {
		def := validDefinition()
		def.Transitions[0].From = "archived"
		assert.ErrorContains(t, def.Validate(nil), "unknown source state")
	})

	t.Run("unknown guard operator", func(t *testing.T) {
		def := validDefinition()
		def.Transitions[1].Guards.FieldChecks[0].Operator = "roughly"
		assert.ErrorContains(t, def.Validate(nil), "unsupported operator")
	})

	t.Run("relation check rejects ordering operators", func(t *testing.T) {
		def := validDefinition()
		def.Transitions[1].Guards.RelationChecks = []RelationCheck{{Relation: "custodian", Field: "age", Operator: ">", Value: 3}}
		assert.ErrorContains(t, def.Validate(nil), "relation_checks[0]")
	})

	t.Run("unknown failure policy", func(t *testing.T) {
		def := validDefinition()
		def.Transitions[1].Actions[0].OnFailure = "retry"
		assert.ErrorContains(t, def.Validate(nil), "unknown on_failure policy")
	})

	t.Run("action validator is consulted", func(t *testing.T) {
		def := validDefinition()
		var seen []string
		err := def.Validate(func(actionType string, config json.RawMessage) error {
			seen = append(seen, actionType)
			return errors.New("field is required")
		})
		assert.ErrorContains(t, err, "field is required")
		assert.Equal(t, []string{"update_field"}, seen)
	})
}

func TestTransitionDefinition_Defaults(t *testing.T) {
	assert.True(t, TransitionDefinition{From: ""}.IsWildcard())
	assert.True(t, TransitionDefinition{From: "*"}.IsWildcard())
	assert.False(t, TransitionDefinition{From: "draft"}.IsWildcard())

	assert.True(t, TransitionDefinition{}.IsActive())
	assert.False(t, TransitionDefinition{Active: boolPtr(false)}.IsActive())
}

func TestActionDefinition_Defaults(t *testing.T) {
	a := ActionDefinition{Type: "update_field"}
	assert.Equal(t, FailurePolicyAbort, a.Policy())
	assert.True(t, a.IsActive())

	raw, err := a.RawConfig()
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(raw))

	a.Config = map[string]any{"field": "status"}
	raw, err = a.RawConfig()
	require.NoError(t, err)
	assert.JSONEq(t, `{"field":"status"}`, string(raw))
}

func TestNormalizeOperator(t *testing.T) {
	assert.Equal(t, OperatorEquals, NormalizeOperator("="))
	assert.Equal(t, OperatorNotEquals, NormalizeOperator(" != "))
	assert.Equal(t, OperatorGreaterThan, NormalizeOperator(">"))
	assert.Equal(t, OperatorLessThan, NormalizeOperator("<"))
	assert.Equal(t, "roughly", NormalizeOperator("roughly"))

	assert.True(t, IsKnownOperator("contains"))
	assert.False(t, IsKnownOperator("roughly"))
	assert.True(t, IsRelationOperator("is_null"))
	assert.False(t, IsRelationOperator("contains"))
}

func TestValidationError(t *testing.T) {
	err := NewValidationError(ErrGuardRejected, FieldGuards, "first", "second")

	assert.Equal(t, []string{"first", "second"}, err.Messages(FieldGuards))
	assert.Equal(t, "validation failed: guards: first; second", err.Error())
	assert.Equal(t, ErrCodeGuardRejected, ErrorCode(err))
}

func TestActionAbortedError(t *testing.T) {
	cause := errors.New("boom")
	err := &ActionAbortedError{ActionID: "a1", ActionType: "custom", Err: cause}

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, ErrCodeActionAborted, ErrorCode(err))
}
