package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

type StateKind string

const (
	StateKindInitial      StateKind = "initial"      // Entry state used by assignment
	StateKindIntermediate StateKind = "intermediate" // Regular working state
	StateKindFinal        StateKind = "final"        // Terminal state, no outgoing transitions expected
)

// IsValid reports whether the kind is one of the known state kinds.
func (k StateKind) IsValid() bool {
	switch k {
	case StateKindInitial, StateKindIntermediate, StateKindFinal:
		return true
	}
	return false
}

type FailurePolicy string

const (
	FailurePolicyAbort          FailurePolicy = "abort"            // Roll back the whole transition
	FailurePolicyContinue       FailurePolicy = "continue"         // Record the failure and move on
	FailurePolicyLogAndContinue FailurePolicy = "log_and_continue" // Record, log and move on
)

// IsValid reports whether the policy is one of the known failure policies.
func (p FailurePolicy) IsValid() bool {
	switch p {
	case FailurePolicyAbort, FailurePolicyContinue, FailurePolicyLogAndContinue:
		return true
	}
	return false
}

// Pipeline is a workflow definition for one entity type.
type Pipeline struct {
	BaseModel
	Name                 string           `gorm:"type:varchar(255);column:name;not null" json:"name"`                                            // Human-readable pipeline name
	Code                 string           `gorm:"type:varchar(100);column:code;not null;uniqueIndex" json:"code"`                                // Unique pipeline code
	EntityType           string           `gorm:"type:varchar(100);column:entity_type;not null;index" json:"entityType"`                         // Type tag of the entities this pipeline drives
	Description          string           `gorm:"type:text;column:description" json:"description,omitempty"`                                    // Optional description
	Version              int              `gorm:"column:version;not null" json:"version"`                                                        // Definition version, bumped on every save
	Active               bool             `gorm:"column:active;not null" json:"active"`                                                          // At most one active pipeline per entity type
	ActivationConditions *GuardConditions `gorm:"column:activation_conditions;serializer:json" json:"activationConditions,omitempty"`            // Optional conditions an entity must meet to be assigned

	// Relationships
	States      []PipelineState      `gorm:"foreignKey:PipelineID;references:ID" json:"states,omitempty"`
	Transitions []PipelineTransition `gorm:"foreignKey:PipelineID;references:ID" json:"transitions,omitempty"`
}

func (p *Pipeline) TableName() string {
	return "pipelines"
}

// InitialState returns the first loaded state of kind initial, or nil.
func (p *Pipeline) InitialState() *PipelineState {
	for i := range p.States {
		if p.States[i].Kind == StateKindInitial {
			return &p.States[i]
		}
	}
	return nil
}

// PipelineState is one node in a pipeline's state graph.
type PipelineState struct {
	BaseModel
	PipelineID uuid.UUID      `gorm:"column:pipeline_id;type:varchar(36);not null;uniqueIndex:idx_pipeline_state_code" json:"pipelineId"`
	Code       string         `gorm:"type:varchar(100);column:code;not null;uniqueIndex:idx_pipeline_state_code" json:"code"` // Unique within the pipeline
	Name       string         `gorm:"type:varchar(255);column:name;not null" json:"name"`
	Kind       StateKind      `gorm:"type:varchar(20);column:kind;not null" json:"kind"`
	Color      string         `gorm:"type:varchar(20);column:color" json:"color,omitempty"`
	Icon       string         `gorm:"type:varchar(50);column:icon" json:"icon,omitempty"`
	SortOrder  int            `gorm:"column:sort_order;not null" json:"sortOrder"`
	Metadata   map[string]any `gorm:"column:metadata;serializer:json" json:"metadata,omitempty"`
}

func (s *PipelineState) TableName() string {
	return "pipeline_states"
}

// IsFinal reports whether the state is a terminal state.
func (s *PipelineState) IsFinal() bool {
	return s != nil && s.Kind == StateKindFinal
}

// PipelineTransition is a directed edge between two states. A nil FromStateID
// makes the transition available from any state.
type PipelineTransition struct {
	BaseModel
	PipelineID           uuid.UUID        `gorm:"column:pipeline_id;type:varchar(36);not null;uniqueIndex:idx_pipeline_transition_code" json:"pipelineId"`
	FromStateID          *uuid.UUID       `gorm:"column:from_state_id;type:varchar(36)" json:"fromStateId"` // Nil for wildcard transitions
	ToStateID            uuid.UUID        `gorm:"column:to_state_id;type:varchar(36);not null" json:"toStateId"`
	Name                 string           `gorm:"type:varchar(255);column:name;not null" json:"name"`
	Code                 string           `gorm:"type:varchar(100);column:code;not null;uniqueIndex:idx_pipeline_transition_code" json:"code"`
	RequiredPermission   *string          `gorm:"type:varchar(255);column:required_permission" json:"requiredPermission,omitempty"`
	GuardConditions      *GuardConditions `gorm:"column:guard_conditions;serializer:json" json:"guardConditions,omitempty"`
	RequiresConfirmation bool             `gorm:"column:requires_confirmation;not null" json:"requiresConfirmation"`
	RequiresComment      bool             `gorm:"column:requires_comment;not null" json:"requiresComment"`
	SortOrder            int              `gorm:"column:sort_order;not null" json:"sortOrder"`
	Active               bool             `gorm:"column:active;not null" json:"active"`

	// Relationships
	FromState *PipelineState     `gorm:"foreignKey:FromStateID;references:ID" json:"fromState,omitempty"`
	ToState   *PipelineState     `gorm:"foreignKey:ToStateID;references:ID" json:"toState,omitempty"`
	Actions   []TransitionAction `gorm:"foreignKey:TransitionID;references:ID" json:"actions,omitempty"`
}

func (t *PipelineTransition) TableName() string {
	return "pipeline_transitions"
}

// IsWildcard reports whether the transition applies from any state.
func (t *PipelineTransition) IsWildcard() bool {
	return t.FromStateID == nil
}

// AllowsFrom reports whether the transition may fire from the given state.
func (t *PipelineTransition) AllowsFrom(stateID uuid.UUID) bool {
	return t.FromStateID == nil || *t.FromStateID == stateID
}

// Permission returns the required permission, or "" when the transition is ungated.
func (t *PipelineTransition) Permission() string {
	if t.RequiredPermission == nil {
		return ""
	}
	return *t.RequiredPermission
}

// TransitionAction is one side effect attached to a transition.
type TransitionAction struct {
	BaseModel
	TransitionID   uuid.UUID       `gorm:"column:transition_id;type:varchar(36);not null;index" json:"transitionId"`
	Name           string          `gorm:"type:varchar(255);column:name" json:"name,omitempty"`
	ActionType     string          `gorm:"type:varchar(50);column:action_type;not null" json:"actionType"`      // update_field, create_record, send_notification, dispatch_job, archive_snapshot, custom
	ExecutionOrder int             `gorm:"column:execution_order;not null" json:"executionOrder"`
	Config         json.RawMessage `gorm:"column:config;serializer:json" json:"config,omitempty"`              // Type-specific configuration document
	OnFailure      FailurePolicy   `gorm:"type:varchar(30);column:on_failure;not null" json:"onFailure"`
	Active         bool            `gorm:"column:active;not null" json:"active"`
}

func (a *TransitionAction) TableName() string {
	return "transition_actions"
}
