package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// EntityState binds one concrete entity to one pipeline and its current state.
type EntityState struct {
	BaseModel
	PipelineID         uuid.UUID  `gorm:"column:pipeline_id;type:varchar(36);not null;uniqueIndex:idx_entity_state_ref" json:"pipelineId"`
	EntityType         string     `gorm:"type:varchar(100);column:entity_type;not null;uniqueIndex:idx_entity_state_ref" json:"entityType"`
	EntityID           uint64     `gorm:"column:entity_id;not null;uniqueIndex:idx_entity_state_ref" json:"entityId"`
	CurrentStateID     uuid.UUID  `gorm:"column:current_state_id;type:varchar(36);not null;index" json:"currentStateId"`
	LastTransitionedBy *string    `gorm:"type:varchar(255);column:last_transitioned_by" json:"lastTransitionedBy,omitempty"` // Actor id, nil until the first transition
	LastTransitionedAt *time.Time `gorm:"column:last_transitioned_at" json:"lastTransitionedAt,omitempty"`

	// Relationships
	Pipeline     *Pipeline      `gorm:"foreignKey:PipelineID;references:ID" json:"pipeline,omitempty"`
	CurrentState *PipelineState `gorm:"foreignKey:CurrentStateID;references:ID" json:"currentState,omitempty"`
}

func (es *EntityState) TableName() string {
	return "entity_states"
}

// Ref returns the polymorphic reference of the bound entity.
func (es *EntityState) Ref() EntityRef {
	return EntityRef{Type: es.EntityType, ID: es.EntityID}
}

var ErrStateLogImmutable = errors.New("state logs are append-only")

// StateLog is an immutable audit row for one state change.
type StateLog struct {
	ID            uuid.UUID      `gorm:"column:id;type:varchar(36);not null;primaryKey" json:"id"`
	EntityStateID uuid.UUID      `gorm:"column:entity_state_id;type:varchar(36);not null;index" json:"entityStateId"`
	EntityType    string         `gorm:"type:varchar(100);column:entity_type;not null;index:idx_state_log_entity" json:"entityType"`
	EntityID      uint64         `gorm:"column:entity_id;not null;index:idx_state_log_entity" json:"entityId"`
	FromStateID   *uuid.UUID     `gorm:"column:from_state_id;type:varchar(36)" json:"fromStateId"` // Nil for the initial assignment entry
	ToStateID     uuid.UUID      `gorm:"column:to_state_id;type:varchar(36);not null" json:"toStateId"`
	TransitionID  *uuid.UUID     `gorm:"column:transition_id;type:varchar(36)" json:"transitionId"` // Nil for the initial assignment entry
	PerformedBy   *string        `gorm:"type:varchar(255);column:performed_by" json:"performedBy"`  // Nil when performed by the system
	Comment       *string        `gorm:"type:text;column:comment" json:"comment,omitempty"`
	Metadata      map[string]any `gorm:"column:metadata;serializer:json" json:"metadata,omitempty"`
	IPAddress     *string        `gorm:"type:varchar(64);column:ip_address" json:"ipAddress,omitempty"`
	UserAgent     *string        `gorm:"type:text;column:user_agent" json:"userAgent,omitempty"`
	CreatedAt     time.Time      `gorm:"column:created_at;not null;index" json:"createdAt"`

	// Relationships
	FromState  *PipelineState      `gorm:"foreignKey:FromStateID;references:ID" json:"fromState,omitempty"`
	ToState    *PipelineState      `gorm:"foreignKey:ToStateID;references:ID" json:"toState,omitempty"`
	Transition *PipelineTransition `gorm:"foreignKey:TransitionID;references:ID" json:"transition,omitempty"`
}

func (sl *StateLog) TableName() string {
	return "state_logs"
}

func (sl *StateLog) BeforeCreate(tx *gorm.DB) (err error) {
	if sl.ID == uuid.Nil {
		sl.ID, err = uuid.NewRandom()
		if err != nil {
			return
		}
	}
	if sl.CreatedAt.IsZero() {
		sl.CreatedAt = time.Now().UTC()
	}
	return
}

func (sl *StateLog) BeforeUpdate(tx *gorm.DB) error {
	return ErrStateLogImmutable
}

func (sl *StateLog) BeforeDelete(tx *gorm.DB) error {
	return ErrStateLogImmutable
}
