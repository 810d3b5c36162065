package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/OpenNSW/pipeline/internal/pipeline/guard"
	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// TransitionOption is a transition offered from the current state, with the
// reasons it cannot be taken right now.
type TransitionOption struct {
	ID                   uuid.UUID            `json:"id"`
	Code                 string               `json:"code"`
	Name                 string               `json:"name"`
	ToState              *model.PipelineState `json:"toState,omitempty"`
	RequiresComment      bool                 `json:"requiresComment"`
	RequiresConfirmation bool                 `json:"requiresConfirmation"`
	Allowed              bool                 `json:"allowed"`
	Reasons              []string             `json:"reasons"`
}

// EntityPipelineView is the current position of an entity and its options.
type EntityPipelineView struct {
	EntityState *model.EntityState `json:"entityState"`
	Transitions []TransitionOption `json:"transitions"`
}

// StateCount is the number of entities currently in one state.
type StateCount struct {
	StateID uuid.UUID       `json:"stateId"`
	Code    string          `json:"code"`
	Name    string          `json:"name"`
	Kind    model.StateKind `json:"kind"`
	Count   int64           `json:"count"`
}

// Query serves the read-only dashboard and timeline views.
type Query struct {
	db       *gorm.DB
	store    *PipelineStore
	guards   *guard.Evaluator
	entities EntityResolver
	now      func() time.Time
}

func NewQuery(db *gorm.DB, store *PipelineStore, guards *guard.Evaluator, entities EntityResolver) *Query {
	return &Query{db: db, store: store, guards: guards, entities: entities, now: time.Now}
}

// AvailableTransitions returns the entity's current state and every active
// transition leaving it, each evaluated for permission and guards. Entities
// in a final state have no options.
func (q *Query) AvailableTransitions(ctx context.Context, ref model.EntityRef, actor model.Actor) (*EntityPipelineView, error) {
	es, err := q.store.GetEntityState(ctx, ref)
	if err != nil {
		return nil, err
	}

	view := &EntityPipelineView{EntityState: es, Transitions: []TransitionOption{}}
	if es.CurrentState.IsFinal() {
		return view, nil
	}

	transitions, err := q.store.ListTransitionsFrom(ctx, es.PipelineID, es.CurrentStateID)
	if err != nil {
		return nil, err
	}
	if len(transitions) == 0 {
		return view, nil
	}

	entity, err := q.entities.Resolve(ctx, q.db, ref)
	if err != nil {
		return nil, err
	}

	for i := range transitions {
		t := &transitions[i]
		reasons := []string{}
		if !permitted(actor, t) {
			reasons = append(reasons, "insufficient permission")
		}
		reasons = append(reasons, q.guards.Evaluate(ctx, q.db, t, entity)...)

		view.Transitions = append(view.Transitions, TransitionOption{
			ID:                   t.ID,
			Code:                 t.Code,
			Name:                 t.Name,
			ToState:              t.ToState,
			RequiresComment:      t.RequiresComment,
			RequiresConfirmation: t.RequiresConfirmation,
			Allowed:              len(reasons) == 0,
			Reasons:              reasons,
		})
	}
	return view, nil
}

// StateCounts returns the number of entities per state of a pipeline, in
// state display order. States without entities are included with zero.
func (q *Query) StateCounts(ctx context.Context, pipelineID uuid.UUID) ([]StateCount, error) {
	states, err := q.store.ListStates(ctx, pipelineID)
	if err != nil {
		return nil, err
	}

	var rows []struct {
		CurrentStateID uuid.UUID
		Count          int64
	}
	err = q.db.WithContext(ctx).Model(&model.EntityState{}).
		Select("current_state_id, COUNT(*) AS count").
		Where("pipeline_id = ?", pipelineID).
		Group("current_state_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count entities per state: %w", err)
	}

	byState := make(map[uuid.UUID]int64, len(rows))
	for _, r := range rows {
		byState[r.CurrentStateID] = r.Count
	}

	counts := make([]StateCount, 0, len(states))
	for _, s := range states {
		counts = append(counts, StateCount{
			StateID: s.ID,
			Code:    s.Code,
			Name:    s.Name,
			Kind:    s.Kind,
			Count:   byState[s.ID],
		})
	}
	return counts, nil
}

// StaleEntities returns the entities of a pipeline that sit in a non-final
// state and have not moved for more than days. Entities that never moved are
// measured from their assignment.
func (q *Query) StaleEntities(ctx context.Context, pipelineID uuid.UUID, days int) ([]model.EntityState, error) {
	if days < 0 {
		return nil, fmt.Errorf("days must not be negative, got %d", days)
	}
	cutoff := q.now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	var stale []model.EntityState
	err := q.db.WithContext(ctx).
		Preload("CurrentState").
		Joins("JOIN pipeline_states ON pipeline_states.id = entity_states.current_state_id").
		Where("entity_states.pipeline_id = ?", pipelineID).
		Where("pipeline_states.kind <> ?", model.StateKindFinal).
		Where("COALESCE(entity_states.last_transitioned_at, entity_states.created_at) < ?", cutoff).
		Order("COALESCE(entity_states.last_transitioned_at, entity_states.created_at) ASC").
		Find(&stale).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list stale entities: %w", err)
	}
	return stale, nil
}
