package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
	"github.com/OpenNSW/pipeline/utils"
)

// PipelineStore handles read access to pipeline definitions.
type PipelineStore struct {
	db *gorm.DB
}

func NewPipelineStore(db *gorm.DB) *PipelineStore {
	return &PipelineStore{db: db}
}

func orderedActions(db *gorm.DB) *gorm.DB {
	return db.Order("execution_order ASC")
}

func orderedStates(db *gorm.DB) *gorm.DB {
	return db.Order("sort_order ASC, code ASC")
}

func orderedTransitions(db *gorm.DB) *gorm.DB {
	return db.Order("sort_order ASC, code ASC")
}

// GetActiveByEntityType returns the active pipeline for an entity type, or nil
// when there is none.
func (s *PipelineStore) GetActiveByEntityType(ctx context.Context, entityType string) (*model.Pipeline, error) {
	return s.GetActiveByEntityTypeInTx(ctx, s.db, entityType)
}

func (s *PipelineStore) GetActiveByEntityTypeInTx(ctx context.Context, tx *gorm.DB, entityType string) (*model.Pipeline, error) {
	var p model.Pipeline
	err := tx.WithContext(ctx).
		Where("entity_type = ? AND active = ?", entityType, true).
		Order("updated_at DESC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve active pipeline for %s: %w", entityType, err)
	}
	return &p, nil
}

// GetByID retrieves a pipeline with its states and transitions.
func (s *PipelineStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Pipeline, error) {
	var p model.Pipeline
	err := s.db.WithContext(ctx).
		Preload("States", orderedStates).
		Preload("Transitions", orderedTransitions).
		Preload("Transitions.Actions", orderedActions).
		First(&p, "id = ?", id).Error
	if err != nil {
		return nil, pipelineLookupError(err, "id", id.String())
	}
	return &p, nil
}

// GetByCode retrieves a pipeline with its states and transitions.
func (s *PipelineStore) GetByCode(ctx context.Context, code string) (*model.Pipeline, error) {
	var p model.Pipeline
	err := s.db.WithContext(ctx).
		Preload("States", orderedStates).
		Preload("Transitions", orderedTransitions).
		Preload("Transitions.Actions", orderedActions).
		First(&p, "code = ?", code).Error
	if err != nil {
		return nil, pipelineLookupError(err, "code", code)
	}
	return &p, nil
}

func pipelineLookupError(err error, key, value string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.NewError(model.ErrPipelineNotFound,
			fmt.Sprintf("pipeline %s %s not found", key, value), nil,
			map[string]any{key: value})
	}
	return fmt.Errorf("failed to retrieve pipeline: %w", err)
}

// List returns pipelines without their graphs, ordered by entity type and code.
func (s *PipelineStore) List(ctx context.Context, offset, limit *int) (utils.Page[model.Pipeline], error) {
	finalOffset, finalLimit := utils.GetPaginationParams(offset, limit)

	var total int64
	if err := s.db.WithContext(ctx).Model(&model.Pipeline{}).Count(&total).Error; err != nil {
		return utils.Page[model.Pipeline]{}, fmt.Errorf("failed to count pipelines: %w", err)
	}

	var pipelines []model.Pipeline
	err := s.db.WithContext(ctx).
		Order("entity_type ASC, code ASC").
		Offset(finalOffset).
		Limit(finalLimit).
		Find(&pipelines).Error
	if err != nil {
		return utils.Page[model.Pipeline]{}, fmt.Errorf("failed to list pipelines: %w", err)
	}
	return utils.NewPage(pipelines, total, finalOffset, finalLimit), nil
}

// ListActive returns every active pipeline.
func (s *PipelineStore) ListActive(ctx context.Context) ([]model.Pipeline, error) {
	var pipelines []model.Pipeline
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("entity_type ASC").Find(&pipelines).Error; err != nil {
		return nil, fmt.Errorf("failed to list active pipelines: %w", err)
	}
	return pipelines, nil
}

// GetTransition retrieves a transition with its states and its actions in
// execution order.
func (s *PipelineStore) GetTransition(ctx context.Context, id uuid.UUID) (*model.PipelineTransition, error) {
	var t model.PipelineTransition
	err := s.db.WithContext(ctx).
		Preload("FromState").
		Preload("ToState").
		Preload("Actions", orderedActions).
		First(&t, "id = ?", id).Error
	if err != nil {
		return nil, transitionLookupError(err, id.String())
	}
	return &t, nil
}

// GetTransitionByCode retrieves a transition of one pipeline by its code.
func (s *PipelineStore) GetTransitionByCode(ctx context.Context, pipelineID uuid.UUID, code string) (*model.PipelineTransition, error) {
	var t model.PipelineTransition
	err := s.db.WithContext(ctx).
		Preload("FromState").
		Preload("ToState").
		Preload("Actions", orderedActions).
		Where("pipeline_id = ? AND code = ?", pipelineID, code).
		First(&t).Error
	if err != nil {
		return nil, transitionLookupError(err, code)
	}
	return &t, nil
}

func transitionLookupError(err error, key string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.NewError(model.ErrTransitionNotFound,
			fmt.Sprintf("transition %s not found", key), nil,
			map[string]any{"transition": key})
	}
	return fmt.Errorf("failed to retrieve transition: %w", err)
}

// ListTransitionsFrom returns the active transitions that may fire from
// stateID, wildcard transitions included, in display order.
func (s *PipelineStore) ListTransitionsFrom(ctx context.Context, pipelineID, stateID uuid.UUID) ([]model.PipelineTransition, error) {
	var transitions []model.PipelineTransition
	err := s.db.WithContext(ctx).
		Preload("ToState").
		Where("pipeline_id = ? AND active = ?", pipelineID, true).
		Where("from_state_id = ? OR from_state_id IS NULL", stateID).
		Order("sort_order ASC, code ASC").
		Find(&transitions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list transitions: %w", err)
	}
	return transitions, nil
}

// ListActionsInTx loads the actions of a transition in execution order.
func (s *PipelineStore) ListActionsInTx(ctx context.Context, tx *gorm.DB, transitionID uuid.UUID) ([]model.TransitionAction, error) {
	var actions []model.TransitionAction
	err := tx.WithContext(ctx).
		Where("transition_id = ?", transitionID).
		Order("execution_order ASC").
		Find(&actions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load transition actions: %w", err)
	}
	return actions, nil
}

// GetInitialState returns the initial state of a pipeline, or nil when the
// pipeline has none.
func (s *PipelineStore) GetInitialState(ctx context.Context, pipelineID uuid.UUID) (*model.PipelineState, error) {
	return s.GetInitialStateInTx(ctx, s.db, pipelineID)
}

func (s *PipelineStore) GetInitialStateInTx(ctx context.Context, tx *gorm.DB, pipelineID uuid.UUID) (*model.PipelineState, error) {
	var st model.PipelineState
	err := tx.WithContext(ctx).
		Where("pipeline_id = ? AND kind = ?", pipelineID, model.StateKindInitial).
		Order("sort_order ASC").
		First(&st).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve initial state: %w", err)
	}
	return &st, nil
}

// ListStates returns the states of a pipeline in display order.
func (s *PipelineStore) ListStates(ctx context.Context, pipelineID uuid.UUID) ([]model.PipelineState, error) {
	var states []model.PipelineState
	if err := orderedStates(s.db.WithContext(ctx)).Where("pipeline_id = ?", pipelineID).Find(&states).Error; err != nil {
		return nil, fmt.Errorf("failed to list states: %w", err)
	}
	return states, nil
}

// GetEntityState returns the binding of an entity to its pipeline with the
// current state loaded. When the entity is bound to several pipelines the
// binding to the active pipeline wins, then the most recently updated one.
func (s *PipelineStore) GetEntityState(ctx context.Context, ref model.EntityRef) (*model.EntityState, error) {
	var states []model.EntityState
	err := s.db.WithContext(ctx).
		Preload("CurrentState").
		Preload("Pipeline").
		Where("entity_type = ? AND entity_id = ?", ref.Type, ref.ID).
		Order("updated_at DESC").
		Find(&states).Error
	if err != nil {
		return nil, fmt.Errorf("failed to retrieve entity state for %s: %w", ref, err)
	}
	if len(states) == 0 {
		return nil, model.NewError(model.ErrEntityNotFound,
			fmt.Sprintf("entity %s is not assigned to a pipeline", ref), nil,
			map[string]any{"entity_type": ref.Type, "entity_id": ref.ID})
	}
	for i := range states {
		if states[i].Pipeline != nil && states[i].Pipeline.Active {
			return &states[i], nil
		}
	}
	return &states[0], nil
}
