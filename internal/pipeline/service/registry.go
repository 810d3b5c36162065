package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/OpenNSW/pipeline/internal/pipeline/action"
	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// Registry stores pipeline definitions and controls which pipeline is active
// for each entity type.
type Registry struct {
	db     *gorm.DB
	store  *PipelineStore
	runner *action.Runner
}

// NewRegistry creates a registry. Action configurations are validated against
// the handlers registered on runner.
func NewRegistry(db *gorm.DB, store *PipelineStore, runner *action.Runner) *Registry {
	return &Registry{db: db, store: store, runner: runner}
}

// Validate checks a definition without storing it.
func (r *Registry) Validate(def *model.PipelineDefinition) error {
	if def == nil {
		return model.NewError(model.ErrInvalidDefinition, "definition cannot be nil", nil, nil)
	}
	var validateAction model.ActionConfigValidator
	if r.runner != nil {
		validateAction = r.runner.ValidateConfig
	}
	if err := def.Validate(validateAction); err != nil {
		return model.NewError(model.ErrInvalidDefinition, err.Error(), err, map[string]any{"code": def.Code})
	}
	return nil
}

// SaveDefinition validates def and creates or updates the pipeline with the
// same code, including its states, transitions and actions, in one
// transaction. Every save bumps the pipeline version.
func (r *Registry) SaveDefinition(ctx context.Context, def *model.PipelineDefinition) (*model.Pipeline, error) {
	if err := r.Validate(def); err != nil {
		return nil, err
	}

	var pipelineID uuid.UUID
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := r.upsertPipelineInTx(tx, def)
		if err != nil {
			return err
		}
		pipelineID = p.ID

		stateIDs, removedStates, err := r.syncStatesInTx(tx, p.ID, def.States)
		if err != nil {
			return err
		}
		if err := r.syncTransitionsInTx(tx, p.ID, stateIDs, def.Transitions); err != nil {
			return err
		}
		if err := r.removeStatesInTx(tx, p.ID, removedStates); err != nil {
			return err
		}

		if p.Active {
			return deactivateOthersInTx(tx, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("pipeline definition saved", "code", def.Code, "entity_type", def.EntityType, "active", def.Active)
	return r.store.GetByID(ctx, pipelineID)
}

func (r *Registry) upsertPipelineInTx(tx *gorm.DB, def *model.PipelineDefinition) (*model.Pipeline, error) {
	var p model.Pipeline
	err := tx.Where("code = ?", def.Code).First(&p).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		p = model.Pipeline{Code: def.Code, Version: 1}
	case err != nil:
		return nil, fmt.Errorf("failed to look up pipeline %s: %w", def.Code, err)
	default:
		if p.EntityType != def.EntityType {
			var bound int64
			if err := tx.Model(&model.EntityState{}).Where("pipeline_id = ?", p.ID).Count(&bound).Error; err != nil {
				return nil, fmt.Errorf("failed to count bound entities: %w", err)
			}
			if bound > 0 {
				return nil, model.NewError(model.ErrEntityTypeConflict,
					fmt.Sprintf("pipeline %s has %d bound entities and cannot change entity type from %s to %s",
						p.Code, bound, p.EntityType, def.EntityType), nil,
					map[string]any{"code": p.Code})
			}
		}
		p.Version++
	}

	p.Name = def.Name
	p.EntityType = def.EntityType
	p.Description = def.Description
	p.Active = def.Active
	p.ActivationConditions = def.ActivationConditions
	if p.ActivationConditions.IsEmpty() {
		p.ActivationConditions = nil
	}

	if err := tx.Omit(clause.Associations).Save(&p).Error; err != nil {
		return nil, fmt.Errorf("failed to save pipeline %s: %w", def.Code, err)
	}
	return &p, nil
}

// syncStatesInTx upserts states by code and returns the code to id mapping
// together with the existing states missing from the definition.
func (r *Registry) syncStatesInTx(tx *gorm.DB, pipelineID uuid.UUID, defs []model.StateDefinition) (map[string]uuid.UUID, []model.PipelineState, error) {
	var existing []model.PipelineState
	if err := tx.Where("pipeline_id = ?", pipelineID).Find(&existing).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load states: %w", err)
	}
	byCode := make(map[string]model.PipelineState, len(existing))
	for _, s := range existing {
		byCode[s.Code] = s
	}

	ids := make(map[string]uuid.UUID, len(defs))
	for _, d := range defs {
		st, ok := byCode[d.Code]
		if !ok {
			st = model.PipelineState{PipelineID: pipelineID, Code: d.Code}
		}
		delete(byCode, d.Code)

		st.Name = d.Name
		st.Kind = d.Kind
		st.Color = d.Color
		st.Icon = d.Icon
		st.SortOrder = d.SortOrder
		st.Metadata = d.Metadata

		if err := tx.Save(&st).Error; err != nil {
			return nil, nil, fmt.Errorf("failed to save state %s: %w", d.Code, err)
		}
		ids[d.Code] = st.ID
	}

	removed := make([]model.PipelineState, 0, len(byCode))
	for _, s := range byCode {
		removed = append(removed, s)
	}
	return ids, removed, nil
}

// syncTransitionsInTx upserts transitions by code and replaces their actions.
// Transitions dropped from the definition are deleted, or deactivated when the
// audit trail references them.
func (r *Registry) syncTransitionsInTx(tx *gorm.DB, pipelineID uuid.UUID, stateIDs map[string]uuid.UUID, defs []model.TransitionDefinition) error {
	var existing []model.PipelineTransition
	if err := tx.Where("pipeline_id = ?", pipelineID).Find(&existing).Error; err != nil {
		return fmt.Errorf("failed to load transitions: %w", err)
	}
	byCode := make(map[string]model.PipelineTransition, len(existing))
	for _, t := range existing {
		byCode[t.Code] = t
	}

	for _, d := range defs {
		t, ok := byCode[d.Code]
		if !ok {
			t = model.PipelineTransition{PipelineID: pipelineID, Code: d.Code}
		}
		delete(byCode, d.Code)

		t.Name = d.Name
		t.FromStateID = nil
		if !d.IsWildcard() {
			from := stateIDs[d.From]
			t.FromStateID = &from
		}
		t.ToStateID = stateIDs[d.To]
		t.RequiredPermission = nil
		if d.RequiredPermission != "" {
			perm := d.RequiredPermission
			t.RequiredPermission = &perm
		}
		t.GuardConditions = d.Guards
		if t.GuardConditions.IsEmpty() {
			t.GuardConditions = nil
		}
		t.RequiresConfirmation = d.RequiresConfirmation
		t.RequiresComment = d.RequiresComment
		t.SortOrder = d.SortOrder
		t.Active = d.IsActive()

		if err := tx.Omit(clause.Associations).Save(&t).Error; err != nil {
			return fmt.Errorf("failed to save transition %s: %w", d.Code, err)
		}
		if err := replaceActionsInTx(tx, t.ID, d.Actions); err != nil {
			return fmt.Errorf("transition %s: %w", d.Code, err)
		}
	}

	for _, t := range byCode {
		var used int64
		if err := tx.Model(&model.StateLog{}).Where("transition_id = ?", t.ID).Count(&used).Error; err != nil {
			return fmt.Errorf("failed to check usage of transition %s: %w", t.Code, err)
		}
		if used > 0 {
			if err := tx.Model(&model.PipelineTransition{}).Where("id = ?", t.ID).Update("active", false).Error; err != nil {
				return fmt.Errorf("failed to deactivate transition %s: %w", t.Code, err)
			}
			continue
		}
		if err := tx.Where("transition_id = ?", t.ID).Delete(&model.TransitionAction{}).Error; err != nil {
			return fmt.Errorf("failed to delete actions of transition %s: %w", t.Code, err)
		}
		if err := tx.Delete(&model.PipelineTransition{}, "id = ?", t.ID).Error; err != nil {
			return fmt.Errorf("failed to delete transition %s: %w", t.Code, err)
		}
	}
	return nil
}

func replaceActionsInTx(tx *gorm.DB, transitionID uuid.UUID, defs []model.ActionDefinition) error {
	if err := tx.Where("transition_id = ?", transitionID).Delete(&model.TransitionAction{}).Error; err != nil {
		return fmt.Errorf("failed to clear actions: %w", err)
	}
	if len(defs) == 0 {
		return nil
	}

	actions := make([]model.TransitionAction, 0, len(defs))
	for _, d := range defs {
		raw, err := d.RawConfig()
		if err != nil {
			return err
		}
		actions = append(actions, model.TransitionAction{
			TransitionID:   transitionID,
			Name:           d.Name,
			ActionType:     d.Type,
			ExecutionOrder: d.Order,
			Config:         raw,
			OnFailure:      d.Policy(),
			Active:         d.IsActive(),
		})
	}
	if err := tx.Create(&actions).Error; err != nil {
		return fmt.Errorf("failed to create actions: %w", err)
	}
	return nil
}

// removeStatesInTx deletes states dropped from a definition. A state that is
// still referenced by entities, audit rows or transitions cannot be removed.
func (r *Registry) removeStatesInTx(tx *gorm.DB, pipelineID uuid.UUID, states []model.PipelineState) error {
	for _, s := range states {
		checks := []struct {
			what  string
			query *gorm.DB
		}{
			{"entities", tx.Model(&model.EntityState{}).Where("current_state_id = ?", s.ID)},
			{"audit entries", tx.Model(&model.StateLog{}).Where("from_state_id = ? OR to_state_id = ?", s.ID, s.ID)},
			{"transitions", tx.Model(&model.PipelineTransition{}).Where("pipeline_id = ? AND (from_state_id = ? OR to_state_id = ?)", pipelineID, s.ID, s.ID)},
		}
		for _, c := range checks {
			var n int64
			if err := c.query.Count(&n).Error; err != nil {
				return fmt.Errorf("failed to check usage of state %s: %w", s.Code, err)
			}
			if n > 0 {
				return model.NewError(model.ErrInvalidDefinition,
					fmt.Sprintf("state %q cannot be removed while referenced by %d %s", s.Code, n, c.what), nil,
					map[string]any{"state": s.Code})
			}
		}
		if err := tx.Delete(&model.PipelineState{}, "id = ?", s.ID).Error; err != nil {
			return fmt.Errorf("failed to delete state %s: %w", s.Code, err)
		}
	}
	return nil
}

func deactivateOthersInTx(tx *gorm.DB, p *model.Pipeline) error {
	res := tx.Model(&model.Pipeline{}).
		Where("entity_type = ? AND id <> ? AND active = ?", p.EntityType, p.ID, true).
		Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("failed to deactivate other %s pipelines: %w", p.EntityType, res.Error)
	}
	if res.RowsAffected > 0 {
		slog.Info("deactivated previous pipelines", "entity_type", p.EntityType, "count", res.RowsAffected)
	}
	return nil
}

// Activate makes the pipeline the active one for its entity type, deactivating
// any other pipeline of that type.
func (r *Registry) Activate(ctx context.Context, id uuid.UUID) (*model.Pipeline, error) {
	return r.setActive(ctx, id, true)
}

// Deactivate turns the pipeline off. Bound entities keep their state but new
// entities are no longer assigned to it.
func (r *Registry) Deactivate(ctx context.Context, id uuid.UUID) (*model.Pipeline, error) {
	return r.setActive(ctx, id, false)
}

func (r *Registry) setActive(ctx context.Context, id uuid.UUID, active bool) (*model.Pipeline, error) {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p model.Pipeline
		if err := tx.First(&p, "id = ?", id).Error; err != nil {
			return pipelineLookupError(err, "id", id.String())
		}
		if err := tx.Model(&p).Update("active", active).Error; err != nil {
			return fmt.Errorf("failed to update pipeline %s: %w", p.Code, err)
		}
		if active {
			return deactivateOthersInTx(tx, &p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return r.store.GetByID(ctx, id)
}
