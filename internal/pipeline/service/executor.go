package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/OpenNSW/pipeline/internal/pipeline/action"
	"github.com/OpenNSW/pipeline/internal/pipeline/guard"
	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// EntityResolver loads the concrete entity behind a reference.
type EntityResolver interface {
	Resolve(ctx context.Context, db *gorm.DB, ref model.EntityRef) (model.Entity, error)
}

// ExecuteRequest carries the caller context of one transition.
type ExecuteRequest struct {
	Actor      model.Actor // Nil for system initiated transitions
	Comment    string
	Confirmed  bool
	Metadata   map[string]any
	Provenance model.Provenance
}

// Executor performs state transitions.
type Executor struct {
	db       *gorm.DB
	store    *PipelineStore
	guards   *guard.Evaluator
	runner   *action.Runner
	audit    *AuditTrail
	entities EntityResolver
	now      func() time.Time
}

func NewExecutor(db *gorm.DB, store *PipelineStore, guards *guard.Evaluator, runner *action.Runner, audit *AuditTrail, entities EntityResolver) *Executor {
	return &Executor{
		db:       db,
		store:    store,
		guards:   guards,
		runner:   runner,
		audit:    audit,
		entities: entities,
		now:      time.Now,
	}
}

// Execute moves the entity bound by es along transition. The entity state row
// and the entity row are locked for the whole transaction; guards and actions
// run against the entity as re-read under the lock, so entity only identifies
// the record and is not modified. A rejected transition returns a
// *model.ValidationError; an action with the abort policy returns a
// *model.ActionAbortedError. In both cases nothing is persisted and actions
// with effects outside the database are undone.
func (e *Executor) Execute(ctx context.Context, es *model.EntityState, transition *model.PipelineTransition, entity model.Entity, req ExecuteRequest) (*model.EntityState, error) {
	if es == nil || transition == nil || entity == nil {
		return nil, fmt.Errorf("entity state, transition and entity are required")
	}

	var (
		updated model.EntityState
		ran     *model.PipelineTransition
		results map[string]action.Result
	)
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked model.EntityState
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&locked, "id = ?", es.ID).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return model.NewError(model.ErrEntityNotFound,
					fmt.Sprintf("entity state %s not found", es.ID), nil,
					map[string]any{"entity_state_id": es.ID.String()})
			}
			return fmt.Errorf("failed to lock entity state: %w", err)
		}

		if model.RefOf(entity) != locked.Ref() {
			return model.NewValidationError(model.ErrTransitionRejected, model.FieldEntity,
				"entity does not match the entity state")
		}
		current, err := e.lockEntity(ctx, tx, entity)
		if err != nil {
			return err
		}

		if err := e.checkPreconditions(ctx, tx, &locked, transition, current, req); err != nil {
			return err
		}

		fromStateID := locked.CurrentStateID
		performedBy := actorID(req.Actor)
		now := e.now().UTC()

		err = tx.Model(&model.EntityState{}).Where("id = ?", locked.ID).Updates(map[string]any{
			"current_state_id":     transition.ToStateID,
			"last_transitioned_by": performedBy,
			"last_transitioned_at": now,
			"updated_at":           now,
		}).Error
		if err != nil {
			return fmt.Errorf("failed to update entity state: %w", err)
		}

		actions, err := e.store.ListActionsInTx(ctx, tx, transition.ID)
		if err != nil {
			return err
		}
		run := *transition
		run.Actions = actions
		ran = &run

		results, err = e.runner.Run(ctx, tx, &run, current)
		if err != nil {
			slog.Warn("transition aborted, rolling back",
				"transition", transition.Code,
				"entity", locked.Ref().String(),
				"error", err,
			)
			return err
		}

		metadata := make(map[string]any, len(req.Metadata)+1)
		for k, v := range req.Metadata {
			metadata[k] = v
		}
		metadata["actions"] = results

		entry := &model.StateLog{
			EntityStateID: locked.ID,
			EntityType:    locked.EntityType,
			EntityID:      locked.EntityID,
			FromStateID:   &fromStateID,
			ToStateID:     transition.ToStateID,
			TransitionID:  &transition.ID,
			PerformedBy:   performedBy,
			Comment:       optionalString(strings.TrimSpace(req.Comment)),
			Metadata:      metadata,
			IPAddress:     optionalString(req.Provenance.IPAddress),
			UserAgent:     optionalString(req.Provenance.UserAgent),
			CreatedAt:     now,
		}
		if err := e.audit.AppendInTx(ctx, tx, entry); err != nil {
			return err
		}

		if err := tx.Preload("CurrentState").First(&updated, "id = ?", locked.ID).Error; err != nil {
			return fmt.Errorf("failed to reload entity state: %w", err)
		}
		return nil
	})
	if err != nil {
		if ran != nil {
			e.runner.Compensate(ctx, ran, results)
		}
		return nil, err
	}

	slog.Info("transition executed",
		"transition", transition.Code,
		"entity", updated.Ref().String(),
		"to_state", updated.CurrentStateID.String(),
	)
	return &updated, nil
}

// ExecuteByCode resolves the entity, its pipeline binding and the transition
// named by code, then runs Execute.
func (e *Executor) ExecuteByCode(ctx context.Context, ref model.EntityRef, code string, req ExecuteRequest) (*model.EntityState, error) {
	if e.entities == nil {
		return nil, fmt.Errorf("no entity resolver configured")
	}

	es, err := e.store.GetEntityState(ctx, ref)
	if err != nil {
		return nil, err
	}
	transition, err := e.store.GetTransitionByCode(ctx, es.PipelineID, code)
	if err != nil {
		return nil, err
	}
	entity, err := e.entities.Resolve(ctx, e.db, ref)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, es, transition, entity, req)
}

// lockEntity re-reads entity inside tx with a row lock. Without a resolver
// the given entity is used as is.
func (e *Executor) lockEntity(ctx context.Context, tx *gorm.DB, entity model.Entity) (model.Entity, error) {
	if e.entities == nil {
		return entity, nil
	}
	return e.entities.Resolve(ctx, tx.Clauses(clause.Locking{Strength: "UPDATE"}), model.RefOf(entity))
}

func (e *Executor) checkPreconditions(ctx context.Context, tx *gorm.DB, es *model.EntityState, t *model.PipelineTransition, entity model.Entity, req ExecuteRequest) error {
	if t.PipelineID != es.PipelineID {
		return model.NewValidationError(model.ErrTransitionRejected, model.FieldPipeline,
			"transition does not belong to this pipeline")
	}
	if !t.AllowsFrom(es.CurrentStateID) {
		return model.NewValidationError(model.ErrTransitionRejected, model.FieldState,
			"current state does not allow this transition")
	}
	if !permitted(req.Actor, t) {
		return model.NewValidationError(model.ErrTransitionRejected, model.FieldPermission,
			"insufficient permission")
	}
	if !t.Active {
		return model.NewValidationError(model.ErrTransitionRejected, model.FieldTransition,
			"transition is not active")
	}
	if t.RequiresComment && strings.TrimSpace(req.Comment) == "" {
		return model.NewValidationError(model.ErrTransitionRejected, model.FieldComment,
			"a comment is required for this transition")
	}
	if t.RequiresConfirmation && !req.Confirmed {
		return model.NewValidationError(model.ErrTransitionRejected, model.FieldConfirmation,
			"this transition must be confirmed")
	}
	if reasons := e.guards.Evaluate(ctx, tx, t, entity); len(reasons) > 0 {
		return model.NewValidationError(model.ErrGuardRejected, model.FieldGuards, reasons...)
	}
	return nil
}

// permitted reports whether actor may fire t. Gated transitions need an actor.
func permitted(actor model.Actor, t *model.PipelineTransition) bool {
	perm := t.Permission()
	if perm == "" {
		return true
	}
	return actor != nil && actor.HasPermission(perm)
}

func actorID(actor model.Actor) *string {
	if actor == nil {
		return nil
	}
	return optionalString(actor.ActorID())
}
