package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/OpenNSW/pipeline/internal/pipeline/guard"
	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// InitialAssignmentComment is recorded on the first log row of every entity.
const InitialAssignmentComment = "Initial pipeline assignment"

// Assignment binds new entities to the active pipeline of their type.
type Assignment struct {
	db     *gorm.DB
	store  *PipelineStore
	guards *guard.Evaluator
	audit  *AuditTrail
}

func NewAssignment(db *gorm.DB, store *PipelineStore, guards *guard.Evaluator, audit *AuditTrail) *Assignment {
	return &Assignment{db: db, store: store, guards: guards, audit: audit}
}

// Assign places entity in the initial state of the active pipeline for its
// type. It returns nil without error when there is no active pipeline, the
// pipeline has no initial state, or the entity does not meet the pipeline's
// activation conditions. Repeated calls return the existing binding.
func (a *Assignment) Assign(ctx context.Context, entity model.Entity) (*model.EntityState, error) {
	var es *model.EntityState
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		es, err = a.AssignInTx(ctx, tx, entity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return es, nil
}

// AssignInTx is Assign using an open transaction.
func (a *Assignment) AssignInTx(ctx context.Context, tx *gorm.DB, entity model.Entity) (*model.EntityState, error) {
	ref := model.RefOf(entity)

	p, err := a.store.GetActiveByEntityTypeInTx(ctx, tx, ref.Type)
	if err != nil {
		return nil, err
	}
	if p == nil {
		slog.Debug("no active pipeline for entity type", "entity", ref.String())
		return nil, nil
	}

	existing, err := findEntityStateInTx(ctx, tx, p, ref)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	initial, err := a.store.GetInitialStateInTx(ctx, tx, p.ID)
	if err != nil {
		return nil, err
	}
	if initial == nil {
		slog.Warn("pipeline has no initial state, skipping assignment",
			"pipeline", p.Code,
			"entity", ref.String(),
		)
		return nil, nil
	}

	if !p.ActivationConditions.IsEmpty() && a.guards != nil {
		if reasons := a.guards.EvaluateConditions(ctx, tx, p.ActivationConditions, nil, entity); len(reasons) > 0 {
			slog.Info("entity does not meet pipeline activation conditions",
				"pipeline", p.Code,
				"entity", ref.String(),
				"reasons", reasons,
			)
			return nil, nil
		}
	}

	es := &model.EntityState{
		PipelineID:     p.ID,
		EntityType:     ref.Type,
		EntityID:       ref.ID,
		CurrentStateID: initial.ID,
	}
	res := tx.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(es)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to create entity state for %s: %w", ref, res.Error)
	}
	if res.RowsAffected == 0 {
		// a concurrent assignment won the insert
		return findEntityStateInTx(ctx, tx, p, ref)
	}

	entry := &model.StateLog{
		EntityStateID: es.ID,
		EntityType:    ref.Type,
		EntityID:      ref.ID,
		ToStateID:     initial.ID,
		Comment:       optionalString(InitialAssignmentComment),
	}
	if err := a.audit.AppendInTx(ctx, tx, entry); err != nil {
		return nil, err
	}

	es.Pipeline = p
	es.CurrentState = initial
	slog.Info("entity assigned to pipeline",
		"pipeline", p.Code,
		"entity", ref.String(),
		"state", initial.Code,
	)
	return es, nil
}

func findEntityStateInTx(ctx context.Context, tx *gorm.DB, p *model.Pipeline, ref model.EntityRef) (*model.EntityState, error) {
	var es model.EntityState
	err := tx.WithContext(ctx).
		Preload("CurrentState").
		Where("pipeline_id = ? AND entity_type = ? AND entity_id = ?", p.ID, ref.Type, ref.ID).
		First(&es).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up entity state for %s: %w", ref, err)
	}
	es.Pipeline = p
	return &es, nil
}
