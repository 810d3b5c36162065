package service

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// AuditTrail writes and reads the append-only state log.
type AuditTrail struct {
	db *gorm.DB
}

func NewAuditTrail(db *gorm.DB) *AuditTrail {
	return &AuditTrail{db: db}
}

// AppendInTx inserts one state log row using tx.
func (a *AuditTrail) AppendInTx(ctx context.Context, tx *gorm.DB, entry *model.StateLog) error {
	if err := tx.WithContext(ctx).Omit(clause.Associations).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to append state log: %w", err)
	}
	return nil
}

// Timeline returns every state log row of an entity, oldest first.
func (a *AuditTrail) Timeline(ctx context.Context, ref model.EntityRef) ([]model.StateLog, error) {
	var logs []model.StateLog
	err := a.db.WithContext(ctx).
		Preload("FromState").
		Preload("ToState").
		Preload("Transition").
		Where("entity_type = ? AND entity_id = ?", ref.Type, ref.ID).
		Order("created_at ASC").
		Find(&logs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline of %s: %w", ref, err)
	}
	return logs, nil
}

// CountForEntityState returns the number of log rows of one entity state.
func (a *AuditTrail) CountForEntityState(ctx context.Context, entityState *model.EntityState) (int64, error) {
	var n int64
	err := a.db.WithContext(ctx).Model(&model.StateLog{}).
		Where("entity_state_id = ?", entityState.ID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count state logs: %w", err)
	}
	return n, nil
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
