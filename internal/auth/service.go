package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ActorGrant is a permission granted to an actor outside of its bearer token.
type ActorGrant struct {
	ActorID    string    `gorm:"type:varchar(255);column:actor_id;primaryKey" json:"actorId"`
	Permission string    `gorm:"type:varchar(255);column:permission;primaryKey" json:"permission"`
	CreatedAt  time.Time `gorm:"column:created_at;not null" json:"createdAt"`
}

// TableName specifies the database table name for ActorGrant
func (g *ActorGrant) TableName() string {
	return "actor_grants"
}

// GrantStore persists permission grants.
type GrantStore struct {
	db *gorm.DB
}

// NewGrantStore creates a new GrantStore instance
func NewGrantStore(db *gorm.DB) *GrantStore {
	return &GrantStore{db: db}
}

// Permissions returns the permissions granted to actorID.
// An unknown actor simply has none.
func (s *GrantStore) Permissions(ctx context.Context, actorID string) ([]string, error) {
	if actorID == "" {
		return nil, fmt.Errorf("actor ID is empty")
	}

	var permissions []string
	if err := s.db.WithContext(ctx).Model(&ActorGrant{}).
		Where("actor_id = ?", actorID).
		Order("permission").
		Pluck("permission", &permissions).Error; err != nil {
		slog.Error("failed to fetch actor grants from database",
			"actor_id", actorID,
			"error", err,
		)
		return nil, fmt.Errorf("failed to fetch actor grants: %w", err)
	}
	return permissions, nil
}

// Grant gives actorID the permission. Granting twice is a no-op.
func (s *GrantStore) Grant(ctx context.Context, actorID, permission string) error {
	actorID, permission = strings.TrimSpace(actorID), strings.TrimSpace(permission)
	if actorID == "" || permission == "" {
		return fmt.Errorf("actor ID and permission are required")
	}

	grant := &ActorGrant{ActorID: actorID, Permission: permission, CreatedAt: time.Now().UTC()}
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(grant).Error; err != nil {
		return fmt.Errorf("failed to grant permission: %w", err)
	}

	slog.Debug("permission granted", "actor_id", actorID, "permission", permission)
	return nil
}

// Revoke removes the permission from actorID.
func (s *GrantStore) Revoke(ctx context.Context, actorID, permission string) error {
	result := s.db.WithContext(ctx).
		Where("actor_id = ? AND permission = ?", actorID, permission).
		Delete(&ActorGrant{})
	if result.Error != nil {
		return fmt.Errorf("failed to revoke permission: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		slog.Warn("no grant found to revoke", "actor_id", actorID, "permission", permission)
	}
	return nil
}
