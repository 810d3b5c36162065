package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Notification is an outbox row written inside the transition's transaction.
// Delivery is done by a separate dispatcher reading pending rows.
type Notification struct {
	ID         uuid.UUID  `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	Channel    string     `gorm:"type:varchar(50);column:channel;not null" json:"channel"` // email, sms, webhook, ...
	Recipients []string   `gorm:"column:recipients;serializer:json" json:"recipients"`
	Subject    string     `gorm:"type:varchar(255);column:subject" json:"subject"`
	Body       string     `gorm:"type:text;column:body" json:"body"`
	Status     Status     `gorm:"type:varchar(20);column:status;not null;index" json:"status"`
	EntityType string     `gorm:"type:varchar(100);column:entity_type" json:"entityType"`
	EntityID   uint64     `gorm:"column:entity_id" json:"entityId"`
	CreatedAt  time.Time  `gorm:"column:created_at;not null" json:"createdAt"`
	SentAt     *time.Time `gorm:"column:sent_at" json:"sentAt,omitempty"`
}

func (Notification) TableName() string {
	return "pipeline_notifications"
}

func (n *Notification) BeforeCreate(tx *gorm.DB) (err error) {
	if n.ID == uuid.Nil {
		n.ID, err = uuid.NewRandom()
		if err != nil {
			return
		}
	}
	n.CreatedAt = time.Now().UTC()
	if n.Status == "" {
		n.Status = StatusPending
	}
	return
}

// Store handles database operations for the notification outbox
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreateInTx inserts a pending notification using tx.
func (s *Store) CreateInTx(ctx context.Context, tx *gorm.DB, n *Notification) error {
	if err := tx.WithContext(ctx).Create(n).Error; err != nil {
		return fmt.Errorf("failed to queue notification: %w", err)
	}
	return nil
}

// ListPending returns pending notifications, oldest first.
func (s *Store) ListPending(ctx context.Context, limit int) ([]Notification, error) {
	var out []Notification
	q := s.db.WithContext(ctx).Where("status = ?", StatusPending).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list pending notifications: %w", err)
	}
	return out, nil
}

// MarkSent flags a notification as delivered.
func (s *Store) MarkSent(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	return s.db.WithContext(ctx).Model(&Notification{}).Where("id = ?", id).Updates(map[string]any{
		"status":  StatusSent,
		"sent_at": &now,
	}).Error
}

// MarkFailed flags a notification as undeliverable.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID) error {
	return s.db.WithContext(ctx).Model(&Notification{}).Where("id = ?", id).Update("status", StatusFailed).Error
}
