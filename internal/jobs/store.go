package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Job is a unit of background work queued by a transition. Workers outside
// the engine claim and run jobs.
type Job struct {
	ID             uuid.UUID      `gorm:"column:id;type:varchar(36);primaryKey" json:"id"`
	JobType        string         `gorm:"type:varchar(100);column:job_type;not null;index" json:"jobType"`
	Payload        map[string]any `gorm:"column:payload;serializer:json" json:"payload,omitempty"`
	State          State          `gorm:"type:varchar(20);column:state;not null;index" json:"state"`
	IdempotencyKey *string        `gorm:"type:varchar(255);column:idempotency_key;uniqueIndex" json:"idempotencyKey,omitempty"` // Nil when the job is not de-duplicated
	EntityType     string         `gorm:"type:varchar(100);column:entity_type" json:"entityType"`
	EntityID       uint64         `gorm:"column:entity_id" json:"entityId"`
	Attempts       int            `gorm:"column:attempts;not null" json:"attempts"`
	LastError      *string        `gorm:"type:text;column:last_error" json:"lastError,omitempty"`
	CreatedAt      time.Time      `gorm:"column:created_at;not null" json:"createdAt"`
	UpdatedAt      time.Time      `gorm:"column:updated_at;not null" json:"updatedAt"`
}

func (Job) TableName() string {
	return "pipeline_jobs"
}

func (j *Job) BeforeCreate(tx *gorm.DB) (err error) {
	if j.ID == uuid.Nil {
		j.ID, err = uuid.NewRandom()
		if err != nil {
			return
		}
	}
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now
	if j.State == "" {
		j.State = StateQueued
	}
	return
}

// Store handles database operations for queued jobs
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// EnqueueInTx inserts a queued job using tx. When the job carries an
// idempotency key that is already present, the existing job is returned instead.
func (s *Store) EnqueueInTx(ctx context.Context, tx *gorm.DB, job *Job) (*Job, error) {
	if job.IdempotencyKey != nil && *job.IdempotencyKey != "" {
		var existing Job
		err := tx.WithContext(ctx).Where("idempotency_key = ?", *job.IdempotencyKey).First(&existing).Error
		if err == nil {
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to check idempotency key: %w", err)
		}
	} else {
		job.IdempotencyKey = nil
	}

	if err := tx.WithContext(ctx).Create(job).Error; err != nil {
		return nil, fmt.Errorf("failed to enqueue job: %w", err)
	}
	return job, nil
}

// GetByID retrieves a job by its ID
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (*Job, error) {
	var job Job
	if err := s.db.WithContext(ctx).First(&job, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

// ListByState retrieves jobs in one state, oldest first
func (s *Store) ListByState(ctx context.Context, state State, limit int) ([]Job, error) {
	var jobs []Job
	q := s.db.WithContext(ctx).Where("state = ?", state).Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// Claim moves the oldest queued job of jobType to running. It returns nil when
// nothing is queued. Row locks are skipped on drivers that do not support them.
func (s *Store) Claim(ctx context.Context, jobType string) (*Job, error) {
	var claimed *Job
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job Job
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("job_type = ? AND state = ?", jobType, StateQueued).
			Order("created_at ASC").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to select queued job: %w", err)
		}

		job.State = StateRunning
		job.Attempts++
		job.UpdatedAt = time.Now().UTC()
		if err := tx.Model(&Job{}).Where("id = ?", job.ID).Updates(map[string]any{
			"state":      job.State,
			"attempts":   job.Attempts,
			"updated_at": job.UpdatedAt,
		}).Error; err != nil {
			return fmt.Errorf("failed to claim job: %w", err)
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// Complete records the final state of a running job.
func (s *Store) Complete(ctx context.Context, id uuid.UUID, runErr error) error {
	updates := map[string]any{
		"state":      StateSucceeded,
		"updated_at": time.Now().UTC(),
	}
	if runErr != nil {
		msg := runErr.Error()
		updates["state"] = StateFailed
		updates["last_error"] = &msg
	}
	return s.db.WithContext(ctx).Model(&Job{}).Where("id = ?", id).Updates(updates).Error
}
