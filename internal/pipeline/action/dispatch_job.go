package action

import (
	"context"
	"encoding/json"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"

	"github.com/OpenNSW/pipeline/internal/jobs"
	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// DispatchJobConfig queues a background job. The idempotency key, when set,
// may reference entity fields so that repeated transitions reuse one job.
type DispatchJobConfig struct {
	JobType        string         `json:"job_type"`
	Payload        map[string]any `json:"payload,omitempty"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
}

func (c *DispatchJobConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.JobType, validation.Required, validation.Length(1, 100)),
	)
}

type DispatchJobHandler struct {
	store *jobs.Store
}

func NewDispatchJobHandler(store *jobs.Store) *DispatchJobHandler {
	return &DispatchJobHandler{store: store}
}

func (h *DispatchJobHandler) Validate(config json.RawMessage) error {
	var cfg DispatchJobConfig
	return decodeConfig(config, &cfg)
}

func (h *DispatchJobHandler) Execute(ctx context.Context, tx *gorm.DB, entity model.Entity, config json.RawMessage) (any, error) {
	var cfg DispatchJobConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	payload := make(map[string]any, len(cfg.Payload)+2)
	for k, v := range cfg.Payload {
		payload[k] = resolveValue(entity, v)
	}
	payload["entity_type"] = entity.EntityType()
	payload["entity_id"] = entity.EntityID()

	job := &jobs.Job{
		JobType:    cfg.JobType,
		Payload:    payload,
		EntityType: entity.EntityType(),
		EntityID:   entity.EntityID(),
	}
	if cfg.IdempotencyKey != "" {
		key := renderTemplate(entity, cfg.IdempotencyKey)
		job.IdempotencyKey = &key
	}

	queued, err := h.store.EnqueueInTx(ctx, tx, job)
	if err != nil {
		return nil, err
	}

	return map[string]any{"job_id": queued.ID.String(), "state": string(queued.State)}, nil
}
