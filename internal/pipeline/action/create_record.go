package action

import (
	"context"
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// RecordCreator builds and persists a new entity of a registered type.
type RecordCreator interface {
	CreateRecord(ctx context.Context, tx *gorm.DB, entityType string, fields map[string]any) (model.Entity, error)
}

// Assigner places a freshly created entity into its pipeline.
type Assigner interface {
	AssignInTx(ctx context.Context, tx *gorm.DB, entity model.Entity) (*model.EntityState, error)
}

// CreateRecordConfig creates a record of another entity type. String values of
// the form "{{field}}" are copied from the triggering entity.
type CreateRecordConfig struct {
	EntityType string         `json:"entity_type"`
	Fields     map[string]any `json:"fields"`
}

func (c *CreateRecordConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.EntityType, validation.Required),
	)
}

type CreateRecordHandler struct {
	creator  RecordCreator
	assigner Assigner
}

// NewCreateRecordHandler returns a handler that creates records through creator.
// assigner may be nil, in which case new records are not assigned to a pipeline.
func NewCreateRecordHandler(creator RecordCreator, assigner Assigner) *CreateRecordHandler {
	return &CreateRecordHandler{creator: creator, assigner: assigner}
}

func (h *CreateRecordHandler) Validate(config json.RawMessage) error {
	var cfg CreateRecordConfig
	return decodeConfig(config, &cfg)
}

func (h *CreateRecordHandler) Execute(ctx context.Context, tx *gorm.DB, entity model.Entity, config json.RawMessage) (any, error) {
	var cfg CreateRecordConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	fields := make(map[string]any, len(cfg.Fields))
	for name, value := range cfg.Fields {
		fields[name] = resolveValue(entity, value)
	}

	record, err := h.creator.CreateRecord(ctx, tx, cfg.EntityType, fields)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s record: %w", cfg.EntityType, err)
	}

	result := map[string]any{
		"entity_type": record.EntityType(),
		"entity_id":   record.EntityID(),
	}

	if h.assigner != nil {
		state, err := h.assigner.AssignInTx(ctx, tx, record)
		if err != nil {
			return nil, fmt.Errorf("failed to assign created %s record: %w", cfg.EntityType, err)
		}
		if state != nil {
			result["entity_state_id"] = state.ID.String()
		}
	}

	return result, nil
}
