package action

import (
	"context"
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// UpdateFieldConfig assigns a literal value to one attribute of the entity.
type UpdateFieldConfig struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

func (c *UpdateFieldConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Field, validation.Required),
	)
}

type UpdateFieldHandler struct{}

func NewUpdateFieldHandler() *UpdateFieldHandler {
	return &UpdateFieldHandler{}
}

func (h *UpdateFieldHandler) Validate(config json.RawMessage) error {
	var cfg UpdateFieldConfig
	return decodeConfig(config, &cfg)
}

func (h *UpdateFieldHandler) Execute(ctx context.Context, tx *gorm.DB, entity model.Entity, config json.RawMessage) (any, error) {
	var cfg UpdateFieldConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	if err := entity.SetField(cfg.Field, cfg.Value); err != nil {
		return nil, fmt.Errorf("failed to set field %s: %w", cfg.Field, err)
	}
	if err := entity.Save(ctx, tx); err != nil {
		return nil, fmt.Errorf("failed to save entity after updating %s: %w", cfg.Field, err)
	}

	return map[string]any{"field": cfg.Field, "value": cfg.Value}, nil
}
