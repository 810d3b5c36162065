package action

import (
	"context"
	"encoding/json"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"

	"github.com/OpenNSW/pipeline/internal/notification"
	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// NotificationConfig queues a message in the notification outbox. Subject and
// template may reference entity fields as "{{field}}".
type NotificationConfig struct {
	Channel    string   `json:"channel"`
	Recipients []string `json:"recipients"`
	Subject    string   `json:"subject"`
	Template   string   `json:"template"`
}

func (c *NotificationConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Channel, validation.Required, validation.In("email", "sms", "webhook", "in_app")),
		validation.Field(&c.Recipients, validation.Required),
		validation.Field(&c.Template, validation.Required),
	)
}

type SendNotificationHandler struct {
	store *notification.Store
}

func NewSendNotificationHandler(store *notification.Store) *SendNotificationHandler {
	return &SendNotificationHandler{store: store}
}

func (h *SendNotificationHandler) Validate(config json.RawMessage) error {
	var cfg NotificationConfig
	return decodeConfig(config, &cfg)
}

func (h *SendNotificationHandler) Execute(ctx context.Context, tx *gorm.DB, entity model.Entity, config json.RawMessage) (any, error) {
	var cfg NotificationConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	recipients := make([]string, 0, len(cfg.Recipients))
	for _, r := range cfg.Recipients {
		if rendered := renderTemplate(entity, r); rendered != "" {
			recipients = append(recipients, rendered)
		}
	}

	n := &notification.Notification{
		Channel:    cfg.Channel,
		Recipients: recipients,
		Subject:    renderTemplate(entity, cfg.Subject),
		Body:       renderTemplate(entity, cfg.Template),
		EntityType: entity.EntityType(),
		EntityID:   entity.EntityID(),
	}
	if err := h.store.CreateInTx(ctx, tx, n); err != nil {
		return nil, err
	}

	return map[string]any{"notification_id": n.ID.String(), "recipients": len(recipients)}, nil
}
