package action

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// Method is one entry point of a custom action class.
type Method func(ctx context.Context, entity model.Entity, data map[string]any) (any, error)

// CustomActionConfig names a registered class and method, with optional data.
type CustomActionConfig struct {
	Class  string         `json:"class"`
	Method string         `json:"method"`
	Data   map[string]any `json:"data,omitempty"`
}

func (c *CustomActionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Class, validation.Required),
		validation.Field(&c.Method, validation.Required),
	)
}

// CustomHandler resolves custom actions from a registry of classes and their methods.
type CustomHandler struct {
	mu      sync.RWMutex
	classes map[string]map[string]Method
}

func NewCustomHandler() *CustomHandler {
	return &CustomHandler{classes: make(map[string]map[string]Method)}
}

// RegisterMethod adds a method to a class, creating the class on first use.
func (h *CustomHandler) RegisterMethod(class, method string, fn Method) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.classes[class] == nil {
		h.classes[class] = make(map[string]Method)
	}
	h.classes[class][method] = fn
}

func (h *CustomHandler) resolve(class, method string) (Method, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	methods, ok := h.classes[class]
	if !ok {
		return nil, model.NewError(model.ErrPluginNotFound,
			fmt.Sprintf("custom action class not found: %s", class), nil,
			map[string]any{"class": class})
	}
	fn, ok := methods[method]
	if !ok {
		return nil, model.NewError(model.ErrPluginNotFound,
			fmt.Sprintf("custom action method not found: %s.%s", class, method), nil,
			map[string]any{"class": class, "method": method})
	}
	return fn, nil
}

func (h *CustomHandler) Validate(config json.RawMessage) error {
	var cfg CustomActionConfig
	return decodeConfig(config, &cfg)
}

func (h *CustomHandler) Execute(ctx context.Context, _ *gorm.DB, entity model.Entity, config json.RawMessage) (any, error) {
	var cfg CustomActionConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	fn, err := h.resolve(cfg.Class, cfg.Method)
	if err != nil {
		return nil, err
	}
	return fn(ctx, entity, cfg.Data)
}
