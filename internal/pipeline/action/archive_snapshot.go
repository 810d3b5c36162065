package action

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gorm.io/gorm"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
	"github.com/OpenNSW/pipeline/internal/storage"
)

// ArchiveSnapshotConfig writes a JSON copy of the entity to blob storage.
type ArchiveSnapshotConfig struct {
	Prefix string `json:"prefix,omitempty"`
}

func (c *ArchiveSnapshotConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Prefix, validation.Length(0, 200)),
	)
}

// SnapshotPrefix is the key prefix used when a config does not name one.
const SnapshotPrefix = "snapshots"

// SnapshotKeyPrefix returns the storage prefix holding the snapshots of one entity.
func SnapshotKeyPrefix(prefix string, ref model.EntityRef) string {
	if prefix == "" {
		prefix = SnapshotPrefix
	}
	return path.Join(prefix, ref.Type, strconv.FormatUint(ref.ID, 10)) + "/"
}

type ArchiveSnapshotHandler struct {
	driver storage.Driver
	now    func() time.Time
}

func NewArchiveSnapshotHandler(driver storage.Driver) *ArchiveSnapshotHandler {
	return &ArchiveSnapshotHandler{driver: driver, now: time.Now}
}

func (h *ArchiveSnapshotHandler) Validate(config json.RawMessage) error {
	var cfg ArchiveSnapshotConfig
	return decodeConfig(config, &cfg)
}

// Execute stores the snapshot outside the database transaction. Undo removes
// it when the transition is rolled back.
func (h *ArchiveSnapshotHandler) Execute(ctx context.Context, _ *gorm.DB, entity model.Entity, config json.RawMessage) (any, error) {
	var cfg ArchiveSnapshotConfig
	if err := decodeConfig(config, &cfg); err != nil {
		return nil, err
	}

	body, err := json.Marshal(entity)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	key := SnapshotKeyPrefix(cfg.Prefix, model.RefOf(entity)) + h.now().UTC().Format("20060102T150405.000000000Z") + ".json"
	if err := h.driver.Save(ctx, key, bytes.NewReader(body), "application/json"); err != nil {
		return nil, fmt.Errorf("failed to store snapshot: %w", err)
	}

	return map[string]any{"key": key, "bytes": len(body)}, nil
}

// Undo deletes the snapshot written by Execute.
func (h *ArchiveSnapshotHandler) Undo(ctx context.Context, result any) error {
	out, ok := result.(map[string]any)
	if !ok {
		return fmt.Errorf("unexpected snapshot result %T", result)
	}
	key, _ := out["key"].(string)
	if key == "" {
		return fmt.Errorf("snapshot result has no key")
	}
	if err := h.driver.Delete(ctx, key); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("failed to delete snapshot %s: %w", key, err)
	}
	return nil
}
