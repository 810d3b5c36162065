package router

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/OpenNSW/pipeline/internal/auth"
	"github.com/OpenNSW/pipeline/internal/pipeline/action"
	"github.com/OpenNSW/pipeline/internal/pipeline/model"
	"github.com/OpenNSW/pipeline/internal/pipeline/service"
)

const snapshotURLTTL = 15 * time.Minute

// TransitionRequest is the body of a transition call. All fields are optional.
type TransitionRequest struct {
	Comment   string         `json:"comment"`
	Confirmed bool           `json:"confirmed"`
	Metadata  map[string]any `json:"metadata"`
}

// CreatedRecord is returned when a record is created through the API.
type CreatedRecord struct {
	Entity      model.Entity       `json:"entity"`
	EntityState *model.EntityState `json:"entityState"` // Nil when no pipeline accepted the record
}

// AssignEntity handles POST /api/entities/:type/:id/assign
func (h *Handlers) AssignEntity(c *gin.Context) {
	ref, ok := entityRef(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	e, err := h.Entities.Resolve(ctx, h.DB, ref)
	if err != nil {
		respondError(c, err)
		return
	}
	es, err := h.Assignment.Assign(ctx, e)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"assigned": es != nil, "entityState": es})
}

// GetEntityPipeline handles GET /api/entities/:type/:id/pipeline
// Response: the current state and the transitions offered to the caller
func (h *Handlers) GetEntityPipeline(c *gin.Context) {
	ref, ok := entityRef(c)
	if !ok {
		return
	}
	view, err := h.Query.AvailableTransitions(c.Request.Context(), ref, auth.GetActor(c))
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, view)
}

// ExecuteTransition handles POST /api/entities/:type/:id/transitions/:code
// Request body: TransitionRequest
func (h *Handlers) ExecuteTransition(c *gin.Context) {
	ref, ok := entityRef(c)
	if !ok {
		return
	}

	var req TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	es, err := h.Executor.ExecuteByCode(c.Request.Context(), ref, c.Param("code"), service.ExecuteRequest{
		Actor:      auth.GetActor(c),
		Comment:    req.Comment,
		Confirmed:  req.Confirmed,
		Metadata:   req.Metadata,
		Provenance: auth.GetProvenance(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, es)
}

// GetEntityTimeline handles GET /api/entities/:type/:id/timeline
func (h *Handlers) GetEntityTimeline(c *gin.Context) {
	ref, ok := entityRef(c)
	if !ok {
		return
	}
	logs, err := h.Audit.Timeline(c.Request.Context(), ref)
	if err != nil {
		respondError(c, err)
		return
	}
	if logs == nil {
		logs = []model.StateLog{}
	}
	respond(c, http.StatusOK, logs)
}

// CreateRecord returns the handler of POST /api/assets and POST /api/purchase-orders.
// The record and its pipeline assignment are committed together.
func (h *Handlers) CreateRecord(entityType string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var fields map[string]any
		if err := c.ShouldBindJSON(&fields); err != nil {
			badRequest(c, "invalid request body: "+err.Error())
			return
		}
		ctx := c.Request.Context()

		var created CreatedRecord
		err := h.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			e, err := h.Entities.CreateRecord(ctx, tx, entityType, fields)
			if err != nil {
				return err
			}
			es, err := h.Assignment.AssignInTx(ctx, tx, e)
			if err != nil {
				return err
			}
			created = CreatedRecord{Entity: e, EntityState: es}
			return nil
		})
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusCreated, created)
	}
}

// ListSnapshots handles GET /api/entities/:type/:id/snapshots?prefix=
func (h *Handlers) ListSnapshots(c *gin.Context) {
	ref, ok := entityRef(c)
	if !ok {
		return
	}
	keys, err := h.Snapshots.List(c.Request.Context(), action.SnapshotKeyPrefix(c.Query("prefix"), ref))
	if err != nil {
		respondError(c, err)
		return
	}

	type snapshot struct {
		Key string `json:"key"`
		URL string `json:"url"`
	}
	out := make([]snapshot, 0, len(keys))
	for _, key := range keys {
		url, err := h.Snapshots.GenerateURL(c.Request.Context(), key, snapshotURLTTL)
		if err != nil {
			respondError(c, err)
			return
		}
		out = append(out, snapshot{Key: key, URL: url})
	}
	respond(c, http.StatusOK, out)
}

// DownloadSnapshot handles GET /api/snapshots/*key
func (h *Handlers) DownloadSnapshot(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		badRequest(c, "key is required")
		return
	}

	reader, contentType, err := h.Snapshots.Get(c.Request.Context(), key)
	if err != nil {
		respondError(c, err)
		return
	}
	defer reader.Close()

	c.Header("Content-Type", contentType)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, reader); err != nil {
		slog.Warn("failed to stream snapshot", "key", key, "error", err)
	}
}
