package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// ListPipelines handles GET /api/pipelines
// Optional Query Params: offset, limit
func (h *Handlers) ListPipelines(c *gin.Context) {
	offset, ok := optionalInt(c, "offset")
	if !ok {
		return
	}
	limit, ok := optionalInt(c, "limit")
	if !ok {
		return
	}

	page, err := h.Store.List(c.Request.Context(), offset, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, page)
}

// GetPipeline handles GET /api/pipelines/:id where id is a pipeline id or code
func (h *Handlers) GetPipeline(c *gin.Context) {
	var (
		p   *model.Pipeline
		err error
	)
	if id, parseErr := uuid.Parse(c.Param("id")); parseErr == nil {
		p, err = h.Store.GetByID(c.Request.Context(), id)
	} else {
		p, err = h.Store.GetByCode(c.Request.Context(), c.Param("id"))
	}
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, p)
}

// SavePipeline handles POST /api/pipelines
// Request body: PipelineDefinition. Existing codes are updated in place.
func (h *Handlers) SavePipeline(c *gin.Context) {
	var def model.PipelineDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return
	}

	p, err := h.Registry.SaveDefinition(c.Request.Context(), &def)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if p.Version == 1 {
		status = http.StatusCreated
	}
	respond(c, status, p)
}

// ActivatePipeline handles POST /api/pipelines/:id/activate
func (h *Handlers) ActivatePipeline(c *gin.Context) {
	id, ok := pipelineID(c)
	if !ok {
		return
	}
	p, err := h.Registry.Activate(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, p)
}

// DeactivatePipeline handles POST /api/pipelines/:id/deactivate
func (h *Handlers) DeactivatePipeline(c *gin.Context) {
	id, ok := pipelineID(c)
	if !ok {
		return
	}
	p, err := h.Registry.Deactivate(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, p)
}

// GetPipelineStats handles GET /api/pipelines/:id/stats
func (h *Handlers) GetPipelineStats(c *gin.Context) {
	id, ok := pipelineID(c)
	if !ok {
		return
	}
	if _, err := h.Store.GetByID(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	counts, err := h.Query.StateCounts(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	respond(c, http.StatusOK, counts)
}

// GetStaleEntities handles GET /api/pipelines/:id/stale?days=N
func (h *Handlers) GetStaleEntities(c *gin.Context) {
	id, ok := pipelineID(c)
	if !ok {
		return
	}
	days, ok := optionalInt(c, "days")
	if !ok {
		return
	}
	threshold := h.StaleDays
	if days != nil {
		if *days < 0 {
			badRequest(c, "'days' must not be negative")
			return
		}
		threshold = *days
	}

	stale, err := h.Query.StaleEntities(c.Request.Context(), id, threshold)
	if err != nil {
		respondError(c, err)
		return
	}
	if stale == nil {
		stale = []model.EntityState{}
	}
	respond(c, http.StatusOK, gin.H{"days": threshold, "entities": stale})
}
