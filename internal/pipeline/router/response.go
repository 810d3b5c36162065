package router

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
	"github.com/OpenNSW/pipeline/internal/storage"
)

// Response is the envelope of every API reply.
type Response struct {
	Success bool                `json:"success"`
	Data    any                 `json:"data,omitempty"`
	Error   string              `json:"error,omitempty"`
	Code    string              `json:"code,omitempty"`
	Fields  map[string][]string `json:"fields,omitempty"`
}

func respond(c *gin.Context, status int, data any) {
	c.JSON(status, Response{Success: true, Data: data})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: message})
}

// respondError maps domain errors to HTTP statuses.
func respondError(c *gin.Context, err error) {
	status := statusFor(err)
	resp := Response{Success: false, Error: err.Error(), Code: model.ErrorCode(err)}

	var verr *model.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
	}
	_ = c.Error(err)
	c.JSON(status, resp)
}

func statusFor(err error) int {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, storage.ErrInvalidKey) {
		return http.StatusBadRequest
	}

	switch model.ErrorCode(err) {
	case model.ErrCodePipelineNotFound, model.ErrCodeEntityNotFound, model.ErrCodeTransitionNotFound:
		return http.StatusNotFound
	case model.ErrCodeEntityTypeConflict:
		return http.StatusConflict
	case model.ErrCodeInvalidDefinition, model.ErrCodeInvalidActionConfig, model.ErrCodeInvalidEntity:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

func entityRef(c *gin.Context) (model.EntityRef, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid entity id: must be a positive integer")
		return model.EntityRef{}, false
	}
	return model.EntityRef{Type: c.Param("type"), ID: id}, true
}

func pipelineID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid pipeline id: "+err.Error())
		return uuid.Nil, false
	}
	return id, true
}

// optionalInt reads an integer query parameter. A missing parameter yields nil.
func optionalInt(c *gin.Context, name string) (*int, bool) {
	raw, ok := c.GetQuery(name)
	if !ok || raw == "" {
		return nil, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, "invalid '"+name+"' query parameter, must be an integer")
		return nil, false
	}
	return &v, true
}
