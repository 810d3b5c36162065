// Package router exposes the pipeline engine over HTTP.
package router

import (
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/OpenNSW/pipeline/internal/entity"
	"github.com/OpenNSW/pipeline/internal/pipeline/service"
	"github.com/OpenNSW/pipeline/internal/storage"
)

// Services groups everything the handlers call into.
type Services struct {
	DB         *gorm.DB
	Store      *service.PipelineStore
	Registry   *service.Registry
	Assignment *service.Assignment
	Executor   *service.Executor
	Query      *service.Query
	Audit      *service.AuditTrail
	Entities   *entity.Registry
	Snapshots  storage.Driver // Nil disables the snapshot endpoints
	StaleDays  int            // Default threshold of the stale listing
}

type Handlers struct {
	Services
}

func NewHandlers(s Services) *Handlers {
	if s.StaleDays <= 0 {
		s.StaleDays = 30
	}
	return &Handlers{Services: s}
}

// Register mounts the API on r. Mutating routes run behind requireActor.
func (h *Handlers) Register(r gin.IRouter, requireActor gin.HandlerFunc) {
	api := r.Group("/api")

	api.GET("/pipelines", h.ListPipelines)
	api.GET("/pipelines/:id", h.GetPipeline)
	api.GET("/pipelines/:id/stats", h.GetPipelineStats)
	api.GET("/pipelines/:id/stale", h.GetStaleEntities)

	api.GET("/entities/:type/:id/pipeline", h.GetEntityPipeline)
	api.GET("/entities/:type/:id/timeline", h.GetEntityTimeline)

	if h.Snapshots != nil {
		api.GET("/entities/:type/:id/snapshots", h.ListSnapshots)
		api.GET("/snapshots/*key", h.DownloadSnapshot)
	}

	write := api.Group("", requireActor)
	write.POST("/pipelines", h.SavePipeline)
	write.POST("/pipelines/:id/activate", h.ActivatePipeline)
	write.POST("/pipelines/:id/deactivate", h.DeactivatePipeline)

	write.POST("/entities/:type/:id/assign", h.AssignEntity)
	write.POST("/entities/:type/:id/transitions/:code", h.ExecuteTransition)

	write.POST("/assets", h.CreateRecord(entity.TypeAsset))
	write.POST("/purchase-orders", h.CreateRecord(entity.TypePurchaseOrder))
}
