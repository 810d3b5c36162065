// Package app wires the pipeline engine together.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/OpenNSW/pipeline/internal/auth"
	"github.com/OpenNSW/pipeline/internal/config"
	"github.com/OpenNSW/pipeline/internal/database"
	"github.com/OpenNSW/pipeline/internal/entity"
	"github.com/OpenNSW/pipeline/internal/jobs"
	"github.com/OpenNSW/pipeline/internal/middleware"
	"github.com/OpenNSW/pipeline/internal/notification"
	"github.com/OpenNSW/pipeline/internal/pipeline/action"
	"github.com/OpenNSW/pipeline/internal/pipeline/guard"
	"github.com/OpenNSW/pipeline/internal/pipeline/model"
	"github.com/OpenNSW/pipeline/internal/pipeline/router"
	"github.com/OpenNSW/pipeline/internal/pipeline/seed"
	"github.com/OpenNSW/pipeline/internal/pipeline/service"
	"github.com/OpenNSW/pipeline/internal/report"
	"github.com/OpenNSW/pipeline/internal/storage"
)

// Models returns every table the service owns, in migration order.
func Models() []any {
	models := append(model.Models(), entity.Models()...)
	return append(models, &jobs.Job{}, &notification.Notification{}, &auth.ActorGrant{})
}

// App holds the wired components of one process.
type App struct {
	Config *config.Config
	DB     *gorm.DB

	Entities      *entity.Registry
	Rules         *guard.RuleRegistry
	Custom        *action.CustomHandler
	Runner        *action.Runner
	Store         *service.PipelineStore
	Registry      *service.Registry
	Assignment    *service.Assignment
	Executor      *service.Executor
	Query         *service.Query
	Audit         *service.AuditTrail
	Jobs          *jobs.Store
	Notifications *notification.Store
	Grants        *auth.GrantStore
	Snapshots     storage.Driver
	Reporter      *report.StaleReporter
}

// New builds the component graph on top of an open database.
// A nil snapshots driver is created from the storage configuration.
func New(ctx context.Context, cfg *config.Config, db *gorm.DB, snapshots storage.Driver) (*App, error) {
	if snapshots == nil {
		var err error
		snapshots, err = storage.NewFromConfig(ctx, cfg.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize snapshot storage: %w", err)
		}
	}

	a := &App{
		Config:        cfg,
		DB:            db,
		Entities:      entity.DefaultRegistry(),
		Rules:         guard.NewRuleRegistry(),
		Custom:        action.NewCustomHandler(),
		Runner:        action.NewRunner(),
		Store:         service.NewPipelineStore(db),
		Audit:         service.NewAuditTrail(db),
		Jobs:          jobs.NewStore(db),
		Notifications: notification.NewStore(db),
		Grants:        auth.NewGrantStore(db),
		Snapshots:     snapshots,
	}
	entity.RegisterHooks(a.Custom, a.Rules, cfg.Pipeline.BudgetLimit)

	guards := guard.NewEvaluator(a.Rules)
	a.Assignment = service.NewAssignment(db, a.Store, guards, a.Audit)

	a.Runner.Register(action.TypeUpdateField, action.NewUpdateFieldHandler())
	a.Runner.Register(action.TypeCreateRecord, action.NewCreateRecordHandler(a.Entities, a.Assignment))
	a.Runner.Register(action.TypeSendNotification, action.NewSendNotificationHandler(a.Notifications))
	a.Runner.Register(action.TypeDispatchJob, action.NewDispatchJobHandler(a.Jobs))
	a.Runner.Register(action.TypeArchiveSnapshot, action.NewArchiveSnapshotHandler(snapshots))
	a.Runner.Register(action.TypeCustom, a.Custom)

	a.Registry = service.NewRegistry(db, a.Store, a.Runner)
	a.Executor = service.NewExecutor(db, a.Store, guards, a.Runner, a.Audit, a.Entities)
	a.Query = service.NewQuery(db, a.Store, guards, a.Entities)
	a.Reporter = report.NewStaleReporter(a.Store, a.Query, cfg.Pipeline.StaleReportDays)
	return a, nil
}

// Migrate creates or updates every table.
func (a *App) Migrate() error {
	return database.Migrate(a.DB, Models()...)
}

// Seed loads the configured definitions file.
func (a *App) Seed(ctx context.Context) ([]*model.Pipeline, error) {
	return seed.ApplyFile(ctx, a.Registry, a.Config.Pipeline.DefinitionsPath)
}

// Router builds the HTTP engine.
func (a *App) Router() *gin.Engine {
	authn := auth.NewAuthenticator(a.Config.Auth, a.Grants)

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(), middleware.CORS(&a.Config.CORS), authn.Middleware())

	r.GET("/health", a.handleHealth)

	router.NewHandlers(router.Services{
		DB:         a.DB,
		Store:      a.Store,
		Registry:   a.Registry,
		Assignment: a.Assignment,
		Executor:   a.Executor,
		Query:      a.Query,
		Audit:      a.Audit,
		Entities:   a.Entities,
		Snapshots:  a.Snapshots,
		StaleDays:  a.Config.Pipeline.StaleReportDays,
	}).Register(r, authn.RequireActor())
	return r
}

func (a *App) handleHealth(c *gin.Context) {
	if err := database.HealthCheck(a.DB); err != nil {
		slog.Warn("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().UTC()})
}

// StartReporter schedules the stale report when a schedule is configured.
func (a *App) StartReporter() error {
	if a.Config.Pipeline.StaleReportCron == "" {
		slog.Info("stale reporter disabled")
		return nil
	}
	return a.Reporter.Start(a.Config.Pipeline.StaleReportCron)
}
