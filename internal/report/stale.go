// Package report produces periodic operational reports over pipeline data.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// PipelineLister lists the pipelines a report covers.
type PipelineLister interface {
	ListActive(ctx context.Context) ([]model.Pipeline, error)
}

// StaleFinder finds entities that have not moved for a number of days.
type StaleFinder interface {
	StaleEntities(ctx context.Context, pipelineID uuid.UUID, days int) ([]model.EntityState, error)
}

// StaleEntry summarises the stale entities of one pipeline.
type StaleEntry struct {
	PipelineID   uuid.UUID `json:"pipelineId"`
	PipelineCode string    `json:"pipelineCode"`
	EntityType   string    `json:"entityType"`
	Count        int       `json:"count"`
	EntityIDs    []uint64  `json:"entityIds,omitempty"`
}

// StaleReporter logs, per active pipeline, the entities stuck in a non-final
// state for longer than a threshold.
type StaleReporter struct {
	pipelines PipelineLister
	finder    StaleFinder
	days      int
	timeout   time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

func NewStaleReporter(pipelines PipelineLister, finder StaleFinder, days int) *StaleReporter {
	return &StaleReporter{
		pipelines: pipelines,
		finder:    finder,
		days:      days,
		timeout:   5 * time.Minute,
	}
}

// Run builds the report once. A failing pipeline is logged and skipped.
func (r *StaleReporter) Run(ctx context.Context) ([]StaleEntry, error) {
	pipelines, err := r.pipelines.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list active pipelines: %w", err)
	}

	entries := make([]StaleEntry, 0, len(pipelines))
	var errs []error
	for _, p := range pipelines {
		stale, err := r.finder.StaleEntities(ctx, p.ID, r.days)
		if err != nil {
			slog.Error("failed to find stale entities",
				"pipeline", p.Code,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("pipeline %s: %w", p.Code, err))
			continue
		}

		entry := StaleEntry{
			PipelineID:   p.ID,
			PipelineCode: p.Code,
			EntityType:   p.EntityType,
			Count:        len(stale),
		}
		for _, es := range stale {
			entry.EntityIDs = append(entry.EntityIDs, es.EntityID)
		}
		entries = append(entries, entry)

		if entry.Count > 0 {
			slog.Warn("stale entities found",
				"pipeline", p.Code,
				"entity_type", p.EntityType,
				"days", r.days,
				"count", entry.Count,
			)
		} else {
			slog.Debug("no stale entities", "pipeline", p.Code, "days", r.days)
		}
	}
	return entries, errors.Join(errs...)
}

// Start schedules Run on a standard five-field cron expression (descriptors such as @daily work too).
func (r *StaleReporter) Start(spec string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return fmt.Errorf("stale reporter already started")
	}

	c := cron.New(cron.WithLocation(time.UTC))
	if _, err := c.AddFunc(spec, r.runScheduled); err != nil {
		return fmt.Errorf("invalid stale report schedule %q: %w", spec, err)
	}
	c.Start()
	r.cron = c

	slog.Info("stale reporter started", "schedule", spec, "days", r.days)
	return nil
}

// Stop halts the schedule and waits for a running report to finish or ctx to end.
func (r *StaleReporter) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}

	select {
	case <-c.Stop().Done():
		slog.Info("stale reporter stopped")
	case <-ctx.Done():
		slog.Warn("stale reporter stop timed out", "error", ctx.Err())
	}
}

func (r *StaleReporter) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if _, err := r.Run(ctx); err != nil {
		slog.Error("stale report failed", "error", err)
	}
}
