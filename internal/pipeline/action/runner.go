package action

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"gorm.io/gorm"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

// Built-in action types.
const (
	TypeUpdateField      = "update_field"
	TypeCreateRecord     = "create_record"
	TypeSendNotification = "send_notification"
	TypeDispatchJob      = "dispatch_job"
	TypeArchiveSnapshot  = "archive_snapshot"
	TypeCustom           = "custom"
)

const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// Result is the outcome of one action, embedded in the audit metadata.
type Result struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Handler executes one action type. Execute runs inside the transition's
// transaction and must use tx for every write.
type Handler interface {
	Validate(config json.RawMessage) error
	Execute(ctx context.Context, tx *gorm.DB, entity model.Entity, config json.RawMessage) (any, error)
}

// Undoer is implemented by handlers whose effects live outside the database
// transaction. Undo receives the result of a successful Execute and reverts it.
type Undoer interface {
	Undo(ctx context.Context, result any) error
}

// Runner dispatches a transition's actions to their handlers.
type Runner struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRunner() *Runner {
	return &Runner{handlers: make(map[string]Handler)}
}

// Register binds a handler to an action type, replacing any previous one.
func (r *Runner) Register(actionType string, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[actionType] = handler
}

func (r *Runner) handler(actionType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[actionType]
	return h, ok
}

// ValidateConfig checks an action configuration when a definition is loaded.
// Unregistered types are rejected here even though Run tolerates them.
func (r *Runner) ValidateConfig(actionType string, config json.RawMessage) error {
	h, ok := r.handler(actionType)
	if !ok {
		return model.NewError(model.ErrPluginNotFound, fmt.Sprintf("no handler registered for action type %q", actionType), nil, nil)
	}
	return h.Validate(config)
}

// Run executes the active actions of the transition in ascending execution
// order and returns the per-action results keyed by action id. Each action
// runs under its own savepoint when tx is set, so a failed action under the
// continue policies leaves no database writes behind. When an action with the
// abort policy fails, Run stops and returns an *model.ActionAbortedError so
// the caller can roll back.
func (r *Runner) Run(ctx context.Context, tx *gorm.DB, transition *model.PipelineTransition, entity model.Entity) (map[string]Result, error) {
	results := make(map[string]Result)

	for i, a := range activeActions(transition) {
		id := a.ID.String()

		h, ok := r.handler(a.ActionType)
		if !ok {
			slog.Warn("no handler registered for action type, skipping",
				"action_id", id,
				"action_type", a.ActionType,
				"transition", transition.Code,
			)
			results[id] = Result{Type: a.ActionType, Status: StatusSuccess, Result: "skipped"}
			continue
		}

		savepoint := fmt.Sprintf("pipeline_action_%d", i)
		if tx != nil {
			if err := tx.SavePoint(savepoint).Error; err != nil {
				return results, fmt.Errorf("failed to create savepoint for action %s: %w", id, err)
			}
		}

		out, err := h.Execute(ctx, tx, entity, a.Config)
		if err == nil {
			results[id] = Result{Type: a.ActionType, Status: StatusSuccess, Result: out}
			continue
		}

		results[id] = Result{Type: a.ActionType, Status: StatusFailed, Error: err.Error()}
		slog.Error("transition action failed",
			"action_id", id,
			"action_type", a.ActionType,
			"on_failure", a.OnFailure,
			"transition", transition.Code,
			"entity", model.RefOf(entity).String(),
			"error", err,
		)

		switch a.OnFailure {
		case model.FailurePolicyContinue, model.FailurePolicyLogAndContinue:
			if tx != nil {
				if rbErr := tx.RollbackTo(savepoint).Error; rbErr != nil {
					return results, fmt.Errorf("failed to roll back action %s: %w", id, rbErr)
				}
			}
			if a.OnFailure == model.FailurePolicyLogAndContinue {
				slog.Warn("continuing after failed action",
					"action_id", id,
					"transition", transition.Code,
				)
			}
		default:
			return results, &model.ActionAbortedError{ActionID: id, ActionType: a.ActionType, Err: err}
		}
	}

	return results, nil
}

// Compensate reverts, newest first, the successful actions of results whose
// handlers implement Undoer. It is called after the transition's transaction
// was rolled back. Failures are logged and do not stop the remaining undos.
func (r *Runner) Compensate(ctx context.Context, transition *model.PipelineTransition, results map[string]Result) {
	actions := activeActions(transition)
	for i := len(actions) - 1; i >= 0; i-- {
		a := actions[i]
		res, ok := results[a.ID.String()]
		if !ok || res.Status != StatusSuccess {
			continue
		}
		h, ok := r.handler(a.ActionType)
		if !ok {
			continue
		}
		undoer, ok := h.(Undoer)
		if !ok {
			continue
		}
		if err := undoer.Undo(ctx, res.Result); err != nil {
			slog.Error("failed to undo action after rollback",
				"action_id", a.ID.String(),
				"action_type", a.ActionType,
				"transition", transition.Code,
				"error", err,
			)
		}
	}
}

func activeActions(transition *model.PipelineTransition) []model.TransitionAction {
	actions := make([]model.TransitionAction, 0, len(transition.Actions))
	for _, a := range transition.Actions {
		if a.Active {
			actions = append(actions, a)
		}
	}
	sort.SliceStable(actions, func(i, j int) bool {
		return actions[i].ExecutionOrder < actions[j].ExecutionOrder
	})
	return actions
}

// decodeConfig decodes an action configuration into its typed form.
func decodeConfig(config json.RawMessage, target interface{ Validate() error }) error {
	if len(config) > 0 {
		if err := json.Unmarshal(config, target); err != nil {
			return model.NewError(model.ErrInvalidActionConfig, fmt.Sprintf("malformed action config: %v", err), err, nil)
		}
	}
	if err := target.Validate(); err != nil {
		return model.NewError(model.ErrInvalidActionConfig, err.Error(), err, nil)
	}
	return nil
}
