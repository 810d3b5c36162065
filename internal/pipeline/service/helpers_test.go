package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/OpenNSW/pipeline/internal/database"
	"github.com/OpenNSW/pipeline/internal/entity"
	"github.com/OpenNSW/pipeline/internal/pipeline/action"
	"github.com/OpenNSW/pipeline/internal/pipeline/guard"
	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

type testEnv struct {
	db         *gorm.DB
	store      *PipelineStore
	registry   *Registry
	assignment *Assignment
	executor   *Executor
	audit      *AuditTrail
	query      *Query
	entities   *entity.Registry
	rules      *guard.RuleRegistry
	runner     *action.Runner
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := database.OpenInMemory(append(model.Models(), entity.Models()...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })
	return newTestEnvWithDB(db)
}

func newTestEnvWithDB(db *gorm.DB) *testEnv {
	env := &testEnv{
		db:       db,
		store:    NewPipelineStore(db),
		audit:    NewAuditTrail(db),
		entities: entity.DefaultRegistry(),
		rules:    guard.NewRuleRegistry(),
	}
	guards := guard.NewEvaluator(env.rules)

	hooks := action.NewCustomHandler()
	hooks.RegisterMethod("Hooks", "fail", func(context.Context, model.Entity, map[string]any) (any, error) {
		return nil, errors.New("hook failed")
	})
	hooks.RegisterMethod("Hooks", "echo", func(_ context.Context, _ model.Entity, data map[string]any) (any, error) {
		return data, nil
	})

	runner := action.NewRunner()
	env.runner = runner
	env.assignment = NewAssignment(db, env.store, guards, env.audit)
	runner.Register(action.TypeUpdateField, action.NewUpdateFieldHandler())
	runner.Register(action.TypeCustom, hooks)
	runner.Register(action.TypeCreateRecord, action.NewCreateRecordHandler(env.entities, env.assignment))

	env.registry = NewRegistry(db, env.store, runner)
	env.executor = NewExecutor(db, env.store, guards, runner, env.audit, env.entities)
	env.query = NewQuery(db, env.store, guards, env.entities)
	return env
}

// assetLifecycle is draft(initial) -> active -> maintenance | disposed(final) | lost(final).
func assetLifecycle() *model.PipelineDefinition {
	return &model.PipelineDefinition{
		Name:       "Asset Lifecycle",
		Code:       "AssetLifecycle",
		EntityType: entity.TypeAsset,
		Active:     true,
		States: []model.StateDefinition{
			{Code: "draft", Name: "Draft", Kind: model.StateKindInitial, SortOrder: 1},
			{Code: "active", Name: "Active", Kind: model.StateKindIntermediate, SortOrder: 2},
			{Code: "maintenance", Name: "Maintenance", Kind: model.StateKindIntermediate, SortOrder: 3},
			{Code: "disposed", Name: "Disposed", Kind: model.StateKindFinal, SortOrder: 4},
			{Code: "lost", Name: "Lost", Kind: model.StateKindFinal, SortOrder: 5},
		},
		Transitions: []model.TransitionDefinition{
			{Code: "activate", Name: "Activate", From: "draft", To: "active", SortOrder: 1},
			{Code: "send_to_maintenance", Name: "Send to maintenance", From: "active", To: "maintenance", SortOrder: 2},
			{Code: "return_to_service", Name: "Return to service", From: "maintenance", To: "active", SortOrder: 3},
			{
				Code: "dispose", Name: "Dispose", From: "active", To: "disposed", SortOrder: 4,
				Guards: &model.GuardConditions{FieldChecks: []model.FieldCheck{
					{Field: "condition", Operator: "not_equals", Value: "good"},
				}},
			},
			{Code: "report_lost", Name: "Report lost", From: model.WildcardState, To: "lost", SortOrder: 5, RequiredPermission: "assets.report_lost"},
		},
	}
}

func (env *testEnv) savePipeline(t *testing.T, def *model.PipelineDefinition) *model.Pipeline {
	t.Helper()
	p, err := env.registry.SaveDefinition(context.Background(), def)
	require.NoError(t, err)
	return p
}

func (env *testEnv) createAsset(t *testing.T, fields map[string]any) *entity.Asset {
	t.Helper()
	e, err := env.entities.CreateRecord(context.Background(), env.db, entity.TypeAsset, fields)
	require.NoError(t, err)
	return e.(*entity.Asset)
}

func (env *testEnv) reloadAsset(t *testing.T, id uint64) *entity.Asset {
	t.Helper()
	var a entity.Asset
	require.NoError(t, env.db.First(&a, id).Error)
	return &a
}

func (env *testEnv) countLogs(t *testing.T, es *model.EntityState) int64 {
	t.Helper()
	n, err := env.audit.CountForEntityState(context.Background(), es)
	require.NoError(t, err)
	return n
}

func (env *testEnv) currentStateCode(t *testing.T, es *model.EntityState) string {
	t.Helper()
	var fresh model.EntityState
	require.NoError(t, env.db.Preload("CurrentState").First(&fresh, "id = ?", es.ID).Error)
	return fresh.CurrentState.Code
}

type testActor struct {
	id          string
	permissions map[string]bool
}

func (a *testActor) ActorID() string { return a.id }

func (a *testActor) HasPermission(name string) bool { return a.permissions[name] }
