package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

func TestQuery_AvailableTransitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.savePipeline(t, assetLifecycle())
	asset := env.createAsset(t, map[string]any{"name": "Laptop", "condition": "good"})
	_, err := env.assignment.Assign(ctx, asset)
	require.NoError(t, err)
	ref := model.RefOf(asset)

	_, err = env.executor.ExecuteByCode(ctx, ref, "activate", ExecuteRequest{})
	require.NoError(t, err)

	view, err := env.query.AvailableTransitions(ctx, ref, nil)
	require.NoError(t, err)
	assert.Equal(t, "active", view.EntityState.CurrentState.Code)

	options := map[string]TransitionOption{}
	for _, o := range view.Transitions {
		options[o.Code] = o
	}
	require.Len(t, options, 3)

	assert.True(t, options["send_to_maintenance"].Allowed)
	assert.Empty(t, options["send_to_maintenance"].Reasons)

	assert.False(t, options["dispose"].Allowed)
	assert.Equal(t, []string{"Field check failed: condition must not equals 'good' (current value: 'good')"}, options["dispose"].Reasons)

	assert.False(t, options["report_lost"].Allowed)
	assert.Equal(t, []string{"insufficient permission"}, options["report_lost"].Reasons)
	assert.Equal(t, "lost", options["report_lost"].ToState.Code)
}

func TestQuery_AvailableTransitionsUnassigned(t *testing.T) {
	env := newTestEnv(t)
	asset := env.createAsset(t, map[string]any{"name": "Laptop"})

	_, err := env.query.AvailableTransitions(context.Background(), model.RefOf(asset), nil)
	assert.Equal(t, model.ErrCodeEntityNotFound, model.ErrorCode(err))
}

func TestQuery_StateCounts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.savePipeline(t, assetLifecycle())

	for i := 0; i < 3; i++ {
		asset := env.createAsset(t, map[string]any{"name": "Laptop"})
		_, err := env.assignment.Assign(ctx, asset)
		require.NoError(t, err)
		if i == 0 {
			_, err = env.executor.ExecuteByCode(ctx, model.RefOf(asset), "activate", ExecuteRequest{})
			require.NoError(t, err)
		}
	}

	counts, err := env.query.StateCounts(ctx, p.ID)
	require.NoError(t, err)

	got := map[string]int64{}
	for _, c := range counts {
		got[c.Code] = c.Count
	}
	assert.Equal(t, map[string]int64{"draft": 2, "active": 1, "maintenance": 0, "disposed": 0, "lost": 0}, got)
	assert.Equal(t, "draft", counts[0].Code)
}

func TestQuery_StaleEntities(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.savePipeline(t, assetLifecycle())
	manager := &testActor{id: "manager", permissions: map[string]bool{"assets.report_lost": true}}

	assign := func() *model.EntityState {
		es, err := env.assignment.Assign(ctx, env.createAsset(t, map[string]any{"name": "Laptop"}))
		require.NoError(t, err)
		return es
	}
	old := time.Now().UTC().AddDate(0, 0, -45)

	neverMoved := assign()
	require.NoError(t, env.db.Model(&model.EntityState{}).Where("id = ?", neverMoved.ID).
		UpdateColumn("created_at", old).Error)

	movedLongAgo := assign()
	_, err := env.executor.ExecuteByCode(ctx, movedLongAgo.Ref(), "activate", ExecuteRequest{})
	require.NoError(t, err)
	require.NoError(t, env.db.Model(&model.EntityState{}).Where("id = ?", movedLongAgo.ID).
		UpdateColumn("last_transitioned_at", old).Error)

	finalLongAgo := assign()
	_, err = env.executor.ExecuteByCode(ctx, finalLongAgo.Ref(), "report_lost", ExecuteRequest{Actor: manager})
	require.NoError(t, err)
	require.NoError(t, env.db.Model(&model.EntityState{}).Where("id = ?", finalLongAgo.ID).
		UpdateColumn("last_transitioned_at", old).Error)

	assign() // fresh

	stale, err := env.query.StaleEntities(ctx, p.ID, 30)
	require.NoError(t, err)
	ids := []string{}
	for _, es := range stale {
		ids = append(ids, es.ID.String())
	}
	assert.ElementsMatch(t, []string{neverMoved.ID.String(), movedLongAgo.ID.String()}, ids)

	stale, err = env.query.StaleEntities(ctx, p.ID, 60)
	require.NoError(t, err)
	assert.Empty(t, stale)

	_, err = env.query.StaleEntities(ctx, p.ID, -1)
	assert.Error(t, err)
}
