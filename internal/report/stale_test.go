package report

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

type MockPipelines struct {
	mock.Mock
}

func (m *MockPipelines) ListActive(ctx context.Context) ([]model.Pipeline, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Pipeline), args.Error(1)
}

type MockFinder struct {
	mock.Mock
}

func (m *MockFinder) StaleEntities(ctx context.Context, pipelineID uuid.UUID, days int) ([]model.EntityState, error) {
	args := m.Called(ctx, pipelineID, days)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.EntityState), args.Error(1)
}

func TestStaleReporter_Run(t *testing.T) {
	ctx := context.Background()
	assets := model.Pipeline{BaseModel: model.BaseModel{ID: uuid.New()}, Code: "AssetLifecycle", EntityType: "asset"}
	orders := model.Pipeline{BaseModel: model.BaseModel{ID: uuid.New()}, Code: "PurchaseOrderApproval", EntityType: "purchase_order"}
	broken := model.Pipeline{BaseModel: model.BaseModel{ID: uuid.New()}, Code: "Broken", EntityType: "ticket"}

	pipelines := new(MockPipelines)
	pipelines.On("ListActive", ctx).Return([]model.Pipeline{assets, orders, broken}, nil)

	finder := new(MockFinder)
	finder.On("StaleEntities", ctx, assets.ID, 30).Return([]model.EntityState{{EntityID: 4}, {EntityID: 9}}, nil)
	finder.On("StaleEntities", ctx, orders.ID, 30).Return([]model.EntityState{}, nil)
	finder.On("StaleEntities", ctx, broken.ID, 30).Return(nil, errors.New("connection reset"))

	entries, err := NewStaleReporter(pipelines, finder, 30).Run(ctx)
	assert.EqualError(t, err, "pipeline Broken: connection reset")
	require.Len(t, entries, 2)
	assert.Equal(t, StaleEntry{PipelineID: assets.ID, PipelineCode: "AssetLifecycle", EntityType: "asset", Count: 2, EntityIDs: []uint64{4, 9}}, entries[0])
	assert.Equal(t, 0, entries[1].Count)
	finder.AssertExpectations(t)
}

func TestStaleReporter_RunListFails(t *testing.T) {
	pipelines := new(MockPipelines)
	pipelines.On("ListActive", mock.Anything).Return(nil, errors.New("db down"))

	_, err := NewStaleReporter(pipelines, new(MockFinder), 30).Run(context.Background())
	assert.EqualError(t, err, "failed to list active pipelines: db down")
}

func TestStaleReporter_StartStop(t *testing.T) {
	r := NewStaleReporter(new(MockPipelines), new(MockFinder), 30)

	assert.ErrorContains(t, r.Start("every tuesday"), "invalid stale report schedule")

	require.NoError(t, r.Start("0 6 * * *"))
	assert.EqualError(t, r.Start("@daily"), "stale reporter already started")
	r.Stop(context.Background())
	r.Stop(context.Background())

	require.NoError(t, r.Start("@daily"))
	r.Stop(context.Background())
}
