package service

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/OpenNSW/pipeline/internal/entity"
	"github.com/OpenNSW/pipeline/internal/pipeline/action"
	"github.com/OpenNSW/pipeline/internal/pipeline/guard"
	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, sqlMock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return db, sqlMock
}

func TestPipelineStore_GetActiveByEntityType_None(t *testing.T) {
	db, sqlMock := setupMockDB(t)
	store := NewPipelineStore(db)

	sqlMock.ExpectQuery(`SELECT \* FROM "pipelines" WHERE entity_type = \$1 AND active = \$2 ORDER BY updated_at DESC`).
		WithArgs("asset", true, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	p, err := store.GetActiveByEntityType(context.Background(), "asset")
	assert.NoError(t, err)
	assert.Nil(t, p)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestPipelineStore_ListTransitionsFromIncludesWildcards(t *testing.T) {
	db, sqlMock := setupMockDB(t)
	store := NewPipelineStore(db)
	pipelineID, stateID := uuid.New(), uuid.New()

	sqlMock.ExpectQuery(`SELECT \* FROM "pipeline_transitions" WHERE \(pipeline_id = \$1 AND active = \$2\) AND \(from_state_id = \$3 OR from_state_id IS NULL\) ORDER BY sort_order ASC, code ASC`).
		WithArgs(pipelineID, true, stateID).
		WillReturnRows(sqlmock.NewRows([]string{"id", "pipeline_id", "code", "to_state_id"}))

	transitions, err := store.ListTransitionsFrom(context.Background(), pipelineID, stateID)
	assert.NoError(t, err)
	assert.Empty(t, transitions)
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}

func TestExecutor_LocksEntityStateAndEntityRows(t *testing.T) {
	db, sqlMock := setupMockDB(t)
	store := NewPipelineStore(db)
	executor := NewExecutor(db, store, guard.NewEvaluator(nil), action.NewRunner(), NewAuditTrail(db), entity.DefaultRegistry())

	es := &model.EntityState{BaseModel: model.BaseModel{ID: uuid.New()}, PipelineID: uuid.New(), EntityType: entity.TypeAsset, EntityID: 7}
	transition := &model.PipelineTransition{BaseModel: model.BaseModel{ID: uuid.New()}, PipelineID: uuid.New(), Code: "activate", Active: true}

	sqlMock.ExpectBegin()
	sqlMock.ExpectQuery(`SELECT \* FROM "entity_states" WHERE id = \$1 .*FOR UPDATE`).
		WithArgs(es.ID, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "pipeline_id", "entity_type", "entity_id", "current_state_id"}).
			AddRow(es.ID.String(), es.PipelineID.String(), es.EntityType, es.EntityID, uuid.New().String()))
	sqlMock.ExpectQuery(`SELECT \* FROM "assets" WHERE id = \$1 .*FOR UPDATE`).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "condition"}).AddRow(7, "Laptop", "good"))
	sqlMock.ExpectRollback()

	_, err := executor.Execute(context.Background(), es, transition, &entity.Asset{ID: 7}, ExecuteRequest{})

	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"transition does not belong to this pipeline"}, verr.Messages(model.FieldPipeline))
	assert.NoError(t, sqlMock.ExpectationsWereMet())
}
