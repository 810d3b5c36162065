//go:build integration

package service

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/OpenNSW/pipeline/internal/database"
	"github.com/OpenNSW/pipeline/internal/entity"
	"github.com/OpenNSW/pipeline/internal/pipeline/model"
)

func TestExecutor_ConcurrentTransitionsOnPostgres(t *testing.T) {
	ctx := context.Background()

	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("pipeline"),
		tcpostgres.WithUsername("user"),
		tcpostgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := gorm.Open(postgres.Open(connStr), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db, append(model.Models(), entity.Models()...)...))

	env := newTestEnvWithDB(db)
	env.savePipeline(t, assetLifecycle())
	asset := env.createAsset(t, map[string]any{"name": "Forklift", "condition": "broken"})
	es, err := env.assignment.Assign(ctx, asset)
	require.NoError(t, err)
	_, err = env.executor.ExecuteByCode(ctx, model.RefOf(asset), "activate", ExecuteRequest{})
	require.NoError(t, err)

	// Both transitions leave "active"; only the first to take the row lock may commit.
	codes := []string{"send_to_maintenance", "dispose"}
	errs := make([]error, len(codes))
	var wg sync.WaitGroup
	for i, code := range codes {
		wg.Add(1)
		go func(i int, code string) {
			defer wg.Done()
			_, errs[i] = env.executor.ExecuteByCode(ctx, model.RefOf(asset), code, ExecuteRequest{})
		}(i, code)
	}
	wg.Wait()

	failures := 0
	for _, err := range errs {
		if err == nil {
			continue
		}
		failures++
		var verr *model.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, []string{"current state does not allow this transition"}, verr.Messages(model.FieldState))
	}
	assert.Equal(t, 1, failures)
	assert.EqualValues(t, 3, env.countLogs(t, es))
}
