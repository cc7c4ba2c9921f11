package definitions

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"entityforge/internal/dsl"
	"entityforge/internal/pg"
	"entityforge/internal/reference"
	"entityforge/internal/schemaerr"
)

func startPostgres(t *testing.T) (*sql.DB, *pg.Engine) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test: skipped with -short")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("entityforge"),
		postgres.WithUsername("entityforge"),
		postgres.WithPassword("entityforge"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	db, err := pg.Open(ctx, dsn, pg.PoolOptions{PingTimeout: 30 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng := pg.NewEngine(db, pg.NewCatalog(db, ""), reference.Catalog{}, pg.EngineOptions{}, log)
	require.NoError(t, eng.Bootstrap(ctx))
	return db, eng
}

func TestServiceAgainstPostgres(t *testing.T) {
	db, eng := startPostgres(t)
	ctx := context.Background()
	store := NewStore(db)
	svc := NewService(store, eng, reference.Catalog{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	actor := uuid.New()
	def := bookDef()
	def.Fields = append(def.Fields, dsl.Field{Name: "lang", Type: dsl.String, Required: true, Default: "ru"})
	created, err := svc.Create(ctx, def, &actor)
	require.NoError(t, err)

	got, err := store.Get(ctx, created.UUID)
	require.NoError(t, err)
	assert.Equal(t, "Book", got.EntityType)
	assert.Equal(t, 1, got.Version)
	require.Len(t, got.Fields, 3)
	assert.Equal(t, "ru", got.Fields[2].Default)
	require.NotNil(t, got.CreatedBy)
	assert.Equal(t, actor, *got.CreatedBy)
	assert.Equal(t, got.CreatedBy, got.UpdatedBy)

	byType, err := store.GetByType(ctx, "book")
	require.NoError(t, err)
	assert.Equal(t, created.UUID, byType.UUID)

	// конкурентное обновление со старой версией
	stale := *got
	stale.Version = 2
	assert.True(t, errors.Is(store.Update(ctx, &stale, 5), ErrVersionConflict))

	next := bookDef()
	updated, err := svc.Update(ctx, created.UUID, next, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	success, failures, err := svc.ApplyAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, success)
	assert.Empty(t, failures)

	list, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, svc.Delete(ctx, created.UUID))
	_, err = store.Get(ctx, created.UUID)
	assert.True(t, errors.Is(err, schemaerr.ErrNotFound))
}
