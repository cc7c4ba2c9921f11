package pg

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityforge/internal/schemaerr"
)

// fakeExec запоминает выполненные операторы и падает на тех, что содержат ключ из fail.
type fakeExec struct {
	mu       sync.Mutex
	executed []string
	args     [][]any
	fail     map[string]error
	onExec   func(query string)
}

func (f *fakeExec) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for key, err := range f.fail {
		if strings.Contains(query, key) {
			return nil, err
		}
	}
	f.executed = append(f.executed, query)
	f.args = append(f.args, args)
	if f.onExec != nil {
		f.onExec(query)
	}
	return driverResult{}, nil
}

type driverResult struct{}

func (driverResult) LastInsertId() (int64, error) { return 0, nil }
func (driverResult) RowsAffected() (int64, error) { return 0, nil }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func pgErr(code string) error {
	return &pgconn.PgError{Code: code, Message: "boom"}
}

func TestApplyToleratesIdempotentFailures(t *testing.T) {
	db := &fakeExec{fail: map[string]error{"idx_a": pgErr("42P07")}}
	x := NewExecutor(db, quietLogger())

	rep, err := x.Apply(context.Background(), "Book", []Statement{
		stmt(KindCreateIndex, true, "CREATE INDEX IF NOT EXISTS idx_a ON t (a)"),
		stmt(KindAddColumn, true, "ALTER TABLE t ADD COLUMN IF NOT EXISTS b text"),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Applied)
	require.Len(t, rep.Tolerated, 1)

	var dbe *schemaerr.DatabaseError
	require.True(t, errors.As(rep.Tolerated[0].Err, &dbe))
	assert.Equal(t, "42P07", dbe.Code)
}

func TestApplyStrictFailureAborts(t *testing.T) {
	db := &fakeExec{fail: map[string]error{"TYPE integer": pgErr("22P02")}}
	x := NewExecutor(db, quietLogger())

	rep, err := x.Apply(context.Background(), "Book", []Statement{
		stmt(KindAddColumn, true, "ALTER TABLE t ADD COLUMN IF NOT EXISTS b text"),
		stmt(KindAlterColumn, false, "ALTER TABLE t ALTER COLUMN a TYPE integer USING a::integer"),
		stmt(KindAddColumn, true, "ALTER TABLE t ADD COLUMN IF NOT EXISTS c text"),
	})
	require.Error(t, err)
	assert.Equal(t, 1, rep.Applied)
	assert.Len(t, db.executed, 1, "после Strict-ошибки пакет не продолжается")

	var sae *schemaerr.SchemaApplicationError
	require.True(t, errors.As(err, &sae))
	assert.Equal(t, "Book", sae.Entity)
	require.Len(t, sae.Failures, 1)
	assert.Contains(t, sae.Failures[0].Statement, "TYPE integer")
	assert.True(t, errors.Is(err, schemaerr.ErrSchemaApplication))
	assert.True(t, errors.Is(err, schemaerr.ErrDatabase))

	var pe *pgconn.PgError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, "22P02", pe.Code)
}

func TestApplyToleratedCodes(t *testing.T) {
	// Strict create_index по несуществующей колонке и duplicate_object в скрипте прощаются
	db := &fakeExec{fail: map[string]error{
		"CREATE INDEX": pgErr(codeUndefinedColumn),
		"CREATE TYPE":  pgErr(codeDuplicateObject),
	}}
	x := NewExecutor(db, quietLogger())
	rep, err := x.Apply(context.Background(), "Book", []Statement{
		{SQL: "CREATE INDEX i ON t (gone)", Kind: KindCreateIndex, Policy: Strict},
		{SQL: "CREATE TYPE s AS ENUM ('a')", Kind: KindScript, Policy: Strict},
	})
	require.NoError(t, err)
	assert.Len(t, rep.Tolerated, 2)

	// тот же код у другого вида оператора фатален
	db = &fakeExec{fail: map[string]error{"CREATE VIEW": pgErr(codeUndefinedColumn)}}
	_, err = NewExecutor(db, quietLogger()).Apply(context.Background(), "Book", []Statement{
		{SQL: "CREATE VIEW v AS SELECT gone FROM t", Kind: KindCreateView, Policy: Strict},
	})
	assert.True(t, errors.Is(err, schemaerr.ErrSchemaApplication))
}

func TestApplyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	db := &fakeExec{}
	_, err := NewExecutor(db, quietLogger()).Apply(ctx, "Book", []Statement{
		stmt(KindAddColumn, true, "ALTER TABLE t ADD COLUMN IF NOT EXISTS b text"),
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, db.executed)
}

func TestApplySkipsBlankAndPassesArgs(t *testing.T) {
	db := &fakeExec{}
	rep, err := NewExecutor(db, quietLogger()).Apply(context.Background(), "Book", []Statement{
		{SQL: "  \n", Kind: KindScript},
		{SQL: "DELETE FROM r WHERE entity_type = $1", Args: []any{"Book"}, Kind: KindDeleteRows},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Applied)
	assert.Equal(t, [][]any{{"Book"}}, db.args)
}

func TestApplyScript(t *testing.T) {
	db := &fakeExec{}
	rep, err := NewExecutor(db, quietLogger()).ApplyScript(context.Background(), "bootstrap", bootstrapScript, Strict)
	require.NoError(t, err)
	assert.Equal(t, 5, rep.Applied)
	assert.True(t, strings.HasPrefix(db.executed[4], "DO $$"))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, Idempotent, classify(KindDropView, true))
	assert.Equal(t, Idempotent, classify(KindCreateIndex, false))
	assert.Equal(t, Idempotent, classify(KindAddColumn, false))
	assert.Equal(t, Strict, classify(KindAlterColumn, false))
	assert.Equal(t, Strict, classify(KindCreateView, false))
	assert.Equal(t, "strict", Strict.String())
	assert.Equal(t, "idempotent", Idempotent.String())
}
