package definitions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityforge/internal/dsl"
	"entityforge/internal/pg"
	"entityforge/internal/schemaerr"
)

type memRepo struct {
	defs map[uuid.UUID]*dsl.EntityDefinition
}

func newMemRepo() *memRepo { return &memRepo{defs: map[uuid.UUID]*dsl.EntityDefinition{}} }

func (r *memRepo) Get(_ context.Context, id uuid.UUID) (*dsl.EntityDefinition, error) {
	d, ok := r.defs[id]
	if !ok {
		return nil, &schemaerr.NotFoundError{Resource: "definition", ID: id.String()}
	}
	cp := *d
	return &cp, nil
}

func (r *memRepo) GetByType(_ context.Context, et string) (*dsl.EntityDefinition, error) {
	for _, d := range r.defs {
		if strings.EqualFold(d.EntityType, et) {
			cp := *d
			return &cp, nil
		}
	}
	return nil, &schemaerr.NotFoundError{Resource: "definition", ID: et}
}

func (r *memRepo) List(context.Context) ([]*dsl.EntityDefinition, error) {
	var out []*dsl.EntityDefinition
	for _, d := range r.defs {
		cp := *d
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityType < out[j].EntityType })
	return out, nil
}

func (r *memRepo) Insert(_ context.Context, d *dsl.EntityDefinition) error {
	cp := *d
	r.defs[d.UUID] = &cp
	return nil
}

func (r *memRepo) Update(_ context.Context, d *dsl.EntityDefinition, expected int) error {
	cur, ok := r.defs[d.UUID]
	if !ok || cur.Version != expected {
		return ErrVersionConflict
	}
	cp := *d
	r.defs[d.UUID] = &cp
	return nil
}

func (r *memRepo) Delete(_ context.Context, id uuid.UUID) error {
	delete(r.defs, id)
	return nil
}

type call struct {
	op   string
	def  *dsl.EntityDefinition
	prev *dsl.EntityDefinition
}

type fakeEngine struct {
	calls      []call
	failFor    map[string]error
	dropErr    error
	orphanErr  error
	orphanLive []string
}

func (e *fakeEngine) Reconcile(_ context.Context, def, prev *dsl.EntityDefinition) (*pg.Result, error) {
	e.calls = append(e.calls, call{op: "reconcile", def: def, prev: prev})
	if err := e.failFor[def.EntityType]; err != nil {
		return nil, err
	}
	return &pg.Result{RunID: "run"}, nil
}

func (e *fakeEngine) Drop(_ context.Context, def *dsl.EntityDefinition) error {
	e.calls = append(e.calls, call{op: "drop", def: def})
	return e.dropErr
}

func (e *fakeEngine) ReconcileOrphans(_ context.Context, live []string, _ bool) ([]string, error) {
	e.calls = append(e.calls, call{op: "orphans"})
	e.orphanLive = live
	return nil, e.orphanErr
}

func (e *fakeEngine) Bootstrap(context.Context) error {
	e.calls = append(e.calls, call{op: "bootstrap"})
	return nil
}

func (e *fakeEngine) ops() []string {
	out := make([]string, 0, len(e.calls))
	for _, c := range e.calls {
		out = append(out, c.op)
	}
	return out
}

type enumSet map[string]bool

func (s enumSet) Has(name string) bool { return s[strings.ToLower(name)] }

var clock = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func newTestService(repo Repository, eng Reconciler) *Service {
	return NewService(repo, eng, enumSet{"status": true}, slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(func() time.Time { return clock }))
}

func bookDef() *dsl.EntityDefinition {
	return &dsl.EntityDefinition{
		EntityType: "Book",
		Fields: []dsl.Field{
			{Name: "title", Type: dsl.String, Required: true},
			{Name: "pages", Type: dsl.Integer, Indexed: true},
		},
	}
}

func TestCreate(t *testing.T) {
	repo, eng := newMemRepo(), &fakeEngine{}
	svc := newTestService(repo, eng)
	actor := uuid.New()

	d, err := svc.Create(context.Background(), bookDef(), &actor)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, d.UUID)
	assert.Equal(t, 1, d.Version)
	assert.Equal(t, clock, d.CreatedAt)
	assert.Equal(t, &actor, d.CreatedBy)

	require.Equal(t, []string{"reconcile"}, eng.ops())
	assert.Nil(t, eng.calls[0].prev)
	assert.Len(t, repo.defs, 1)

	_, err = svc.Create(context.Background(), &dsl.EntityDefinition{EntityType: "BOOK"}, nil)
	assert.True(t, errors.Is(err, schemaerr.ErrValidation), "повтор типа без учёта регистра")
}

func TestCreateRejectsBeforePersisting(t *testing.T) {
	tests := map[string]*dsl.EntityDefinition{
		"bad name":      {EntityType: "1book"},
		"duplicate":     {EntityType: "Book", Fields: []dsl.Field{{Name: "a", Type: dsl.String}, {Name: "A", Type: dsl.Text}}},
		"unknown enum":  {EntityType: "Book", Fields: []dsl.Field{{Name: "s", Type: dsl.Select, Validation: dsl.Validation{Options: &dsl.OptionsSource{Kind: dsl.OptionsEnum, Enum: "nope"}}}}},
		"bad default":   {EntityType: "Book", Fields: []dsl.Field{{Name: "n", Type: dsl.Integer, Default: "many"}}},
		"reserved type": {EntityType: "Registry"},
	}
	for name, def := range tests {
		t.Run(name, func(t *testing.T) {
			repo, eng := newMemRepo(), &fakeEngine{}
			_, err := newTestService(repo, eng).Create(context.Background(), def, nil)
			assert.True(t, errors.Is(err, schemaerr.ErrValidation), "err: %v", err)
			assert.Empty(t, repo.defs)
			assert.Empty(t, eng.calls)
		})
	}
}

func TestCreateKeepsDefinitionWhenReconcileFails(t *testing.T) {
	repo := newMemRepo()
	eng := &fakeEngine{failFor: map[string]error{"Book": &schemaerr.SchemaApplicationError{Entity: "Book"}}}

	d, err := newTestService(repo, eng).Create(context.Background(), bookDef(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, schemaerr.ErrSchemaApplication))
	require.NotNil(t, d)
	assert.Contains(t, repo.defs, d.UUID)
}

func TestUpdate(t *testing.T) {
	repo, eng := newMemRepo(), &fakeEngine{}
	svc := newTestService(repo, eng)
	created, err := svc.Create(context.Background(), bookDef(), nil)
	require.NoError(t, err)

	next := bookDef()
	next.Fields = next.Fields[:1]
	updated, err := svc.Update(context.Background(), created.UUID, next, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	last := eng.calls[len(eng.calls)-1]
	require.NotNil(t, last.prev)
	assert.Len(t, last.prev.Fields, 2, "движок получает предыдущую версию")
	assert.Len(t, last.def.Fields, 1)
}

func TestUpdateGuards(t *testing.T) {
	repo, eng := newMemRepo(), &fakeEngine{}
	svc := newTestService(repo, eng)
	created, err := svc.Create(context.Background(), bookDef(), nil)
	require.NoError(t, err)

	renamed := bookDef()
	renamed.EntityType = "Novel"
	_, err = svc.Update(context.Background(), created.UUID, renamed, nil)
	assert.True(t, errors.Is(err, schemaerr.ErrValidation))

	stale := bookDef()
	stale.Version = 7
	_, err = svc.Update(context.Background(), created.UUID, stale, nil)
	assert.True(t, errors.Is(err, ErrVersionConflict))

	_, err = svc.Update(context.Background(), uuid.New(), bookDef(), nil)
	assert.True(t, errors.Is(err, schemaerr.ErrNotFound))
}

func TestDelete(t *testing.T) {
	repo, eng := newMemRepo(), &fakeEngine{}
	svc := newTestService(repo, eng)
	created, err := svc.Create(context.Background(), bookDef(), nil)
	require.NoError(t, err)

	eng.dropErr = &schemaerr.NotEmptyError{Entity: "Book", Rows: 2}
	err = svc.Delete(context.Background(), created.UUID)
	assert.True(t, errors.Is(err, schemaerr.ErrNotEmpty))
	assert.Contains(t, repo.defs, created.UUID, "определение остаётся, пока в таблице есть данные")

	eng.dropErr = nil
	require.NoError(t, svc.Delete(context.Background(), created.UUID))
	assert.Empty(t, repo.defs)
}

func TestApplyAll(t *testing.T) {
	repo := newMemRepo()
	eng := &fakeEngine{}
	svc := newTestService(repo, eng)
	for _, et := range []string{"Author", "Book", "Shelf"} {
		d := bookDef()
		d.EntityType = et
		_, err := svc.Create(context.Background(), d, nil)
		require.NoError(t, err)
	}
	eng.calls = nil
	eng.failFor = map[string]error{"Book": &schemaerr.SchemaApplicationError{Entity: "Book"}}

	success, failures, err := svc.ApplyAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, success)
	require.Len(t, failures, 1)
	assert.Equal(t, "Book", failures[0].EntityType)
	assert.Equal(t, []string{"reconcile", "reconcile", "reconcile", "orphans"}, eng.ops())
	assert.ElementsMatch(t, []string{"Author", "Book", "Shelf"}, eng.orphanLive)
}

func TestApplyAllAbortsOnOrphanFailure(t *testing.T) {
	eng := &fakeEngine{orphanErr: &schemaerr.DatabaseError{Op: "drop_orphan"}}
	_, _, err := newTestService(newMemRepo(), eng).ApplyAll(context.Background())
	assert.True(t, errors.Is(err, schemaerr.ErrDatabase))
}

func TestLoadSeeds(t *testing.T) {
	dir := t.TempDir()
	src := "entity Book:\n  title: string required\n  pages: int indexed\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "books.dsl"), []byte(src), 0o644))

	repo, eng := newMemRepo(), &fakeEngine{}
	svc := newTestService(repo, eng)

	res, err := svc.LoadSeeds(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"Book"}, res.Created)

	// тот же файл: версия не растёт
	res, err = svc.LoadSeeds(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"Book"}, res.Unchanged)

	src += "  isbn: string\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "books.dsl"), []byte(src), 0o644))
	res, err = svc.LoadSeeds(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"Book"}, res.Updated)

	cur, err := repo.GetByType(context.Background(), "Book")
	require.NoError(t, err)
	assert.Equal(t, 2, cur.Version)
	assert.Len(t, cur.Fields, 3)
}
