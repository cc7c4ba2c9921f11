package pg

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/oklog/ulid/v2"

	"entityforge/internal/dsl"
	"entityforge/internal/schemaerr"
)

// Inspector — чтение каталога, нужное движку. *Catalog его реализует.
type Inspector interface {
	TableLister
	Snapshot(ctx context.Context, def, prev *dsl.EntityDefinition) (*State, error)
	Columns(ctx context.Context, table string) ([]Column, error)
	ViewColumns(ctx context.Context, view string) ([]string, error)
	TableExists(ctx context.Context, table string) (bool, error)
	RowCount(ctx context.Context, table string) (int64, error)
}

// EngineOptions — настройки движка.
type EngineOptions struct {
	UUIDDefault bool
	Protected   []string // дополнительные таблицы, которые не трогает очистка сирот
	Locker      Locker   // nil — KeyedMutex
}

// Engine приводит схему БД к определениям: снимок каталога, план, выполнение,
// пересборка view и обязательные пост-условия.
type Engine struct {
	db      Execer
	insp    Inspector
	enums   EnumSource
	locker  Locker
	orphans *OrphanReconciler
	opts    EngineOptions
	log     *slog.Logger
}

// NewEngine собирает движок. enums может быть nil, если Select с enum-источником не используются.
func NewEngine(db Execer, insp Inspector, enums EnumSource, opts EngineOptions, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	locker := opts.Locker
	if locker == nil {
		locker = NewKeyedMutex()
	}
	return &Engine{
		db:      db,
		insp:    insp,
		enums:   enums,
		locker:  locker,
		orphans: NewOrphanReconciler(db, insp, opts.Protected, log),
		opts:    opts,
		log:     log,
	}
}

// Result — итог одного прохода реконсиляции.
type Result struct {
	RunID       string
	Plan        *Plan
	Report      Report
	ViewColumns []string
}

// Reconcile приводит таблицу, join-таблицы, enum-типы и view к def.
// prev — предыдущая версия определения при обновлении, иначе nil.
func (e *Engine) Reconcile(ctx context.Context, def, prev *dsl.EntityDefinition) (*Result, error) {
	if err := dsl.Check(def); err != nil {
		return nil, err
	}
	unlock, err := e.locker.Lock(ctx, def.EntityType)
	if err != nil {
		return nil, err
	}
	defer unlock()

	res := &Result{RunID: ulid.Make().String()}
	log := e.log.With("run", res.RunID, "entity", def.EntityType)
	exec := NewExecutor(e.db, log)

	st, err := e.insp.Snapshot(ctx, def, prev)
	if err != nil {
		return nil, err
	}
	plan, err := BuildPlan(def, prev, st, PlanOptions{UUIDDefault: e.opts.UUIDDefault, Enums: e.enums})
	if err != nil {
		return nil, err
	}
	res.Plan = plan
	log.Info("reconcile started", "statements", len(plan.Statements), "structural", plan.StructuralChanges())

	rep, err := exec.Apply(ctx, def.EntityType, plan.Statements)
	res.Report = rep
	if err != nil {
		return res, err
	}

	// пост-условие 1: удалённые колонки действительно исчезли
	cols, err := e.insp.Columns(ctx, plan.Table)
	if err != nil {
		return res, err
	}
	present := make(map[string]bool, len(cols))
	for _, c := range cols {
		present[c.Name] = true
	}
	var surviving []string
	for _, c := range plan.DroppedColumns {
		if present[c] {
			surviving = append(surviving, c)
		}
	}
	if len(surviving) > 0 {
		log.Error("dropped columns survived", "columns", surviving)
		return res, &schemaerr.ConsistencyError{Entity: def.EntityType, Check: "dropped_columns", Objects: surviving}
	}

	// view строится из фактических колонок, после всех структурных изменений
	viewRep, err := exec.Apply(ctx, def.EntityType, []Statement{BuildView(def.EntityType, cols)})
	res.Report.Applied += viewRep.Applied
	if err != nil {
		return res, err
	}

	// пост-условие 2: view содержит базовые колонки и реестр, uuid ровно один раз
	actual, err := e.insp.ViewColumns(ctx, plan.View)
	if err != nil {
		return res, err
	}
	res.ViewColumns = actual
	missing, duplicated := checkViewColumns(ExpectedViewColumns(cols), actual)
	if len(missing) > 0 || len(duplicated) > 0 {
		log.Error("view columns mismatch", "missing", missing, "duplicated", duplicated)
		return res, &schemaerr.ConsistencyError{Entity: def.EntityType, Check: "view_columns", Objects: append(missing, duplicated...)}
	}

	log.Info("reconcile finished", "applied", res.Report.Applied, "tolerated", len(res.Report.Tolerated))
	return res, nil
}

// Drop удаляет view, join-таблицы, таблицу и записи реестра типа сущности.
// Таблица с данными не удаляется: *schemaerr.NotEmptyError.
func (e *Engine) Drop(ctx context.Context, def *dsl.EntityDefinition) error {
	if !dsl.ValidIdent(def.EntityType) {
		return &schemaerr.ValidationError{Entity: def.EntityType, Message: "entity type must match ^[a-zA-Z][a-zA-Z0-9_]*$"}
	}
	unlock, err := e.locker.Lock(ctx, def.EntityType)
	if err != nil {
		return err
	}
	defer unlock()

	table := dsl.TableName(def.EntityType)
	rows, err := e.insp.RowCount(ctx, table)
	if err != nil {
		return err
	}
	if rows > 0 {
		return &schemaerr.NotEmptyError{Entity: def.EntityType, Rows: rows}
	}

	stmts := []Statement{{
		SQL:  fmt.Sprintf("DROP VIEW IF EXISTS %s CASCADE", qi(dsl.ViewName(def.EntityType))),
		Kind: KindDropView, Policy: Strict,
	}}
	rels, err := e.relationTables(ctx, def)
	if err != nil {
		return err
	}
	for _, rel := range rels {
		st := DropRelation(rel)
		st.Policy = Strict
		stmts = append(stmts, st)
	}
	stmts = append(stmts, Statement{
		SQL:  fmt.Sprintf("DROP TABLE IF EXISTS %s CASCADE", qi(table)),
		Kind: KindDropTable, Policy: Strict,
	})

	hasRegistry, err := e.insp.TableExists(ctx, dsl.RegistryTable)
	if err != nil {
		return err
	}
	if hasRegistry {
		stmts = append(stmts, Statement{
			SQL:  fmt.Sprintf("DELETE FROM %s WHERE lower(entity_type) = lower($1)", qi(dsl.RegistryTable)),
			Args: []any{def.EntityType},
			Kind: KindDeleteRows, Policy: Strict,
		})
	}

	log := e.log.With("run", ulid.Make().String(), "entity", def.EntityType)
	if _, err := NewExecutor(e.db, log).Apply(ctx, def.EntityType, stmts); err != nil {
		return err
	}
	log.Info("entity type dropped")
	return nil
}

// relationTables — join-таблицы типа: из ManyToMany-полей def и найденные в
// каталоге по префиксу rel_<type>_ (остались от полей, удалённых раньше).
// rel_book_x_tags при существующей entity_book_x принадлежит типу book_x и пропускается.
func (e *Engine) relationTables(ctx context.Context, def *dsl.EntityDefinition) ([]string, error) {
	seen := map[string]bool{}
	var out []string
	for _, f := range def.Fields {
		if f.Type != dsl.ManyToMany || !dsl.ValidIdent(f.Name) {
			continue
		}
		rel := dsl.RelationTable(def.EntityType, f.Name)
		if !seen[rel] {
			seen[rel] = true
			out = append(out, rel)
		}
	}

	prefix := dsl.RelationTable(def.EntityType, "")
	found, err := e.insp.ListTables(ctx, prefix)
	if err != nil {
		return nil, err
	}
	var extra []string
	for _, t := range found {
		t = strings.ToLower(t)
		if seen[t] || !dsl.ValidIdent(t) {
			continue
		}
		owner, err := e.otherOwner(ctx, def.EntityType, strings.TrimPrefix(t, prefix))
		if err != nil {
			return nil, err
		}
		if owner != "" {
			e.log.Debug("relation table left to its own type", "table", t, "owner", owner)
			continue
		}
		seen[t] = true
		extra = append(extra, t)
	}
	sort.Strings(extra)
	return append(out, extra...), nil
}

// otherOwner ищет тип <entityType>_<...>, чьей join-таблицей может быть rel_<entityType>_<rest>.
func (e *Engine) otherOwner(ctx context.Context, entityType, rest string) (string, error) {
	for i := 1; i < len(rest); i++ {
		if rest[i] != '_' {
			continue
		}
		cand := dsl.TableName(entityType + "_" + rest[:i])
		ok, err := e.insp.TableExists(ctx, cand)
		if err != nil {
			return "", err
		}
		if ok {
			return cand, nil
		}
	}
	return "", nil
}

// ReconcileOrphans удаляет таблицы entity_* без живого определения.
func (e *Engine) ReconcileOrphans(ctx context.Context, liveTypes []string, dryRun bool) ([]string, error) {
	return e.orphans.Reconcile(ctx, liveTypes, dryRun)
}

// bootstrapScript создаёт общие таблицы. Все операторы с guard'ами, повторный запуск безопасен.
const bootstrapScript = `
CREATE TABLE IF NOT EXISTS entity_registry (
  uuid        uuid PRIMARY KEY,
  entity_type text NOT NULL,
  path        text,
  created_at  timestamp with time zone NOT NULL DEFAULT now(),
  updated_at  timestamp with time zone NOT NULL DEFAULT now(),
  created_by  uuid,
  updated_by  uuid,
  published   boolean NOT NULL DEFAULT false,
  version     integer NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_entity_registry_entity_type ON entity_registry (entity_type);

CREATE TABLE IF NOT EXISTS entity_definitions (
  uuid         uuid PRIMARY KEY,
  entity_type  text NOT NULL,
  display_name text NOT NULL DEFAULT '',
  description  text NOT NULL DEFAULT '',
  fields       jsonb NOT NULL DEFAULT '[]'::jsonb,
  published    boolean NOT NULL DEFAULT false,
  version      integer NOT NULL DEFAULT 1,
  created_at   timestamp with time zone NOT NULL DEFAULT now(),
  updated_at   timestamp with time zone NOT NULL DEFAULT now(),
  created_by   uuid,
  updated_by   uuid
);
CREATE UNIQUE INDEX IF NOT EXISTS uq_entity_definitions_entity_type ON entity_definitions (lower(entity_type));

-- у ADD CONSTRAINT нет IF NOT EXISTS
DO $$
BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_entity_definitions_version') THEN
    ALTER TABLE entity_definitions ADD CONSTRAINT chk_entity_definitions_version CHECK (version >= 1);
  END IF;
END $$;
`

// Bootstrap создаёт таблицы реестра и определений.
func (e *Engine) Bootstrap(ctx context.Context) error {
	log := e.log.With("run", ulid.Make().String())
	rep, err := NewExecutor(e.db, log).ApplyScript(ctx, "bootstrap", bootstrapScript, Strict)
	if err != nil {
		return err
	}
	log.Info("bootstrap finished", "applied", rep.Applied, "tolerated", len(rep.Tolerated))
	return nil
}
