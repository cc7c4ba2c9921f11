package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"entityforge/internal/dsl"
	"entityforge/internal/schemaerr"
)

// Queryer — то, что нужно интроспектору от пула (*sql.DB, *sql.Conn, *sql.Tx).
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Column — колонка в каталоге. Type нормализован: USER-DEFINED -> имя типа,
// ARRAY -> "<elem>[]".
type Column struct {
	Name     string
	Type     string
	Nullable bool
}

// Catalog — read-only запросы к information_schema и pg_catalog.
// Все идентификаторы сравниваются в нижнем регистре.
type Catalog struct {
	db     Queryer
	schema string
}

// NewCatalog создаёт интроспектор; пустая схема — public.
func NewCatalog(db Queryer, schema string) *Catalog {
	if schema == "" {
		schema = "public"
	}
	return &Catalog{db: db, schema: strings.ToLower(schema)}
}

// Schema возвращает схему интроспектора.
func (c *Catalog) Schema() string { return c.schema }

func dbErr(op string, err error) error {
	e := &schemaerr.DatabaseError{Op: op, Err: err}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		e.Code = pgErr.Code
	}
	return e
}

func (c *Catalog) exists(ctx context.Context, op, query string, args ...any) (bool, error) {
	var ok bool
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&ok); err != nil {
		return false, dbErr(op, err)
	}
	return ok, nil
}

// TableExists сообщает, есть ли базовая таблица.
func (c *Catalog) TableExists(ctx context.Context, table string) (bool, error) {
	return c.exists(ctx, "table_exists", `SELECT EXISTS (
  SELECT 1 FROM information_schema.tables
  WHERE table_schema = $1 AND table_name = $2 AND table_type = 'BASE TABLE')`,
		c.schema, strings.ToLower(table))
}

// ViewOrTableExists сообщает, есть ли таблица или view с таким именем.
func (c *Catalog) ViewOrTableExists(ctx context.Context, name string) (bool, error) {
	return c.exists(ctx, "view_or_table_exists", `SELECT EXISTS (
  SELECT 1 FROM information_schema.tables
  WHERE table_schema = $1 AND table_name = $2)`,
		c.schema, strings.ToLower(name))
}

// Columns возвращает колонки в порядке ordinal_position. Нет таблицы — пусто.
func (c *Catalog) Columns(ctx context.Context, table string) ([]Column, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT column_name, data_type, udt_name, is_nullable
FROM information_schema.columns
WHERE table_schema = $1 AND table_name = $2
ORDER BY ordinal_position`, c.schema, strings.ToLower(table))
	if err != nil {
		return nil, dbErr("columns", err)
	}
	defer rows.Close()

	var out []Column
	for rows.Next() {
		var name, dataType, udt, nullable string
		if err := rows.Scan(&name, &dataType, &udt, &nullable); err != nil {
			return nil, dbErr("columns", err)
		}
		out = append(out, Column{
			Name:     strings.ToLower(name),
			Type:     normalizeType(dataType, udt),
			Nullable: strings.EqualFold(nullable, "YES"),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("columns", err)
	}
	return out, nil
}

// ColumnsWithTypes — колонка -> нормализованный тип.
func (c *Catalog) ColumnsWithTypes(ctx context.Context, table string) (map[string]string, error) {
	cols, err := c.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(cols))
	for _, col := range cols {
		out[col.Name] = col.Type
	}
	return out, nil
}

func normalizeType(dataType, udt string) string {
	switch strings.ToUpper(dataType) {
	case "USER-DEFINED":
		return strings.ToLower(udt)
	case "ARRAY":
		// udt_name массива — "_<elem>" (_text, _int4)
		elem := strings.TrimPrefix(strings.ToLower(udt), "_")
		return arrayElemName(elem) + "[]"
	}
	return strings.ToLower(dataType)
}

// имена элементов массивов приводим к тем же, что отдаёт SQLType
func arrayElemName(udt string) string {
	switch udt {
	case "int4":
		return "integer"
	case "int8":
		return "bigint"
	case "float8":
		return "double precision"
	case "bool":
		return "boolean"
	case "timestamptz":
		return "timestamp with time zone"
	}
	return udt
}

// ViewColumns возвращает колонки view в порядке ordinal_position.
func (c *Catalog) ViewColumns(ctx context.Context, view string) ([]string, error) {
	cols, err := c.Columns(ctx, view)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(cols))
	for _, col := range cols {
		out = append(out, col.Name)
	}
	return out, nil
}

// IndexExists сообщает, есть ли индекс на таблице.
func (c *Catalog) IndexExists(ctx context.Context, table, index string) (bool, error) {
	return c.exists(ctx, "index_exists", `SELECT EXISTS (
  SELECT 1 FROM pg_indexes
  WHERE schemaname = $1 AND tablename = $2 AND indexname = $3)`,
		c.schema, strings.ToLower(table), strings.ToLower(index))
}

// Indexes возвращает имена индексов таблицы.
func (c *Catalog) Indexes(ctx context.Context, table string) (map[string]bool, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT indexname FROM pg_indexes
WHERE schemaname = $1 AND tablename = $2`, c.schema, strings.ToLower(table))
	if err != nil {
		return nil, dbErr("indexes", err)
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, dbErr("indexes", err)
		}
		out[strings.ToLower(name)] = true
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("indexes", err)
	}
	return out, nil
}

// EnumLabels — метки enum-типа; ok=false, если типа нет.
func (c *Catalog) EnumLabels(ctx context.Context, name string) ([]string, bool, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT e.enumlabel
FROM pg_type t
JOIN pg_namespace n ON n.oid = t.typnamespace
LEFT JOIN pg_enum e ON e.enumtypid = t.oid
WHERE n.nspname = $1 AND t.typname = $2 AND t.typtype = 'e'
ORDER BY e.enumsortorder`, c.schema, strings.ToLower(name))
	if err != nil {
		return nil, false, dbErr("enum_labels", err)
	}
	defer rows.Close()

	found := false
	var labels []string
	for rows.Next() {
		found = true
		var label sql.NullString
		if err := rows.Scan(&label); err != nil {
			return nil, false, dbErr("enum_labels", err)
		}
		if label.Valid {
			labels = append(labels, label.String)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, false, dbErr("enum_labels", err)
	}
	return labels, found, nil
}

// RowCount считает строки; для отсутствующей таблицы 0.
func (c *Catalog) RowCount(ctx context.Context, table string) (int64, error) {
	table = strings.ToLower(table)
	ok, err := c.TableExists(ctx, table)
	if err != nil || !ok {
		return 0, err
	}
	// имя нельзя передать параметром: пропускаем только валидные идентификаторы
	if !dsl.ValidIdent(table) {
		return 0, &schemaerr.ValidationError{Message: fmt.Sprintf("invalid table name %q", table)}
	}
	var n int64
	q := fmt.Sprintf("SELECT count(*) FROM %s.%s", qi(c.schema), qi(table))
	if err := c.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, dbErr("row_count", err)
	}
	return n, nil
}

// ListTables — базовые таблицы с префиксом (сравнение по нижнему регистру).
func (c *Catalog) ListTables(ctx context.Context, prefix string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT table_name FROM information_schema.tables
WHERE table_schema = $1 AND table_type = 'BASE TABLE' AND table_name LIKE $2
ORDER BY table_name`, c.schema, likePrefix(strings.ToLower(prefix)))
	if err != nil {
		return nil, dbErr("list_tables", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, dbErr("list_tables", err)
		}
		out = append(out, strings.ToLower(name))
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list_tables", err)
	}
	return out, nil
}

// Snapshot собирает всё, что нужно планировщику для def (и prev, если это обновление).
func (c *Catalog) Snapshot(ctx context.Context, def, prev *dsl.EntityDefinition) (*State, error) {
	table := dsl.TableName(def.EntityType)
	st := NewState()

	ok, err := c.TableExists(ctx, table)
	if err != nil {
		return nil, err
	}
	st.TableExists = ok
	if ok {
		cols, err := c.Columns(ctx, table)
		if err != nil {
			return nil, err
		}
		for _, col := range cols {
			st.Columns[col.Name] = col
		}
		if st.Indexes, err = c.Indexes(ctx, table); err != nil {
			return nil, err
		}
	}

	rels := map[string]struct{}{}
	for _, d := range []*dsl.EntityDefinition{def, prev} {
		if d == nil {
			continue
		}
		for _, f := range d.Fields {
			if f.Type == dsl.ManyToMany {
				rels[dsl.RelationTable(def.EntityType, f.Name)] = struct{}{}
			}
		}
	}
	for rel := range rels {
		exists, err := c.TableExists(ctx, rel)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		idx, err := c.Indexes(ctx, rel)
		if err != nil {
			return nil, err
		}
		st.Relations[rel] = idx
	}

	for _, f := range def.Fields {
		name := f.Validation.EnumName()
		if f.Type != dsl.Select || name == "" {
			continue
		}
		if _, done := st.Enums[name]; done {
			continue
		}
		labels, exists, err := c.EnumLabels(ctx, name)
		if err != nil {
			return nil, err
		}
		if exists {
			st.Enums[name] = labels
		}
	}
	return st, nil
}
