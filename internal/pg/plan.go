package pg

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"entityforge/internal/dsl"
	"entityforge/internal/schemaerr"
)

// State — снимок каталога для одного типа сущности.
type State struct {
	TableExists bool
	Columns     map[string]Column          // колонки базовой таблицы
	Indexes     map[string]bool            // индексы базовой таблицы
	Relations   map[string]map[string]bool // существующие join-таблицы -> их индексы
	Enums       map[string][]string        // существующие enum-типы -> метки
}

// NewState — пустой снимок (ничего не создано).
func NewState() *State {
	return &State{
		Columns:   map[string]Column{},
		Indexes:   map[string]bool{},
		Relations: map[string]map[string]bool{},
		Enums:     map[string][]string{},
	}
}

// EnumSource отдаёт метки enum-справочника по имени.
type EnumSource interface {
	Labels(name string) ([]string, bool)
}

// PlanOptions — параметры генерации.
type PlanOptions struct {
	// UUIDDefault добавляет DEFAULT gen_random_uuid() к первичному ключу.
	UUIDDefault bool
	Enums       EnumSource
}

// Plan — упорядоченный набор DDL для приведения таблицы к определению.
// View в план не входит: она пересобирается после структурных операторов
// по фактическому набору колонок.
type Plan struct {
	Entity     string
	Table      string
	View       string
	Statements []Statement

	CreatedTable   bool
	DroppedColumns []string
	AddedColumns   []string
	DroppedIndexes []string
	CreatedIndexes []string
}

// StructuralChanges — число операторов, меняющих схему (безусловный DROP VIEW не считается).
func (p *Plan) StructuralChanges() int {
	n := 0
	for _, s := range p.Statements {
		if s.Kind != KindDropView {
			n++
		}
	}
	return n
}

type desiredColumn struct {
	name    string
	sqlType string
	notNull bool
	indexed bool
	deflt   string // готовый SQL-литерал default или пусто
}

// BuildPlan сравнивает желаемое определение со снимком каталога.
// prev — предыдущая версия определения (nil при создании или полном apply);
// по ней находятся join-таблицы удалённых ManyToMany-полей.
func BuildPlan(def, prev *dsl.EntityDefinition, st *State, opts PlanOptions) (*Plan, error) {
	// ни один идентификатор не попадает в SQL до этой проверки
	if err := dsl.Check(def); err != nil {
		return nil, err
	}
	if st == nil {
		st = NewState()
	}

	table := dsl.TableName(def.EntityType)
	p := &Plan{Entity: def.EntityType, Table: table, View: dsl.ViewName(def.EntityType)}

	enumStmts, err := planEnums(def, st, opts.Enums)
	if err != nil {
		return nil, err
	}
	p.Statements = append(p.Statements, enumStmts...)

	// 1. базовая таблица: только первичный ключ
	if !st.TableExists {
		pk := qi(dsl.PrimaryKey) + " uuid PRIMARY KEY"
		if opts.UUIDDefault {
			pk += " DEFAULT gen_random_uuid()"
		}
		p.Statements = append(p.Statements, stmt(KindCreateTable, true,
			fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", qi(table), pk)))
		p.CreatedTable = true
	}

	// 2. желаемый набор колонок
	desired, order := desiredColumns(def)

	// view читает базовую таблицу, поэтому снимаем её до любого DROP/ALTER колонок
	p.Statements = append(p.Statements, stmt(KindDropView, true,
		fmt.Sprintf("DROP VIEW IF EXISTS %s CASCADE", qi(p.View))))

	// 3. лишние колонки: сначала их индекс, потом сама колонка
	var removed []string
	for name := range st.Columns {
		if name == dsl.PrimaryKey {
			continue
		}
		if _, ok := desired[name]; !ok {
			removed = append(removed, name)
		}
	}
	sort.Strings(removed)
	for _, col := range removed {
		idx := dsl.IndexName(table, col)
		if st.Indexes[idx] {
			p.Statements = append(p.Statements, stmt(KindDropIndex, true,
				fmt.Sprintf("DROP INDEX IF EXISTS %s", qi(idx))))
			p.DroppedIndexes = append(p.DroppedIndexes, idx)
		}
		p.Statements = append(p.Statements, stmt(KindDropColumn, true,
			fmt.Sprintf("ALTER TABLE %s DROP COLUMN IF EXISTS %s", qi(table), qi(col))))
	}
	p.DroppedColumns = removed

	// 4. недостающие колонки; 4a. изменение типа/NOT NULL у оставшихся
	for _, name := range order {
		dc := desired[name]
		cur, exists := st.Columns[name]
		if !exists {
			ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", qi(table), qi(name), renderType(dc.sqlType))
			if dc.notNull {
				ddl += " NOT NULL"
				// без default NOT NULL-колонку нельзя добавить в непустую таблицу
				if dc.deflt != "" {
					ddl += " DEFAULT " + dc.deflt
				}
			}
			p.Statements = append(p.Statements, stmt(KindAddColumn, true, ddl))
			p.AddedColumns = append(p.AddedColumns, name)
			continue
		}
		if cur.Type != dc.sqlType {
			p.Statements = append(p.Statements, stmt(KindAlterColumn, false,
				fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s",
					qi(table), qi(name), renderType(dc.sqlType), castExpr(name, cur.Type, dc.sqlType))))
		}
		switch {
		case dc.notNull && cur.Nullable:
			p.Statements = append(p.Statements, stmt(KindAlterColumn, false,
				fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s SET NOT NULL", qi(table), qi(name))))
		case !dc.notNull && !cur.Nullable:
			p.Statements = append(p.Statements, stmt(KindAlterColumn, false,
				fmt.Sprintf("ALTER TABLE %s ALTER COLUMN %s DROP NOT NULL", qi(table), qi(name))))
		}
	}

	// 5. индексы: только для колонок, которые переживут этот проход
	for _, name := range order {
		dc := desired[name]
		idx := dsl.IndexName(table, name)
		switch {
		case dc.indexed && !st.Indexes[idx]:
			p.Statements = append(p.Statements, stmt(KindCreateIndex, true,
				fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", qi(idx), qi(table), qi(name))))
			p.CreatedIndexes = append(p.CreatedIndexes, idx)
		case !dc.indexed && st.Indexes[idx]:
			p.Statements = append(p.Statements, stmt(KindDropIndex, true,
				fmt.Sprintf("DROP INDEX IF EXISTS %s", qi(idx))))
			p.DroppedIndexes = append(p.DroppedIndexes, idx)
		}
	}

	// 6. join-таблицы
	p.Statements = append(p.Statements, planRelations(def, prev, st)...)
	return p, nil
}

// desiredColumns: пропускаем ManyToMany и поля реестра; ManyToOne -> <field>_uuid.
func desiredColumns(def *dsl.EntityDefinition) (map[string]desiredColumn, []string) {
	out := map[string]desiredColumn{}
	var order []string
	for _, f := range def.Fields {
		col, ok := dsl.ColumnName(f)
		if !ok {
			continue
		}
		typ, ok := FieldSQLType(f)
		if !ok {
			continue
		}
		out[col] = desiredColumn{name: col, sqlType: typ, notNull: f.Required, indexed: f.Indexed, deflt: defaultLiteral(f, typ)}
		order = append(order, col)
	}
	return out, order
}

// castExpr — выражение USING для смены типа колонки.
func castExpr(col, from, to string) string {
	c := qi(col)
	if strings.HasSuffix(to, "[]") && !strings.HasSuffix(from, "[]") {
		elem := strings.TrimSuffix(to, "[]")
		return fmt.Sprintf("CASE WHEN %s IS NULL THEN NULL ELSE ARRAY[%s::%s] END", c, c, renderType(elem))
	}
	if from == "jsonb" && to != "jsonb" {
		// jsonb нельзя привести к скаляру напрямую: идём через текст
		return fmt.Sprintf("(%s #>> '{}')::%s", c, renderType(to))
	}
	if builtinTypes[from] && !builtinTypes[to] {
		// в enum приводим через текст
		return fmt.Sprintf("%s::text::%s", c, renderType(to))
	}
	return fmt.Sprintf("%s::%s", c, renderType(to))
}

// defaultLiteral рендерит Default поля как литерал с приведением к типу колонки.
// "now" для дат и значения, которые не удаётся представить, default не дают.
func defaultLiteral(f dsl.Field, sqlType string) string {
	if f.Default == nil {
		return ""
	}
	var lit string
	switch v := f.Default.(type) {
	case string:
		if strings.EqualFold(v, dsl.NowLiteral) && (f.Type == dsl.Date || f.Type == dsl.DateTime) {
			return ""
		}
		lit = v
	case bool:
		lit = strconv.FormatBool(v)
	case int:
		lit = strconv.Itoa(v)
	case int64:
		lit = strconv.FormatInt(v, 10)
	case float64:
		lit = strconv.FormatFloat(v, 'f', -1, 64)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		lit = string(b)
	}
	if sqlType == "jsonb" {
		b, err := json.Marshal(f.Default)
		if err != nil {
			return ""
		}
		lit = string(b)
	}
	if sqlType == "text[]" {
		// массив: '{a,b}'::text[]
		if arr, ok := f.Default.([]any); ok {
			parts := make([]string, 0, len(arr))
			for _, a := range arr {
				parts = append(parts, arrayElem(fmt.Sprint(a)))
			}
			lit = "{" + strings.Join(parts, ",") + "}"
		} else if arr, ok := f.Default.([]string); ok {
			parts := make([]string, 0, len(arr))
			for _, a := range arr {
				parts = append(parts, arrayElem(a))
			}
			lit = "{" + strings.Join(parts, ",") + "}"
		}
	}
	return strings.TrimSpace(ql(lit)) + "::" + renderType(sqlType)
}

var arrayElemEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

// arrayElem — элемент литерала массива в двойных кавычках. Внутри экранируются
// только " и \; управляющие символы идут как есть.
func arrayElem(s string) string {
	return `"` + arrayElemEscaper.Replace(s) + `"`
}

func enumMissingError(def *dsl.EntityDefinition, field, name string) error {
	return &schemaerr.ValidationError{Entity: def.EntityType, Field: field, Message: fmt.Sprintf("unknown enum %q", name)}
}
