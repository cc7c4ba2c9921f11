package pg

// Policy — как исполнитель реагирует на ошибку оператора.
type Policy int

const (
	// Strict — ошибка прерывает пакет.
	Strict Policy = iota
	// Idempotent — ошибка логируется, пакет продолжается.
	Idempotent
)

func (p Policy) String() string {
	if p == Idempotent {
		return "idempotent"
	}
	return "strict"
}

// Kind — вид DDL-операции.
type Kind string

const (
	KindCreateEnum     Kind = "create_enum"
	KindAlterEnum      Kind = "alter_enum"
	KindCreateTable    Kind = "create_table"
	KindDropTable      Kind = "drop_table"
	KindDropView       Kind = "drop_view"
	KindCreateView     Kind = "create_view"
	KindDropIndex      Kind = "drop_index"
	KindCreateIndex    Kind = "create_index"
	KindDropColumn     Kind = "drop_column"
	KindAddColumn      Kind = "add_column"
	KindAlterColumn    Kind = "alter_column"
	KindCreateRelation Kind = "create_relation"
	KindDropRelation   Kind = "drop_relation"
	KindDeleteRows     Kind = "delete_rows"
	KindScript         Kind = "script"
)

// Statement — один сгенерированный оператор с политикой, назначенной при генерации.
type Statement struct {
	SQL    string
	Args   []any
	Kind   Kind
	Policy Policy
}

// classify: идемпотентен оператор с guard'ом существования, любая операция
// с индексом, создание таблицы и добавление колонки. Остальное строго.
func classify(kind Kind, guarded bool) Policy {
	if guarded {
		return Idempotent
	}
	switch kind {
	case KindCreateIndex, KindDropIndex, KindCreateTable, KindCreateRelation, KindAddColumn:
		return Idempotent
	}
	return Strict
}

func stmt(kind Kind, guarded bool, sql string, args ...any) Statement {
	return Statement{SQL: sql, Args: args, Kind: kind, Policy: classify(kind, guarded)}
}
