// Package schemaerr описывает таксономию ошибок движка схем.
// Каждый тип разворачивается (Unwrap) в свой sentinel, поэтому вызывающий код
// проверяет категорию через errors.Is, а детали достаёт через errors.As.
package schemaerr

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation — некорректное определение, отклоняется до любого DDL.
	ErrValidation = errors.New("validation error")
	// ErrDatabase — ошибка драйвера/БД.
	ErrDatabase = errors.New("database error")
	// ErrNotFound — определение или таблица отсутствует.
	ErrNotFound = errors.New("not found")
	// ErrSchemaApplication — часть DDL-операторов не применилась.
	ErrSchemaApplication = errors.New("schema application failed")
	// ErrConsistency — не выполнено обязательное пост-условие.
	ErrConsistency = errors.New("consistency check failed")
	// ErrNotEmpty — удаление типа сущности с данными запрещено.
	ErrNotEmpty = errors.New("entity table is not empty")
)

// ValidationError — ошибка в определении сущности.
type ValidationError struct {
	Entity  string
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	switch {
	case e.Entity != "" && e.Field != "":
		return fmt.Sprintf("invalid definition %s.%s: %s", e.Entity, e.Field, e.Message)
	case e.Entity != "":
		return fmt.Sprintf("invalid definition %s: %s", e.Entity, e.Message)
	case e.Field != "":
		return fmt.Sprintf("invalid field %s: %s", e.Field, e.Message)
	}
	return "invalid definition: " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// DatabaseError — ошибка выполнения запроса или оператора.
type DatabaseError struct {
	Op        string // что делали: "columns", "exec", ...
	Statement string // текст оператора, если есть
	Code      string // SQLSTATE, если драйвер его отдал
	Err       error
}

func (e *DatabaseError) Error() string {
	var b strings.Builder
	b.WriteString("database error")
	if e.Op != "" {
		b.WriteString(" (" + e.Op + ")")
	}
	if e.Code != "" {
		b.WriteString(" [" + e.Code + "]")
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	if e.Statement != "" {
		b.WriteString("; statement: " + e.Statement)
	}
	return b.String()
}

func (e *DatabaseError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDatabase}
	}
	return []error{ErrDatabase, e.Err}
}

// NotFoundError: объект не найден.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return e.Resource + " not found"
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StatementFailure: один упавший оператор.
type StatementFailure struct {
	Statement string
	Err       error
}

// SchemaApplicationError агрегирует упавшие операторы одного прохода.
// Applied — сколько операторов выполнилось успешно до остановки.
type SchemaApplicationError struct {
	Entity   string
	Applied  int
	Failures []StatementFailure
}

func (e *SchemaApplicationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "schema application failed for %s (%d applied, %d failed)", e.Entity, e.Applied, len(e.Failures))
	for _, f := range e.Failures {
		fmt.Fprintf(&b, "\n  %s: %v", f.Statement, f.Err)
	}
	return b.String()
}

func (e *SchemaApplicationError) Unwrap() []error {
	out := []error{ErrSchemaApplication}
	for _, f := range e.Failures {
		if f.Err != nil {
			out = append(out, f.Err)
		}
	}
	return out
}

// ConsistencyError — пост-условие не выполнено. Всегда фатально.
type ConsistencyError struct {
	Entity  string
	Check   string   // "dropped_columns" | "view_columns"
	Objects []string // пережившие удаление колонки или недостающие колонки view
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency check %q failed for %s: %s", e.Check, e.Entity, strings.Join(e.Objects, ", "))
}

func (e *ConsistencyError) Unwrap() error { return ErrConsistency }

// NotEmptyError — отказ удалить тип сущности, в таблице которого есть строки.
type NotEmptyError struct {
	Entity string
	Rows   int64
}

func (e *NotEmptyError) Error() string {
	return fmt.Sprintf("entity type %s still has %d rows", e.Entity, e.Rows)
}

func (e *NotEmptyError) Unwrap() error { return ErrNotEmpty }
