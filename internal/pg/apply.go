package pg

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	"entityforge/internal/schemaerr"
)

// Execer — то, что нужно исполнителю от пула.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SQLSTATE, которые исполнитель различает
const (
	codeUndefinedColumn = "42703"
	codeDuplicateObject = "42710"
)

// Report — итог выполнения пакета.
type Report struct {
	Applied   int
	Tolerated []schemaerr.StatementFailure
}

// Executor выполняет операторы строго последовательно, без транзакции.
type Executor struct {
	db  Execer
	log *slog.Logger
}

// NewExecutor — исполнитель поверх пула; nil-логгер — slog.Default().
func NewExecutor(db Execer, log *slog.Logger) *Executor {
	if log == nil {
		log = slog.Default()
	}
	return &Executor{db: db, log: log}
}

// Apply выполняет пакет. Ошибка Idempotent-оператора логируется и пакет идёт
// дальше; ошибка Strict-оператора прерывает пакет и возвращается как
// *schemaerr.SchemaApplicationError с текстом оператора.
func (x *Executor) Apply(ctx context.Context, entity string, stmts []Statement) (Report, error) {
	var rep Report
	for _, st := range stmts {
		sqlText := strings.TrimSpace(st.SQL)
		if sqlText == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		_, err := x.db.ExecContext(ctx, sqlText, st.Args...)
		if err == nil {
			rep.Applied++
			x.log.Debug("ddl applied", "entity", entity, "kind", st.Kind, "sql", sqlText)
			continue
		}
		// отмену контекста не прощаем ни одному оператору
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}

		wrapped := &schemaerr.DatabaseError{Op: string(st.Kind), Statement: sqlText, Err: err}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			wrapped.Code = pgErr.Code
		}

		if tolerated(st, wrapped.Code) {
			x.log.Warn("ddl skipped", "entity", entity, "kind", st.Kind, "policy", st.Policy, "code", wrapped.Code, "err", err, "sql", sqlText)
			rep.Tolerated = append(rep.Tolerated, schemaerr.StatementFailure{Statement: sqlText, Err: wrapped})
			continue
		}

		x.log.Error("ddl failed", "entity", entity, "kind", st.Kind, "code", wrapped.Code, "err", err, "sql", sqlText)
		return rep, &schemaerr.SchemaApplicationError{
			Entity:   entity,
			Applied:  rep.Applied,
			Failures: []schemaerr.StatementFailure{{Statement: sqlText, Err: wrapped}},
		}
	}
	return rep, nil
}

// tolerated: Idempotent-операторы; создание индекса по несуществующей колонке
// (возникает при частичном применении предыдущего прохода); duplicate_object
// в скриптах, где объект создаётся без guard'а.
func tolerated(st Statement, code string) bool {
	switch {
	case st.Policy == Idempotent:
		return true
	case st.Kind == KindCreateIndex && code == codeUndefinedColumn:
		return true
	case st.Kind == KindScript && code == codeDuplicateObject:
		return true
	}
	return false
}

// ApplyScript делит скрипт на операторы и выполняет их с единой политикой.
func (x *Executor) ApplyScript(ctx context.Context, name, script string, policy Policy) (Report, error) {
	parts := SplitScript(script)
	stmts := make([]Statement, 0, len(parts))
	for _, p := range parts {
		stmts = append(stmts, Statement{SQL: p, Kind: KindScript, Policy: policy})
	}
	return x.Apply(ctx, name, stmts)
}
