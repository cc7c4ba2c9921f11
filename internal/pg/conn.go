package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"entityforge/internal/dsl"
)

// PoolOptions — настройки пула соединений.
type PoolOptions struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration

	// Schema закрепляется в search_path каждого соединения: неквалифицированный
	// DDL и каталог смотрят в одну схему. Пусто — search_path сервера.
	Schema string
}

// DefaultPoolOptions — значения по умолчанию.
var DefaultPoolOptions = PoolOptions{
	MaxOpenConns:    10,
	MaxIdleConns:    5,
	ConnMaxLifetime: 30 * time.Minute,
	PingTimeout:     5 * time.Second,
}

// Open открывает пул через pgx/stdlib и проверяет соединение.
// Если задана opts.Schema, схема создаётся при отсутствии.
func Open(ctx context.Context, url string, opts PoolOptions) (*sql.DB, error) {
	connCfg, err := pgx.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	if opts.Schema != "" {
		if !dsl.ValidIdent(opts.Schema) {
			return nil, fmt.Errorf("invalid schema name %q", opts.Schema)
		}
		connCfg.RuntimeParams["search_path"] = strings.ToLower(opts.Schema)
	}
	db := stdlib.OpenDB(*connCfg)
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = DefaultPoolOptions.PingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if opts.Schema != "" {
		if err := ensureSchema(ctx, db, opts.Schema); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return db, nil
}

// ensureSchema создаёт схему, если её нет. Существование проверяется заранее:
// CREATE SCHEMA IF NOT EXISTS требует права CREATE на базу даже для готовой схемы.
func ensureSchema(ctx context.Context, db *sql.DB, schema string) error {
	var exists bool
	err := db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_namespace WHERE nspname = $1)`, strings.ToLower(schema)).Scan(&exists)
	if err != nil {
		return dbErr("schema_exists", err)
	}
	if exists {
		return nil
	}
	if _, err := db.ExecContext(ctx, "CREATE SCHEMA IF NOT EXISTS "+qi(schema)); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, dbErr("create_schema", err))
	}
	return nil
}
