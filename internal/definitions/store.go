// Package definitions хранит определения сущностей и проводит их через движок схем.
package definitions

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"entityforge/internal/dsl"
	"entityforge/internal/schemaerr"
)

const codeUniqueViolation = "23505"

// ErrVersionConflict — определение изменили параллельно.
var ErrVersionConflict = errors.New("definition version conflict")

// DB — то, что нужно хранилищу от пула.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store — определения в таблице entity_definitions, поля в jsonb.
type Store struct {
	db DB
}

func NewStore(db DB) *Store { return &Store{db: db} }

const selectDefinition = `SELECT uuid, entity_type, display_name, description, fields, published, version,
  created_at, updated_at, created_by, updated_by
FROM entity_definitions`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDefinition(r rowScanner) (*dsl.EntityDefinition, error) {
	var (
		d         dsl.EntityDefinition
		fields    []byte
		createdBy uuid.NullUUID
		updatedBy uuid.NullUUID
	)
	if err := r.Scan(&d.UUID, &d.EntityType, &d.DisplayName, &d.Description, &fields, &d.Published, &d.Version,
		&d.CreatedAt, &d.UpdatedAt, &createdBy, &updatedBy); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fields, &d.Fields); err != nil {
		return nil, fmt.Errorf("definition %s: decode fields: %w", d.EntityType, err)
	}
	if createdBy.Valid {
		d.CreatedBy = &createdBy.UUID
	}
	if updatedBy.Valid {
		d.UpdatedBy = &updatedBy.UUID
	}
	return &d, nil
}

func dbErr(op string, err error) error {
	e := &schemaerr.DatabaseError{Op: op, Err: err}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		e.Code = pgErr.Code
	}
	return e
}

// Get — определение по uuid.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*dsl.EntityDefinition, error) {
	d, err := scanDefinition(s.db.QueryRowContext(ctx, selectDefinition+` WHERE uuid = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &schemaerr.NotFoundError{Resource: "definition", ID: id.String()}
	}
	if err != nil {
		return nil, dbErr("get_definition", err)
	}
	return d, nil
}

// GetByType — определение по типу сущности без учёта регистра.
func (s *Store) GetByType(ctx context.Context, entityType string) (*dsl.EntityDefinition, error) {
	d, err := scanDefinition(s.db.QueryRowContext(ctx, selectDefinition+` WHERE lower(entity_type) = lower($1)`, entityType))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &schemaerr.NotFoundError{Resource: "definition", ID: entityType}
	}
	if err != nil {
		return nil, dbErr("get_definition", err)
	}
	return d, nil
}

// List — все определения по алфавиту типов.
func (s *Store) List(ctx context.Context) ([]*dsl.EntityDefinition, error) {
	rows, err := s.db.QueryContext(ctx, selectDefinition+` ORDER BY lower(entity_type)`)
	if err != nil {
		return nil, dbErr("list_definitions", err)
	}
	defer rows.Close()

	var out []*dsl.EntityDefinition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, dbErr("list_definitions", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, dbErr("list_definitions", err)
	}
	return out, nil
}

// Insert сохраняет новое определение. Занятый тип сущности — *schemaerr.ValidationError.
func (s *Store) Insert(ctx context.Context, d *dsl.EntityDefinition) error {
	fields, err := json.Marshal(d.Fields)
	if err != nil {
		return fmt.Errorf("definition %s: encode fields: %w", d.EntityType, err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO entity_definitions
  (uuid, entity_type, display_name, description, fields, published, version, created_at, updated_at, created_by, updated_by)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		d.UUID, d.EntityType, d.DisplayName, d.Description, string(fields), d.Published, d.Version,
		d.CreatedAt, d.UpdatedAt, nullUUID(d.CreatedBy), nullUUID(d.UpdatedBy))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation {
			return &schemaerr.ValidationError{Entity: d.EntityType, Message: "entity type already exists"}
		}
		return dbErr("insert_definition", err)
	}
	return nil
}

// Update перезаписывает определение, если в базе всё ещё версия expected.
func (s *Store) Update(ctx context.Context, d *dsl.EntityDefinition, expected int) error {
	fields, err := json.Marshal(d.Fields)
	if err != nil {
		return fmt.Errorf("definition %s: encode fields: %w", d.EntityType, err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE entity_definitions SET
  display_name = $2, description = $3, fields = $4, published = $5, version = $6, updated_at = $7, updated_by = $8
WHERE uuid = $1 AND version = $9`,
		d.UUID, d.DisplayName, d.Description, string(fields), d.Published, d.Version, d.UpdatedAt, nullUUID(d.UpdatedBy), expected)
	if err != nil {
		return dbErr("update_definition", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return dbErr("update_definition", err)
	}
	if n == 0 {
		return fmt.Errorf("definition %s (version %d): %w", d.EntityType, expected, ErrVersionConflict)
	}
	return nil
}

// Delete удаляет строку определения.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entity_definitions WHERE uuid = $1`, id)
	if err != nil {
		return dbErr("delete_definition", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &schemaerr.NotFoundError{Resource: "definition", ID: id.String()}
	}
	return nil
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

// время хранится с точностью до микросекунд
func truncNow(now time.Time) time.Time { return now.UTC().Truncate(time.Microsecond) }
