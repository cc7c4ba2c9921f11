package definitions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"entityforge/internal/dsl"
	"entityforge/internal/pg"
	"entityforge/internal/schemaerr"
	"entityforge/internal/validation"
)

// Repository — хранилище определений (*Store).
type Repository interface {
	Get(ctx context.Context, id uuid.UUID) (*dsl.EntityDefinition, error)
	GetByType(ctx context.Context, entityType string) (*dsl.EntityDefinition, error)
	List(ctx context.Context) ([]*dsl.EntityDefinition, error)
	Insert(ctx context.Context, d *dsl.EntityDefinition) error
	Update(ctx context.Context, d *dsl.EntityDefinition, expected int) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// Reconciler — движок схем (*pg.Engine).
type Reconciler interface {
	Reconcile(ctx context.Context, def, prev *dsl.EntityDefinition) (*pg.Result, error)
	Drop(ctx context.Context, def *dsl.EntityDefinition) error
	ReconcileOrphans(ctx context.Context, liveTypes []string, dryRun bool) ([]string, error)
	Bootstrap(ctx context.Context) error
}

// EnumCatalog сообщает, известен ли enum-справочник (reference.Catalog).
type EnumCatalog interface {
	Has(name string) bool
}

// ApplyFailure — тип сущности, реконсиляция которого не удалась.
type ApplyFailure struct {
	EntityType string    `json:"entity_type"`
	UUID       uuid.UUID `json:"uuid"`
	Err        error     `json:"-"`
}

// Service — операции над определениями: проверка, хранение, реконсиляция схемы.
type Service struct {
	repo      Repository
	engine    Reconciler
	enums     EnumCatalog
	validator *validation.Validator
	now       func() time.Time
	log       *slog.Logger
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет часы (тесты).
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// WithValidator задаёт валидатор значений.
func WithValidator(v *validation.Validator) Option { return func(s *Service) { s.validator = v } }

// NewService собирает сервис. enums может быть nil.
func NewService(repo Repository, engine Reconciler, enums EnumCatalog, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{repo: repo, engine: engine, enums: enums, validator: validation.New(), now: time.Now, log: log}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Validator — валидатор значений записей.
func (s *Service) Validator() *validation.Validator { return s.validator }

func (s *Service) check(def *dsl.EntityDefinition) error {
	if err := dsl.Check(def); err != nil {
		return err
	}
	known := func(string) bool { return false }
	if s.enums != nil {
		known = s.enums.Has
	}
	if err := dsl.CheckEnums(def, known); err != nil {
		return err
	}
	return s.validator.CheckDefaults(def)
}

// Create проверяет определение, сохраняет его с version = 1 и приводит схему.
// При ошибке реконсиляции определение остаётся сохранённым и возвращается вместе
// с ошибкой: схему можно доприменить через ApplySchema.
func (s *Service) Create(ctx context.Context, def *dsl.EntityDefinition, actor *uuid.UUID) (*dsl.EntityDefinition, error) {
	if err := s.check(def); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetByType(ctx, def.EntityType); err == nil {
		return nil, &schemaerr.ValidationError{Entity: def.EntityType, Message: "entity type already exists"}
	} else if !errors.Is(err, schemaerr.ErrNotFound) {
		return nil, err
	}

	d := *def
	if d.UUID == uuid.Nil {
		d.UUID = uuid.New()
	}
	now := truncNow(s.now())
	d.Version = 1
	d.CreatedAt, d.UpdatedAt = now, now
	d.CreatedBy, d.UpdatedBy = actor, actor

	if err := s.repo.Insert(ctx, &d); err != nil {
		return nil, err
	}
	s.log.Info("definition created", "entity", d.EntityType, "uuid", d.UUID)

	if _, err := s.engine.Reconcile(ctx, &d, nil); err != nil {
		return &d, fmt.Errorf("reconcile %s: %w", d.EntityType, err)
	}
	return &d, nil
}

// Update заменяет определение (version + 1) и приводит схему с учётом предыдущей версии.
// Тип сущности менять нельзя. Ненулевой def.Version должен совпасть с текущей версией.
func (s *Service) Update(ctx context.Context, id uuid.UUID, def *dsl.EntityDefinition, actor *uuid.UUID) (*dsl.EntityDefinition, error) {
	prev, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(prev.EntityType, def.EntityType) {
		return nil, &schemaerr.ValidationError{Entity: prev.EntityType, Message: fmt.Sprintf("entity type cannot change to %q", def.EntityType)}
	}
	if def.Version != 0 && def.Version != prev.Version {
		return nil, fmt.Errorf("definition %s: have version %d, got %d: %w", prev.EntityType, prev.Version, def.Version, ErrVersionConflict)
	}
	if err := s.check(def); err != nil {
		return nil, err
	}

	d := *def
	d.UUID = prev.UUID
	d.EntityType = prev.EntityType
	d.Version = prev.Version + 1
	d.CreatedAt, d.CreatedBy = prev.CreatedAt, prev.CreatedBy
	d.UpdatedAt, d.UpdatedBy = truncNow(s.now()), actor

	if err := s.repo.Update(ctx, &d, prev.Version); err != nil {
		return nil, err
	}
	s.log.Info("definition updated", "entity", d.EntityType, "uuid", d.UUID, "version", d.Version)

	if _, err := s.engine.Reconcile(ctx, &d, prev); err != nil {
		return &d, fmt.Errorf("reconcile %s: %w", d.EntityType, err)
	}
	return &d, nil
}

// Delete удаляет схему типа сущности и само определение. Таблица с данными
// не удаляется (*schemaerr.NotEmptyError).
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	def, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.engine.Drop(ctx, def); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info("definition deleted", "entity", def.EntityType, "uuid", id)
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*dsl.EntityDefinition, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*dsl.EntityDefinition, error) {
	return s.repo.List(ctx)
}

// ApplySchema повторно приводит схему одного определения.
func (s *Service) ApplySchema(ctx context.Context, id uuid.UUID) (*pg.Result, error) {
	def, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.engine.Reconcile(ctx, def, nil)
}

// ApplyAll приводит схему каждого определения, затем удаляет таблицы-сироты.
// Ошибка одного определения не останавливает остальные; ошибка очистки сирот
// прерывает операцию целиком.
func (s *Service) ApplyAll(ctx context.Context) (int, []ApplyFailure, error) {
	defs, err := s.repo.List(ctx)
	if err != nil {
		return 0, nil, err
	}

	var (
		success  int
		failures []ApplyFailure
		live     = make([]string, 0, len(defs))
	)
	for _, d := range defs {
		live = append(live, d.EntityType)
		if _, err := s.engine.Reconcile(ctx, d, nil); err != nil {
			if ctx.Err() != nil {
				return success, failures, ctx.Err()
			}
			s.log.Error("apply failed", "entity", d.EntityType, "uuid", d.UUID, "err", err)
			failures = append(failures, ApplyFailure{EntityType: d.EntityType, UUID: d.UUID, Err: err})
			continue
		}
		success++
	}

	dropped, err := s.engine.ReconcileOrphans(ctx, live, false)
	if err != nil {
		return success, failures, fmt.Errorf("orphan cleanup: %w", err)
	}
	s.log.Info("apply all finished", "success", success, "failed", len(failures), "orphans_dropped", len(dropped))
	return success, failures, nil
}

// Orphans перечисляет (dryRun) или удаляет таблицы без определения.
func (s *Service) Orphans(ctx context.Context, dryRun bool) ([]string, error) {
	defs, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	live := make([]string, 0, len(defs))
	for _, d := range defs {
		live = append(live, d.EntityType)
	}
	return s.engine.ReconcileOrphans(ctx, live, dryRun)
}

// Bootstrap создаёт общие таблицы реестра и определений.
func (s *Service) Bootstrap(ctx context.Context) error {
	return s.engine.Bootstrap(ctx)
}

// SeedResult — итог импорта seed-файлов.
type SeedResult struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
}

// LoadSeeds импортирует определения из *.dsl в dir: новые создаются, изменённые
// обновляются, совпадающие пропускаются без повышения версии.
func (s *Service) LoadSeeds(ctx context.Context, dir string) (*SeedResult, error) {
	defs, err := dsl.LoadDir(dir)
	if err != nil {
		return nil, err
	}
	res := &SeedResult{}
	for _, seed := range defs {
		cur, err := s.repo.GetByType(ctx, seed.EntityType)
		switch {
		case errors.Is(err, schemaerr.ErrNotFound):
			if _, err := s.Create(ctx, seed, nil); err != nil {
				return res, fmt.Errorf("seed %s: %w", seed.EntityType, err)
			}
			res.Created = append(res.Created, seed.EntityType)
		case err != nil:
			return res, err
		case sameDefinition(cur, seed):
			res.Unchanged = append(res.Unchanged, cur.EntityType)
		default:
			next := *seed
			next.Published = cur.Published
			if _, err := s.Update(ctx, cur.UUID, &next, nil); err != nil {
				return res, fmt.Errorf("seed %s: %w", seed.EntityType, err)
			}
			res.Updated = append(res.Updated, cur.EntityType)
		}
	}
	return res, nil
}

// sameDefinition сравнивает содержательную часть через JSON (default после
// чтения из jsonb приходит как float64, поэтому сравниваем в одном представлении).
func sameDefinition(a, b *dsl.EntityDefinition) bool {
	if a.DisplayName != b.DisplayName || a.Description != b.Description {
		return false
	}
	ja, errA := normalizedFields(a.Fields)
	jb, errB := normalizedFields(b.Fields)
	return errA == nil && errB == nil && ja == jb
}

func normalizedFields(fields []dsl.Field) (string, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	out, err := json.Marshal(v)
	return string(out), err
}
