package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"entityforge/internal/definitions"
	"entityforge/internal/dsl"
	"entityforge/internal/pg"
	"entityforge/internal/schemaerr"
	"entityforge/internal/validation"
)

// ActorHeader — заголовок с uuid пользователя, попадает в created_by/updated_by.
const ActorHeader = "X-Actor-ID"

// AdminService — то, что админ-API использует от *definitions.Service.
type AdminService interface {
	List(ctx context.Context) ([]*dsl.EntityDefinition, error)
	Get(ctx context.Context, id uuid.UUID) (*dsl.EntityDefinition, error)
	Create(ctx context.Context, def *dsl.EntityDefinition, actor *uuid.UUID) (*dsl.EntityDefinition, error)
	Update(ctx context.Context, id uuid.UUID, def *dsl.EntityDefinition, actor *uuid.UUID) (*dsl.EntityDefinition, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ApplySchema(ctx context.Context, id uuid.UUID) (*pg.Result, error)
	ApplyAll(ctx context.Context) (int, []definitions.ApplyFailure, error)
	Orphans(ctx context.Context, dryRun bool) ([]string, error)
	LoadSeeds(ctx context.Context, dir string) (*definitions.SeedResult, error)
	Validator() *validation.Validator
}

type handlers struct {
	svc      AdminService
	seedsDir string
}

func badRequest(msg string) error {
	return &schemaerr.ValidationError{Message: msg}
}

func pathID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abortWith(c, badRequest("invalid id"))
		return uuid.Nil, false
	}
	return id, true
}

func actorOf(c *gin.Context) (*uuid.UUID, bool) {
	raw := strings.TrimSpace(c.GetHeader(ActorHeader))
	if raw == "" {
		return nil, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		abortWith(c, badRequest("invalid "+ActorHeader+" header"))
		return nil, false
	}
	return &id, true
}

// readDefinition принимает JSON-определение или DSL-текст (text/plain) с одной сущностью.
func readDefinition(c *gin.Context) (*dsl.EntityDefinition, bool) {
	if strings.HasPrefix(c.ContentType(), "text/plain") {
		raw, err := io.ReadAll(c.Request.Body)
		if err != nil {
			abortWith(c, badRequest("cannot read body"))
			return nil, false
		}
		defs, err := dsl.Parse(bytes.NewReader(raw))
		if err != nil {
			abortWith(c, &schemaerr.ValidationError{Message: err.Error()})
			return nil, false
		}
		if len(defs) != 1 {
			abortWith(c, badRequest("expected exactly one entity, got "+strconv.Itoa(len(defs))))
			return nil, false
		}
		return defs[0], true
	}

	var def dsl.EntityDefinition
	if err := c.ShouldBindJSON(&def); err != nil {
		abortWith(c, badRequest("invalid JSON: "+err.Error()))
		return nil, false
	}
	return &def, true
}

func (h *handlers) list(c *gin.Context) {
	defs, err := h.svc.List(c.Request.Context())
	if err != nil {
		abortWith(c, err)
		return
	}
	if defs == nil {
		defs = []*dsl.EntityDefinition{}
	}
	c.JSON(http.StatusOK, defs)
}

func (h *handlers) get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	def, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, def)
}

// create: 201 с определением. Если схема не применилась, определение всё равно
// сохранено: ответ 201 с полем schema_error.
func (h *handlers) create(c *gin.Context) {
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	def, ok := readDefinition(c)
	if !ok {
		return
	}
	saved, err := h.svc.Create(c.Request.Context(), def, actor)
	if err != nil && saved == nil {
		abortWith(c, err)
		return
	}
	if err != nil {
		c.JSON(http.StatusCreated, gin.H{"definition": saved, "schema_error": errorBody(err)})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"definition": saved})
}

func (h *handlers) update(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	actor, ok := actorOf(c)
	if !ok {
		return
	}
	def, ok := readDefinition(c)
	if !ok {
		return
	}
	saved, err := h.svc.Update(c.Request.Context(), id, def, actor)
	if err != nil && saved == nil {
		abortWith(c, err)
		return
	}
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"definition": saved, "schema_error": errorBody(err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"definition": saved})
}

func (h *handlers) remove(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		abortWith(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func resultBody(res *pg.Result) gin.H {
	body := gin.H{"run_id": res.RunID, "applied": res.Report.Applied, "view_columns": res.ViewColumns}
	if p := res.Plan; p != nil {
		body["table"] = p.Table
		body["view"] = p.View
		body["created_table"] = p.CreatedTable
		body["added_columns"] = p.AddedColumns
		body["dropped_columns"] = p.DroppedColumns
		body["created_indexes"] = p.CreatedIndexes
		body["dropped_indexes"] = p.DroppedIndexes
		body["structural_changes"] = p.StructuralChanges()
	}
	tolerated := make([]string, 0, len(res.Report.Tolerated))
	for _, t := range res.Report.Tolerated {
		tolerated = append(tolerated, t.Statement)
	}
	body["tolerated"] = tolerated
	return body
}

func (h *handlers) apply(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	res, err := h.svc.ApplySchema(c.Request.Context(), id)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, resultBody(res))
}

func (h *handlers) applyAll(c *gin.Context) {
	success, failures, err := h.svc.ApplyAll(c.Request.Context())
	if err != nil {
		abortWith(c, err)
		return
	}
	out := make([]gin.H, 0, len(failures))
	for _, f := range failures {
		out = append(out, gin.H{"entity_type": f.EntityType, "uuid": f.UUID, "error": errorBody(f.Err)})
	}
	status := http.StatusOK
	if len(failures) > 0 {
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{"success": success, "failed": len(failures), "failures": out})
}

// orphans: GET — только список, POST — удаление.
func (h *handlers) orphans(dryRun bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tables, err := h.svc.Orphans(c.Request.Context(), dryRun)
		if err != nil {
			abortWith(c, err)
			return
		}
		if tables == nil {
			tables = []string{}
		}
		c.JSON(http.StatusOK, gin.H{"dry_run": dryRun, "tables": tables})
	}
}

type seedsReq struct {
	DSLRoot string `json:"dsl_root"` // директория с *.dsl
}

func (h *handlers) seeds(c *gin.Context) {
	var req seedsReq
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		abortWith(c, badRequest("invalid JSON"))
		return
	}
	dir := strings.TrimSpace(req.DSLRoot)
	if dir == "" {
		dir = h.seedsDir
	}
	res, err := h.svc.LoadSeeds(c.Request.Context(), dir)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"dsl_root": dir, "created": res.Created, "updated": res.Updated, "unchanged": res.Unchanged})
}

// lint — проверка определения без сохранения: все найденные проблемы списком.
func (h *handlers) lint(c *gin.Context) {
	def, ok := readDefinition(c)
	if !ok {
		return
	}
	issues := dsl.Lint(def)
	out := make([]gin.H, 0, len(issues))
	for _, it := range issues {
		out = append(out, gin.H{"entity": it.Entity, "field": it.Field, "message": it.Message})
	}
	if err := h.svc.Validator().CheckDefaults(def); err != nil && len(issues) == 0 {
		out = append(out, errorBody(err))
	}
	c.JSON(http.StatusOK, gin.H{"ok": len(out) == 0, "issues": out})
}

// validate проверяет запись по определению :id. ?partial=true — частичное обновление,
// иначе отсутствующие поля заполняются default.
func (h *handlers) validate(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var record map[string]any
	if err := c.ShouldBindJSON(&record); err != nil {
		abortWith(c, badRequest("invalid JSON: "+err.Error()))
		return
	}
	if record == nil {
		record = map[string]any{}
	}
	def, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		abortWith(c, err)
		return
	}
	partial := c.Query("partial") == "true"
	v := h.svc.Validator()
	if !partial {
		v.ApplyDefaults(def, record)
	}
	norm, err := v.ValidateRecord(def, record, partial)
	if err != nil {
		abortWith(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entity_type": def.EntityType, "record": norm})
}
