package pg

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"entityforge/internal/dsl"
)

func TestSQLType(t *testing.T) {
	tests := []struct {
		t    dsl.FieldType
		enum string
		want string
		ok   bool
	}{
		{dsl.String, "", "text", true},
		{dsl.Wysiwyg, "", "text", true},
		{dsl.Integer, "", "integer", true},
		{dsl.Float, "", "double precision", true},
		{dsl.Boolean, "", "boolean", true},
		{dsl.Date, "", "date", true},
		{dsl.DateTime, "", "timestamp with time zone", true},
		{dsl.JSON, "", "jsonb", true},
		{dsl.Array, "", "jsonb", true},
		{dsl.UUID, "", "uuid", true},
		{dsl.ManyToOne, "", "uuid", true},
		{dsl.Select, "", "text", true},
		{dsl.Select, "Status", "status", true},
		{dsl.MultiSelect, "", "text[]", true},
		{dsl.File, "", "text", true},
		{dsl.ManyToMany, "", "", false},
	}
	for _, tt := range tests {
		got, ok := SQLType(tt.t, tt.enum)
		assert.Equal(t, tt.want, got, string(tt.t))
		assert.Equal(t, tt.ok, ok, string(tt.t))
	}
}

func TestRenderType(t *testing.T) {
	assert.Equal(t, "text", renderType("text"))
	assert.Equal(t, `"order"`, renderType("order"))
	assert.Equal(t, `"status"[]`, renderType("status[]"))
}

func TestNormalizeType(t *testing.T) {
	assert.Equal(t, "book_status", normalizeType("USER-DEFINED", "book_status"))
	assert.Equal(t, "text[]", normalizeType("ARRAY", "_text"))
	assert.Equal(t, "integer[]", normalizeType("ARRAY", "_int4"))
	assert.Equal(t, "timestamp with time zone", normalizeType("timestamp with time zone", "timestamptz"))
}

func TestViewColumns(t *testing.T) {
	base := []Column{{Name: "uuid"}, {Name: "title"}, {Name: "path"}}
	st := BuildView("Book", base)
	assert.Equal(t, KindCreateView, st.Kind)
	assert.Equal(t, Strict, st.Policy)
	// базовая колонка с именем поля реестра не дублирует колонку реестра
	assert.Equal(t,
		`CREATE VIEW "entity_book_view" AS SELECT e."uuid", e."title", r."path", r."created_at", r."updated_at", r."created_by", r."updated_by", r."published", r."version" FROM "entity_book" e LEFT JOIN "entity_registry" r ON r."uuid" = e."uuid"`,
		st.SQL)

	want := []string{"uuid", "title", "path", "created_at", "updated_at", "created_by", "updated_by", "published", "version"}
	assert.Equal(t, want, ExpectedViewColumns(base))

	missing, dup := checkViewColumns(want, want)
	assert.Empty(t, missing)
	assert.Empty(t, dup)
}

func TestLikePrefix(t *testing.T) {
	assert.Equal(t, `entity\_%`, likePrefix("entity_"))
}
