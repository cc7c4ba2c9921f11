package dsl

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityforge/internal/schemaerr"
)

func intPtr(n int) *int           { return &n }
func floatPtr(f float64) *float64 { return &f }

func validBook() *EntityDefinition {
	return &EntityDefinition{
		EntityType: "book",
		Fields: []Field{
			{Name: "title", Type: String, Required: true, Validation: Validation{MaxLength: intPtr(200)}},
			{Name: "pages", Type: Integer, Indexed: true, Validation: Validation{Min: floatPtr(1)}},
			{Name: "author", Type: ManyToOne, Validation: Validation{TargetClass: "author"}},
			{Name: "tags", Type: ManyToMany, Validation: Validation{TargetClass: "tag"}},
			{Name: "genre", Type: Select, Validation: Validation{Options: &OptionsSource{Kind: OptionsFixed, Values: []string{"novel", "poem"}}}},
			{Name: "released", Type: Date, Validation: Validation{MaxDate: NowLiteral}},
		},
	}
}

func TestCheckAcceptsValidDefinition(t *testing.T) {
	require.NoError(t, Check(validBook()))
}

func TestCheckRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *EntityDefinition)
		want   string
	}{
		{"bad entity type", func(d *EntityDefinition) { d.EntityType = "book; drop" }, "entity type must match"},
		{"reserved entity type", func(d *EntityDefinition) { d.EntityType = "Registry" }, "reserved"},
		{"view suffix", func(d *EntityDefinition) { d.EntityType = "book_view" }, "view name of"},
		{"view suffix any case", func(d *EntityDefinition) { d.EntityType = "Book_VIEW" }, "must not end with"},
		{"too long entity type", func(d *EntityDefinition) { d.EntityType = strings.Repeat("b", 55) }, "too long"},
		{"bad field name", func(d *EntityDefinition) { d.Fields[0].Name = "ti tle" }, "field name must match"},
		{"duplicate case-insensitive", func(d *EntityDefinition) { d.Fields[1].Name = "TITLE" }, "duplicates field"},
		{"uuid reserved", func(d *EntityDefinition) { d.Fields[0].Name = "uuid" }, "primary key"},
		{"unknown type", func(d *EntityDefinition) { d.Fields[0].Type = "money" }, "unknown field type"},
		{"relation without target", func(d *EntityDefinition) { d.Fields[2].Validation.TargetClass = "" }, "requires target_class"},
		{"bad target", func(d *EntityDefinition) { d.Fields[2].Validation.TargetClass = "x;y" }, "target_class"},
		{"column collision", func(d *EntityDefinition) {
			d.Fields = append(d.Fields, Field{Name: "author_uuid", Type: UUID})
		}, "collides"},
		{"bad pattern", func(d *EntityDefinition) { d.Fields[0].Validation.Pattern = "([" }, "invalid pattern"},
		{"length bounds", func(d *EntityDefinition) { d.Fields[0].Validation.MinLength = intPtr(300) }, "min_length is greater"},
		{"numeric bounds", func(d *EntityDefinition) { d.Fields[1].Validation.Max = floatPtr(0) }, "min is greater"},
		{"bad date bound", func(d *EntityDefinition) { d.Fields[5].Validation.MinDate = "yesterday" }, "min_date"},
		{"empty fixed options", func(d *EntityDefinition) { d.Fields[4].Validation.Options.Values = nil }, "empty"},
		{"select without source", func(d *EntityDefinition) { d.Fields[4].Validation.Options = nil }, "options source"},
		{"bad enum name", func(d *EntityDefinition) {
			d.Fields[4].Validation.Options = &OptionsSource{Kind: OptionsEnum, Enum: "x y"}
		}, "enum name"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := validBook()
			tt.mutate(def)
			err := Check(def)
			require.Error(t, err)
			assert.ErrorIs(t, err, schemaerr.ErrValidation)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCheckCollectsAllIssues(t *testing.T) {
	def := validBook()
	def.Fields[0].Validation.Pattern = "(["
	def.Fields[2].Validation.TargetClass = ""

	assert.Len(t, Lint(def), 2)
}

func TestCheckEnums(t *testing.T) {
	def := validBook()
	def.Fields[4].Validation.Options = &OptionsSource{Kind: OptionsEnum, Enum: "Genre"}

	known := func(name string) bool { return name == "genre" }
	require.NoError(t, CheckEnums(def, known))

	err := CheckEnums(def, func(string) bool { return false })
	assert.ErrorIs(t, err, schemaerr.ErrValidation)
}
