package validation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"entityforge/internal/dsl"
	"entityforge/internal/schemaerr"
)

func personDef() *dsl.EntityDefinition {
	return &dsl.EntityDefinition{
		EntityType: "Person",
		Fields: []dsl.Field{
			{Name: "name", Type: dsl.String, Required: true},
			{Name: "age", Type: dsl.Integer, Validation: dsl.Validation{Min: ptrFloat(0), Max: ptrFloat(120)}},
			{Name: "active", Type: dsl.Boolean, Default: "yes"},
			{Name: "joined", Type: dsl.Date, Default: "now"},
		},
	}
}

func TestValidateRecord(t *testing.T) {
	v := fixedClock()
	out, err := v.ValidateRecord(personDef(), map[string]any{"Name": "Ann", "age": "42", "version": 3}, false)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"name": "Ann", "age": int64(42)}, out)
}

func TestValidateRecordCollectsErrors(t *testing.T) {
	v := fixedClock()
	_, err := v.ValidateRecord(personDef(), map[string]any{
		"age":        float64(-1),
		"nickname":   "x",
		"created_at": "2020-01-01",
		"uuid":       "6ba7b810-9dad-11d1-80b4-00c04fd430c8",
	}, false)

	var re *RecordError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "Person", re.Entity)

	codes := map[string]string{}
	for _, fe := range re.Errors {
		codes[fe.Field] = fe.Code
	}
	assert.Equal(t, map[string]string{
		"age":        CodeOutOfRange,
		"nickname":   CodeUnknownField,
		"created_at": CodeReadOnly,
		"uuid":       CodeReadOnly,
		"name":       CodeRequired,
	}, codes)
	assert.True(t, errors.Is(err, ErrInvalidValue))
}

func TestValidateRecordPartial(t *testing.T) {
	out, err := New().ValidateRecord(personDef(), map[string]any{"age": 30}, true)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"age": int64(30)}, out)

	// явный null обязательного поля — ошибка и при частичном обновлении
	_, err = New().ValidateRecord(personDef(), map[string]any{"name": nil}, true)
	assert.Error(t, err)
}

func TestValidateRecordConfigErrorShortCircuits(t *testing.T) {
	def := &dsl.EntityDefinition{EntityType: "X", Fields: []dsl.Field{
		{Name: "code", Type: dsl.String, Validation: dsl.Validation{Pattern: "(["}},
	}}
	_, err := New().ValidateRecord(def, map[string]any{"code": "a"}, false)
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
}

func TestApplyDefaults(t *testing.T) {
	v := fixedClock()
	obj := map[string]any{"name": "Ann", "Active": false}
	v.ApplyDefaults(personDef(), obj)

	assert.Equal(t, false, obj["Active"], "переданное значение не перетирается")
	assert.NotContains(t, obj, "active")
	assert.Equal(t, "2026-03-15", obj["joined"])
}

func TestCheckDefaults(t *testing.T) {
	v := New()
	require.NoError(t, v.CheckDefaults(personDef()))

	def := personDef()
	def.Fields[1].Default = 500
	err := v.CheckDefaults(def)
	require.Error(t, err)
	assert.True(t, errors.Is(err, schemaerr.ErrValidation))
	var ce *ConfigError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "age", ce.Field)
}
