package pg

import (
	"strings"

	"entityforge/internal/dsl"
)

// SQLType отображает тип поля в тип колонки PostgreSQL.
// enumName — имя enum-типа для Select с источником Enum (пусто — text).
// ok=false — поле не материализуется колонкой (ManyToMany).
func SQLType(t dsl.FieldType, enumName string) (string, bool) {
	switch t {
	case dsl.String, dsl.Text, dsl.Wysiwyg, dsl.Image, dsl.File:
		return "text", true
	case dsl.Integer:
		return "integer", true
	case dsl.Float:
		return "double precision", true
	case dsl.Boolean:
		return "boolean", true
	case dsl.Date:
		return "date", true
	case dsl.DateTime:
		return "timestamp with time zone", true
	case dsl.JSON, dsl.Object, dsl.Array:
		return "jsonb", true
	case dsl.UUID, dsl.ManyToOne:
		return "uuid", true
	case dsl.Select:
		if enumName != "" {
			return strings.ToLower(enumName), true
		}
		return "text", true
	case dsl.MultiSelect:
		return "text[]", true
	default:
		return "", false
	}
}

// FieldSQLType — SQLType для поля с учётом его источника вариантов.
func FieldSQLType(f dsl.Field) (string, bool) {
	enumName := ""
	if f.Type == dsl.Select {
		enumName = f.Validation.EnumName()
	}
	return SQLType(f.Type, enumName)
}

// встроенные типы, которые выдаёт SQLType; всё остальное — имя enum-типа
var builtinTypes = map[string]bool{
	"text": true, "integer": true, "double precision": true, "boolean": true,
	"date": true, "timestamp with time zone": true, "jsonb": true, "uuid": true,
	"text[]": true,
}

// renderType — тип для подстановки в DDL; имена enum-типов квотируются.
func renderType(t string) string {
	if builtinTypes[t] {
		return t
	}
	if strings.HasSuffix(t, "[]") {
		return renderType(strings.TrimSuffix(t, "[]")) + "[]"
	}
	return qi(t)
}
