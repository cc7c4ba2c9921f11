package dsl

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// FieldType — закрытый набор типов полей.
type FieldType string

const (
	String      FieldType = "string"
	Text        FieldType = "text"
	Wysiwyg     FieldType = "wysiwyg"
	Integer     FieldType = "integer"
	Float       FieldType = "float"
	Boolean     FieldType = "boolean"
	Date        FieldType = "date"
	DateTime    FieldType = "datetime"
	UUID        FieldType = "uuid"
	JSON        FieldType = "json"
	Object      FieldType = "object"
	Array       FieldType = "array"
	Select      FieldType = "select"
	MultiSelect FieldType = "multiselect"
	ManyToOne   FieldType = "many_to_one"
	ManyToMany  FieldType = "many_to_many"
	Image       FieldType = "image"
	File        FieldType = "file"
)

var fieldTypes = map[FieldType]struct{}{
	String: {}, Text: {}, Wysiwyg: {}, Integer: {}, Float: {}, Boolean: {},
	Date: {}, DateTime: {}, UUID: {}, JSON: {}, Object: {}, Array: {},
	Select: {}, MultiSelect: {}, ManyToOne: {}, ManyToMany: {}, Image: {}, File: {},
}

// синонимы, которые принимает DSL-загрузчик
var typeAliases = map[string]FieldType{
	"int":       Integer,
	"bigint":    Integer,
	"double":    Float,
	"bool":      Boolean,
	"ref":       ManyToOne,
	"refs":      ManyToMany,
	"enum":      Select,
	"multienum": MultiSelect,
	"html":      Wysiwyg,
}

// Valid сообщает, входит ли тип в закрытый набор.
func (t FieldType) Valid() bool { _, ok := fieldTypes[t]; return ok }

// IsRelation — ManyToOne / ManyToMany.
func (t FieldType) IsRelation() bool { return t == ManyToOne || t == ManyToMany }

// IsText — строковые типы с ограничениями длины и шаблоном.
func (t FieldType) IsText() bool { return t == String || t == Text || t == Wysiwyg }

// IsNumeric — Integer / Float.
func (t FieldType) IsNumeric() bool { return t == Integer || t == Float }

// ParseFieldType принимает каноническое имя или синоним (регистр не важен).
func ParseFieldType(s string) (FieldType, error) {
	k := strings.ToLower(strings.TrimSpace(s))
	if t := FieldType(k); t.Valid() {
		return t, nil
	}
	if t, ok := typeAliases[k]; ok {
		return t, nil
	}
	return "", fmt.Errorf("unknown field type: %s", s)
}

// OptionsKind — откуда берутся допустимые значения Select/MultiSelect.
type OptionsKind string

const (
	OptionsFixed OptionsKind = "fixed"
	OptionsEnum  OptionsKind = "enum"
	OptionsQuery OptionsKind = "query"
)

// OptionsSource описывает источник вариантов.
type OptionsSource struct {
	Kind   OptionsKind `json:"kind" yaml:"kind"`
	Values []string    `json:"values,omitempty" yaml:"values,omitempty"` // для fixed
	Enum   string      `json:"enum,omitempty" yaml:"enum,omitempty"`     // имя enum-справочника
	Query  string      `json:"query,omitempty" yaml:"query,omitempty"`   // ссылка на запрос, здесь не исполняется
}

// NowLiteral — граница даты, вычисляемая в момент валидации.
const NowLiteral = "now"

// Validation — ограничения значения поля.
type Validation struct {
	MinLength   *int           `json:"min_length,omitempty" yaml:"min_length,omitempty"`
	MaxLength   *int           `json:"max_length,omitempty" yaml:"max_length,omitempty"`
	Pattern     string         `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Min         *float64       `json:"min,omitempty" yaml:"min,omitempty"`
	Max         *float64       `json:"max,omitempty" yaml:"max,omitempty"`
	Positive    bool           `json:"positive,omitempty" yaml:"positive,omitempty"`
	MinDate     string         `json:"min_date,omitempty" yaml:"min_date,omitempty"`
	MaxDate     string         `json:"max_date,omitempty" yaml:"max_date,omitempty"`
	Options     *OptionsSource `json:"options,omitempty" yaml:"options,omitempty"`
	TargetClass string         `json:"target_class,omitempty" yaml:"target_class,omitempty"`
}

// FixedOptions возвращает фиксированный список вариантов, если источник fixed.
func (v Validation) FixedOptions() ([]string, bool) {
	if v.Options == nil || v.Options.Kind != OptionsFixed {
		return nil, false
	}
	return v.Options.Values, true
}

// EnumName возвращает имя enum-справочника, если источник enum.
func (v Validation) EnumName() string {
	if v.Options == nil || v.Options.Kind != OptionsEnum {
		return ""
	}
	return strings.ToLower(v.Options.Enum)
}

// Field описывает поле сущности.
type Field struct {
	Name        string     `json:"name" yaml:"name"`
	DisplayName string     `json:"display_name,omitempty" yaml:"display_name,omitempty"`
	Type        FieldType  `json:"type" yaml:"type"`
	Required    bool       `json:"required,omitempty" yaml:"required,omitempty"`
	Indexed     bool       `json:"indexed,omitempty" yaml:"indexed,omitempty"`
	Filterable  bool       `json:"filterable,omitempty" yaml:"filterable,omitempty"`
	Default     any        `json:"default,omitempty" yaml:"default,omitempty"`
	Validation  Validation `json:"validation" yaml:"validation"`
}

// EntityDefinition — декларативная схема типа сущности.
type EntityDefinition struct {
	UUID        uuid.UUID  `json:"uuid"`
	EntityType  string     `json:"entity_type"`
	DisplayName string     `json:"display_name,omitempty"`
	Description string     `json:"description,omitempty"`
	Fields      []Field    `json:"fields"`
	Published   bool       `json:"published"`
	Version     int        `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CreatedBy   *uuid.UUID `json:"created_by,omitempty"`
	UpdatedBy   *uuid.UUID `json:"updated_by,omitempty"`
}

// Field ищет поле по имени без учёта регистра.
func (d *EntityDefinition) Field(name string) (Field, bool) {
	for _, f := range d.Fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Field{}, false
}

// RegistryFields живут в общей таблице реестра и никогда не материализуются
// колонками таблицы сущности.
var RegistryFields = []string{"path", "created_at", "updated_at", "created_by", "updated_by", "published", "version"}

// IsRegistryField — имя поля из RegistryFields (без учёта регистра).
func IsRegistryField(name string) bool {
	l := strings.ToLower(name)
	for _, r := range RegistryFields {
		if r == l {
			return true
		}
	}
	return false
}
