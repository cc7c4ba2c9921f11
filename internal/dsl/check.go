package dsl

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"entityforge/internal/schemaerr"
)

// зарезервированные типы сущностей: их таблицы совпали бы с общими таблицами
var reservedEntityTypes = map[string]struct{}{
	"registry":    {},
	"definitions": {},
}

// Lint проверяет определение и возвращает все найденные проблемы.
// Пустой результат — определение можно отдавать в реконсиляцию.
func Lint(def *EntityDefinition) []*schemaerr.ValidationError {
	var issues []*schemaerr.ValidationError
	add := func(field, format string, args ...any) {
		issues = append(issues, &schemaerr.ValidationError{
			Entity:  def.EntityType,
			Field:   field,
			Message: fmt.Sprintf(format, args...),
		})
	}

	et := def.EntityType
	switch {
	case !identRe.MatchString(et):
		add("", "entity type must match %s", identRe.String())
		// без валидного имени производные идентификаторы проверять бессмысленно
		return issues
	case isReservedEntity(et):
		add("", "entity type %q is reserved", et)
	case strings.HasSuffix(strings.ToLower(et), ViewSuffix):
		// entity_foo_view — имя view типа foo
		base := et[:len(et)-len(ViewSuffix)]
		add("", "entity type %q must not end with %q: table %s is the view name of %q", et, ViewSuffix, TableName(et), base)
	case len(ViewName(et)) > MaxIdentLen:
		add("", "entity type is too long: %q exceeds %d bytes", ViewName(et), MaxIdentLen)
	}

	names := map[string]string{}   // lower(name) -> исходное имя
	columns := map[string]string{} // колонка -> поле
	for _, f := range def.Fields {
		if !identRe.MatchString(f.Name) {
			add(f.Name, "field name must match %s", identRe.String())
			continue
		}
		lower := strings.ToLower(f.Name)
		if prev, dup := names[lower]; dup {
			add(f.Name, "duplicates field %q (names are case-insensitive)", prev)
			continue
		}
		names[lower] = f.Name
		if lower == PrimaryKey {
			add(f.Name, "field name %q is reserved for the primary key", f.Name)
			continue
		}
		if !f.Type.Valid() {
			add(f.Name, "unknown field type %q", f.Type)
			continue
		}

		if col, ok := ColumnName(f); ok {
			if other, clash := columns[col]; clash {
				add(f.Name, "column %q collides with field %q", col, other)
			}
			columns[col] = f.Name
			if idx := IndexName(TableName(et), col); len(idx) > MaxIdentLen {
				add(f.Name, "index name %q exceeds %d bytes", idx, MaxIdentLen)
			}
		}
		if f.Type == ManyToMany {
			rel := RelationTable(et, f.Name)
			if idx := IndexName(rel, "source"); len(idx) > MaxIdentLen {
				add(f.Name, "relation index name %q exceeds %d bytes", idx, MaxIdentLen)
			}
		}

		for _, msg := range lintField(f) {
			add(f.Name, "%s", msg)
		}
	}
	return issues
}

// Check — Lint, свёрнутый в одну ошибку (errors.Is(err, schemaerr.ErrValidation)).
func Check(def *EntityDefinition) error {
	if def == nil {
		return &schemaerr.ValidationError{Message: "definition is nil"}
	}
	issues := Lint(def)
	if len(issues) == 0 {
		return nil
	}
	if len(issues) == 1 {
		return issues[0]
	}
	errs := make([]error, 0, len(issues))
	for _, it := range issues {
		errs = append(errs, it)
	}
	return errors.Join(errs...)
}

// CheckEnums проверяет, что все enum-источники вариантов известны каталогу.
func CheckEnums(def *EntityDefinition, known func(name string) bool) error {
	for _, f := range def.Fields {
		name := f.Validation.EnumName()
		if name == "" {
			continue
		}
		if !known(name) {
			return &schemaerr.ValidationError{Entity: def.EntityType, Field: f.Name, Message: fmt.Sprintf("unknown enum %q", name)}
		}
	}
	return nil
}

func isReservedEntity(s string) bool {
	_, ok := reservedEntityTypes[strings.ToLower(s)]
	return ok
}

func lintField(f Field) []string {
	var out []string
	v := f.Validation

	if f.Type.IsRelation() {
		switch {
		case v.TargetClass == "":
			out = append(out, "relation field requires target_class")
		case !identRe.MatchString(v.TargetClass):
			out = append(out, fmt.Sprintf("target_class %q must match %s", v.TargetClass, identRe.String()))
		}
	}

	if v.MinLength != nil && *v.MinLength < 0 {
		out = append(out, "min_length must be >= 0")
	}
	if v.MaxLength != nil && *v.MaxLength < 0 {
		out = append(out, "max_length must be >= 0")
	}
	if v.MinLength != nil && v.MaxLength != nil && *v.MinLength > *v.MaxLength {
		out = append(out, "min_length is greater than max_length")
	}
	if v.Pattern != "" {
		if _, err := regexp.Compile(v.Pattern); err != nil {
			out = append(out, fmt.Sprintf("invalid pattern: %v", err))
		}
	}
	if v.Min != nil && v.Max != nil && *v.Min > *v.Max {
		out = append(out, "min is greater than max")
	}

	if f.Type == Date || f.Type == DateTime {
		layout := "2006-01-02"
		if f.Type == DateTime {
			layout = time.RFC3339
		}
		minT, okMin := parseBound(v.MinDate, layout, &out, "min_date")
		maxT, okMax := parseBound(v.MaxDate, layout, &out, "max_date")
		if okMin && okMax && minT.After(maxT) {
			out = append(out, "min_date is after max_date")
		}
	}

	if f.Type == Select || f.Type == MultiSelect {
		if v.Options == nil {
			out = append(out, "select field requires an options source")
		}
	}
	if o := v.Options; o != nil {
		switch o.Kind {
		case OptionsFixed:
			if len(o.Values) == 0 {
				out = append(out, "fixed options list is empty")
			}
			seen := map[string]struct{}{}
			for _, val := range o.Values {
				if _, dup := seen[val]; dup {
					out = append(out, fmt.Sprintf("duplicate option %q", val))
				}
				seen[val] = struct{}{}
			}
		case OptionsEnum:
			if !ValidIdent(o.Enum) {
				out = append(out, fmt.Sprintf("enum name %q must match %s", o.Enum, identRe.String()))
			}
		case OptionsQuery:
			if strings.TrimSpace(o.Query) == "" {
				out = append(out, "query options source requires a query reference")
			}
		default:
			out = append(out, fmt.Sprintf("unknown options source %q", o.Kind))
		}
	}
	return out
}

// parseBound разбирает фиксированную границу; "now" не сравнивается на этапе проверки.
func parseBound(s, layout string, out *[]string, name string) (time.Time, bool) {
	if s == "" || strings.EqualFold(s, NowLiteral) {
		return time.Time{}, false
	}
	t, err := time.Parse(layout, s)
	if err != nil {
		*out = append(*out, fmt.Sprintf("%s %q must be %q or match %s", name, s, NowLiteral, layout))
		return time.Time{}, false
	}
	return t, true
}
