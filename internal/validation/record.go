package validation

import (
	"errors"
	"sort"
	"strings"
	"time"

	"entityforge/internal/dsl"
)

// versionHint — клиент может прислать version для оптимистической блокировки,
// но в запись он не попадает.
const versionHint = "version"

// ValidateRecord проверяет запись целиком и возвращает нормализованную копию
// с каноническими именами полей. partial — частичное обновление: отсутствие
// обязательных полей не ошибка. Ошибки значений собираются в *RecordError,
// ошибка определения поля (*ConfigError) возвращается сразу.
func (v *Validator) ValidateRecord(def *dsl.EntityDefinition, obj map[string]any, partial bool) (map[string]any, error) {
	out := make(map[string]any, len(obj))
	var errs []*FieldError

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seen := map[string]bool{}
	for _, k := range keys {
		lower := strings.ToLower(k)
		switch {
		case lower == versionHint:
			continue
		case lower == dsl.PrimaryKey || dsl.IsRegistryField(lower):
			errs = append(errs, ferr(CodeReadOnly, k, "field '%s' is read-only", k))
			continue
		}
		f, ok := def.Field(k)
		if !ok {
			errs = append(errs, ferr(CodeUnknownField, k, "unknown field '%s'", k))
			continue
		}
		seen[strings.ToLower(f.Name)] = true
		norm, err := v.Validate(f, obj[k])
		if err != nil {
			var fe *FieldError
			if errors.As(err, &fe) {
				errs = append(errs, fe)
				continue
			}
			return nil, err
		}
		out[f.Name] = norm
	}

	if !partial {
		for _, f := range def.Fields {
			if f.Required && !seen[strings.ToLower(f.Name)] {
				errs = append(errs, ferr(CodeRequired, f.Name, "field '%s' is required", f.Name))
			}
		}
	}

	if len(errs) > 0 {
		return nil, &RecordError{Entity: def.EntityType, Errors: errs}
	}
	return out, nil
}

// ApplyDefaults подставляет default отсутствующих полей. Default, который не
// проходит проверку поля, не подставляется.
func (v *Validator) ApplyDefaults(def *dsl.EntityDefinition, obj map[string]any) {
	for _, f := range def.Fields {
		if f.Default == nil {
			continue
		}
		if _, exists := lookup(obj, f.Name); exists {
			continue
		}
		val, err := v.Validate(f, v.resolveDefault(f))
		if err == nil {
			obj[f.Name] = val
		}
	}
}

// CheckDefaults проверяет default каждого поля на этапе приёма определения.
func (v *Validator) CheckDefaults(def *dsl.EntityDefinition) error {
	var errs []error
	for _, f := range def.Fields {
		if f.Default == nil {
			continue
		}
		if _, err := v.Validate(f, v.resolveDefault(f)); err != nil {
			var ce *ConfigError
			if errors.As(err, &ce) {
				errs = append(errs, ce)
				continue
			}
			errs = append(errs, &ConfigError{Field: f.Name, Message: "invalid default", Err: err})
		}
	}
	return errors.Join(errs...)
}

// default "now" для дат — текущая дата/время по часам валидатора
func (v *Validator) resolveDefault(f dsl.Field) any {
	s, ok := f.Default.(string)
	if !ok || !strings.EqualFold(s, dsl.NowLiteral) {
		return f.Default
	}
	switch f.Type {
	case dsl.Date:
		return v.now().Format(dateLayout)
	case dsl.DateTime:
		return v.now().Format(time.RFC3339)
	}
	return f.Default
}

func lookup(obj map[string]any, name string) (any, bool) {
	if val, ok := obj[name]; ok {
		return val, true
	}
	for k, val := range obj {
		if strings.EqualFold(k, name) {
			return val, true
		}
	}
	return nil, false
}
