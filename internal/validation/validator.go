// Package validation проверяет и нормализует значения полей по их определению.
package validation

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"entityforge/internal/dsl"
)

const dateLayout = "2006-01-02"

var dateRe = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`) // YYYY-MM-DD

// Validator — проверка значений. Now задаёт момент, к которому приводится
// граница "now"; nil — time.Now.
type Validator struct {
	Now func() time.Time

	mu       sync.Mutex
	patterns map[string]*regexp.Regexp
}

// New — валидатор с системными часами.
func New() *Validator {
	return &Validator{Now: time.Now}
}

func (v *Validator) now() time.Time {
	if v.Now == nil {
		return time.Now()
	}
	return v.Now()
}

// Validate проверяет значение поля и возвращает нормализованное значение
// ("42" -> int64(42)). Ошибка значения — *FieldError, ошибка определения — *ConfigError.
func (v *Validator) Validate(f dsl.Field, val any) (any, error) {
	if val == nil {
		if f.Required {
			return nil, ferr(CodeRequired, f.Name, "field '%s' is required", f.Name)
		}
		return nil, nil
	}

	switch f.Type {
	case dsl.String, dsl.Text, dsl.Wysiwyg:
		return v.validateText(f, val)
	case dsl.Integer:
		n, err := toInt32(val)
		if err != nil {
			return nil, ferr(CodeTypeMismatch, f.Name, "%s", err.Error())
		}
		if err := checkNumber(f, float64(n)); err != nil {
			return nil, err
		}
		return n, nil
	case dsl.Float:
		x, err := toFloat(val)
		if err != nil {
			return nil, ferr(CodeTypeMismatch, f.Name, "%s", err.Error())
		}
		if err := checkNumber(f, x); err != nil {
			return nil, err
		}
		return x, nil
	case dsl.Boolean:
		b, ok := toBool(val)
		if !ok {
			return nil, ferr(CodeTypeMismatch, f.Name, "must be boolean")
		}
		return b, nil
	case dsl.Date:
		return v.validateDate(f, val)
	case dsl.DateTime:
		return v.validateDateTime(f, val)
	case dsl.UUID:
		return validateUUID(f, val)
	case dsl.Select:
		s, ok := val.(string)
		if !ok {
			return nil, ferr(CodeTypeMismatch, f.Name, "must be string")
		}
		if opts, fixed := f.Validation.FixedOptions(); fixed && !contains(opts, s) {
			return nil, ferr(CodeOptionInvalid, f.Name, "value '%s' is not allowed", s)
		}
		return s, nil
	case dsl.MultiSelect:
		return validateMulti(f, val)
	default:
		// остальное проверяет целостность хранилища
		return val, nil
	}
}

func (v *Validator) validateText(f dsl.Field, val any) (any, error) {
	s, ok := val.(string)
	if !ok {
		return nil, ferr(CodeTypeMismatch, f.Name, "must be string")
	}
	rules := f.Validation
	n := utf8.RuneCountInString(s)
	if rules.MinLength != nil && n < *rules.MinLength {
		return nil, ferr(CodeTooShort, f.Name, "must be at least %d characters", *rules.MinLength)
	}
	if rules.MaxLength != nil && n > *rules.MaxLength {
		return nil, ferr(CodeTooLong, f.Name, "must be at most %d characters", *rules.MaxLength)
	}
	if rules.Pattern != "" {
		re, err := v.pattern(rules.Pattern)
		if err != nil {
			return nil, &ConfigError{Field: f.Name, Message: "invalid pattern", Err: err}
		}
		if !re.MatchString(s) {
			return nil, ferr(CodePattern, f.Name, "does not match pattern %s", rules.Pattern)
		}
	}
	return s, nil
}

// pattern компилирует шаблон один раз на валидатор.
func (v *Validator) pattern(p string) (*regexp.Regexp, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if re, ok := v.patterns[p]; ok {
		return re, nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	if v.patterns == nil {
		v.patterns = map[string]*regexp.Regexp{}
	}
	v.patterns[p] = re
	return re, nil
}

func checkNumber(f dsl.Field, x float64) error {
	rules := f.Validation
	if rules.Min != nil && x < *rules.Min {
		return ferr(CodeOutOfRange, f.Name, "must be >= %s", fmtNum(*rules.Min))
	}
	if rules.Max != nil && x > *rules.Max {
		return ferr(CodeOutOfRange, f.Name, "must be <= %s", fmtNum(*rules.Max))
	}
	if rules.Positive && x <= 0 {
		return ferr(CodeNotPositive, f.Name, "must be positive")
	}
	return nil
}

func fmtNum(x float64) string { return strconv.FormatFloat(x, 'f', -1, 64) }

// toInt32: ширина колонки integer. Результат — int64.
func toInt32(val any) (int64, error) {
	var n int64
	switch t := val.(type) {
	case int:
		n = int64(t)
	case int32:
		n = int64(t)
	case int64:
		n = t
	case float64:
		// числа из JSON приходят как float64
		if t != math.Trunc(t) || math.IsInf(t, 0) {
			return 0, errMsg("must be integer")
		}
		if t < math.MinInt32 || t > math.MaxInt32 {
			return 0, errMsg("integer out of 32-bit range")
		}
		n = int64(t)
	case json.Number:
		p, err := strconv.ParseInt(t.String(), 10, 64)
		if err != nil {
			return 0, errMsg("must be integer")
		}
		n = p
	case string:
		p, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, errMsg("must be integer")
		}
		n = p
	default:
		return 0, errMsg("must be integer")
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, errMsg("integer out of 32-bit range")
	}
	return n, nil
}

func toFloat(val any) (float64, error) {
	var x float64
	switch t := val.(type) {
	case float64:
		x = t
	case float32:
		x = float64(t)
	case int:
		x = float64(t)
	case int32:
		x = float64(t)
	case int64:
		x = float64(t)
	case json.Number:
		p, err := t.Float64()
		if err != nil {
			return 0, errMsg("must be float")
		}
		x = p
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, errMsg("must be float")
		}
		x = p
	default:
		return 0, errMsg("must be float")
	}
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, errMsg("must be a finite number")
	}
	return x, nil
}

// toBool: bool, 0/1 и строки true/false/yes/no/1/0 без учёта регистра.
func toBool(val any) (bool, bool) {
	switch t := val.(type) {
	case bool:
		return t, true
	case float64:
		switch t {
		case 1:
			return true, true
		case 0:
			return false, true
		}
	case int:
		switch t {
		case 1:
			return true, true
		case 0:
			return false, true
		}
	case int64:
		switch t {
		case 1:
			return true, true
		case 0:
			return false, true
		}
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "yes", "1":
			return true, true
		case "false", "no", "0":
			return false, true
		}
	}
	return false, false
}

func (v *Validator) validateDate(f dsl.Field, val any) (any, error) {
	s, ok := val.(string)
	if !ok {
		return nil, ferr(CodeTypeMismatch, f.Name, "must be string")
	}
	if !dateRe.MatchString(s) {
		return nil, ferr(CodeTypeMismatch, f.Name, "must match YYYY-MM-DD")
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, ferr(CodeTypeMismatch, f.Name, "invalid date")
	}

	now := v.now()
	today, _ := time.Parse(dateLayout, now.Format(dateLayout))
	minD, err := bound(f, "min_date", f.Validation.MinDate, today, dateLayout)
	if err != nil {
		return nil, err
	}
	maxD, err := bound(f, "max_date", f.Validation.MaxDate, today, dateLayout)
	if err != nil {
		return nil, err
	}
	if minD != nil && d.Before(*minD) {
		return nil, ferr(CodeOutOfRange, f.Name, "must not be before %s", minD.Format(dateLayout))
	}
	if maxD != nil && d.After(*maxD) {
		return nil, ferr(CodeOutOfRange, f.Name, "must not be after %s", maxD.Format(dateLayout))
	}
	return s, nil
}

func (v *Validator) validateDateTime(f dsl.Field, val any) (any, error) {
	s, ok := val.(string)
	if !ok {
		return nil, ferr(CodeTypeMismatch, f.Name, "must be string")
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, ferr(CodeTypeMismatch, f.Name, "must be RFC3339 datetime")
	}

	now := v.now()
	minT, err := bound(f, "min_date", f.Validation.MinDate, now, time.RFC3339)
	if err != nil {
		return nil, err
	}
	maxT, err := bound(f, "max_date", f.Validation.MaxDate, now, time.RFC3339)
	if err != nil {
		return nil, err
	}
	if minT != nil && ts.Before(*minT) {
		return nil, ferr(CodeOutOfRange, f.Name, "must not be before %s", minT.Format(time.RFC3339))
	}
	if maxT != nil && ts.After(*maxT) {
		return nil, ferr(CodeOutOfRange, f.Name, "must not be after %s", maxT.Format(time.RFC3339))
	}
	return s, nil
}

// bound разбирает границу; "now" вычисляется в момент проверки.
func bound(f dsl.Field, name, raw string, now time.Time, layout string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	switch {
	case raw == "":
		return nil, nil
	case strings.EqualFold(raw, dsl.NowLiteral):
		return &now, nil
	}
	t, err := time.Parse(layout, raw)
	if err != nil {
		return nil, &ConfigError{Field: f.Name, Message: "invalid " + name, Err: err}
	}
	return &t, nil
}

func validateUUID(f dsl.Field, val any) (any, error) {
	switch t := val.(type) {
	case uuid.UUID:
		return t.String(), nil
	case string:
		u, err := uuid.Parse(t)
		if err != nil {
			return nil, ferr(CodeTypeMismatch, f.Name, "must be a UUID")
		}
		return u.String(), nil
	}
	return nil, ferr(CodeTypeMismatch, f.Name, "must be a UUID")
}

// validateMulti: массив строк или одна строка как массив из одного элемента.
func validateMulti(f dsl.Field, val any) (any, error) {
	var items []string
	switch t := val.(type) {
	case string:
		items = []string{t}
	case []string:
		items = append(items, t...)
	case []any:
		for i, it := range t {
			s, ok := it.(string)
			if !ok {
				return nil, ferr(CodeTypeMismatch, f.Name, "element %d must be string", i)
			}
			items = append(items, s)
		}
	default:
		return nil, ferr(CodeTypeMismatch, f.Name, "must be an array of strings")
	}
	if opts, fixed := f.Validation.FixedOptions(); fixed {
		for _, s := range items {
			if !contains(opts, s) {
				return nil, ferr(CodeOptionInvalid, f.Name, "value '%s' is not allowed", s)
			}
		}
	}
	if items == nil {
		items = []string{}
	}
	return items, nil
}

func contains(list []string, s string) bool {
	for _, it := range list {
		if it == s {
			return true
		}
	}
	return false
}

type errMsg string

func (e errMsg) Error() string { return string(e) }
