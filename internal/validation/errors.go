package validation

import (
	"errors"
	"fmt"
	"strings"

	"entityforge/internal/schemaerr"
)

// ErrInvalidValue — значение не прошло проверку поля.
var ErrInvalidValue = errors.New("invalid value")

// Коды ошибок значений
const (
	CodeRequired      = "required"
	CodeTypeMismatch  = "type_mismatch"
	CodeTooShort      = "too_short"
	CodeTooLong       = "too_long"
	CodePattern       = "pattern_mismatch"
	CodeOutOfRange    = "out_of_range"
	CodeNotPositive   = "not_positive"
	CodeOptionInvalid = "option_invalid"
	CodeUnknownField  = "unknown_field"
	CodeReadOnly      = "readonly_field"
)

// FieldError — значение поля не подходит под его определение.
type FieldError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Field, e.Message)
}

func (e *FieldError) Unwrap() error { return ErrInvalidValue }

func ferr(code, field, format string, args ...any) *FieldError {
	return &FieldError{Code: code, Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConfigError — ошибка в самом определении поля (битый pattern, граница даты),
// а не в значении.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("field %s misconfigured: %s: %v", e.Field, e.Message, e.Err)
	}
	return fmt.Sprintf("field %s misconfigured: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() []error {
	if e.Err == nil {
		return []error{schemaerr.ErrValidation}
	}
	return []error{schemaerr.ErrValidation, e.Err}
}

// RecordError собирает ошибки всех полей записи.
type RecordError struct {
	Entity string        `json:"entity"`
	Errors []*FieldError `json:"errors"`
}

func (e *RecordError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		parts = append(parts, fe.Error())
	}
	return fmt.Sprintf("invalid %s record: %s", e.Entity, strings.Join(parts, "; "))
}

func (e *RecordError) Unwrap() error { return ErrInvalidValue }
