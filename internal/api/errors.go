package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"entityforge/internal/definitions"
	"entityforge/internal/schemaerr"
	"entityforge/internal/validation"
)

// statusOf переводит категорию ошибки в HTTP-статус.
func statusOf(err error) int {
	var recErr *validation.RecordError
	var fieldErr *validation.FieldError
	switch {
	case errors.As(err, &recErr), errors.As(err, &fieldErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, schemaerr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, schemaerr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, schemaerr.ErrNotEmpty), errors.Is(err, definitions.ErrVersionConflict):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// errorBody — тело ответа об ошибке; issues/failures — детали, если они есть.
func errorBody(err error) gin.H {
	body := gin.H{"error": err.Error()}

	var recErr *validation.RecordError
	if errors.As(err, &recErr) {
		body["error"] = "record validation failed"
		body["issues"] = recErr.Errors
		return body
	}
	var fieldErr *validation.FieldError
	if errors.As(err, &fieldErr) {
		body["issues"] = []*validation.FieldError{fieldErr}
		return body
	}
	var valErr *schemaerr.ValidationError
	if errors.As(err, &valErr) {
		body["entity"] = valErr.Entity
		if valErr.Field != "" {
			body["field"] = valErr.Field
		}
		return body
	}
	var appErr *schemaerr.SchemaApplicationError
	if errors.As(err, &appErr) {
		failures := make([]gin.H, 0, len(appErr.Failures))
		for _, f := range appErr.Failures {
			failures = append(failures, gin.H{"statement": f.Statement, "error": errString(f.Err)})
		}
		body["applied"] = appErr.Applied
		body["failures"] = failures
		return body
	}
	var consErr *schemaerr.ConsistencyError
	if errors.As(err, &consErr) {
		body["check"] = consErr.Check
		body["objects"] = consErr.Objects
		return body
	}
	var dbErr *schemaerr.DatabaseError
	if errors.As(err, &dbErr) && dbErr.Code != "" {
		body["code"] = dbErr.Code
	}
	return body
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func abortWith(c *gin.Context, err error) {
	c.AbortWithStatusJSON(statusOf(err), errorBody(err))
}
