// Package handlers provides HTTP handlers for the bpcmon collector API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	pkgmodels "github.com/MacJediWizard/bpcmon/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

func init() {
	// Report validation failures by JSON field name rather than Go field name.
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	}
}

const invalidDataError = "Invalid data"

// bindJSON binds and validates the request body into obj. On failure it writes
// a 422 response with per-field messages and returns false.
func bindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		c.JSON(http.StatusUnprocessableEntity, pkgmodels.APIError{
			Error:    invalidDataError,
			Messages: validationMessages(err),
		})
		return false
	}
	return true
}

// validationMessages maps a binding error to field name => message.
func validationMessages(err error) map[string]string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make(map[string]string, len(verrs))
		for _, fe := range verrs {
			out[fe.Field()] = fieldMessage(fe)
		}
		return out
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		// Field is a dotted path that includes embedded struct names.
		name := typeErr.Field[strings.LastIndex(typeErr.Field, ".")+1:]
		return map[string]string{name: fmt.Sprintf("The %s field has an invalid type.", name)}
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return map[string]string{"body": "The request body is too large."}
	case errors.Is(err, io.EOF):
		return map[string]string{"body": "The request body is empty."}
	}
	return map[string]string{"body": "The request body is not valid JSON."}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", fe.Field())
	case "oneof":
		return fmt.Sprintf("The selected %s is invalid.", fe.Field())
	case "gt":
		return fmt.Sprintf("The %s field must be greater than %s.", fe.Field(), fe.Param())
	case "gte", "min":
		return fmt.Sprintf("The %s field must be at least %s.", fe.Field(), fe.Param())
	case "lte", "max":
		return fmt.Sprintf("The %s field must not be greater than %s.", fe.Field(), fe.Param())
	case "url":
		return fmt.Sprintf("The %s field must be a valid URL.", fe.Field())
	}
	return fmt.Sprintf("The %s field is invalid.", fe.Field())
}
