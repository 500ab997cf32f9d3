package common

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"
)

// NewValidator returns a validator that reports fields by their JSON names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// ValidationDetails flattens validator errors into a field -> rule map. It
// returns nil when err does not come from the validator.
func ValidationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if idx := strings.Index(field, "."); idx != -1 {
			field = field[idx+1:]
		}
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		out[field] = rule
	}
	return out
}

// ValidationError wraps validator output as a 422 AppError.
func ValidationError(err error) *AppError {
	appErr := NewAppError("VALIDATION_FAILED", "validation failed", http.StatusUnprocessableEntity, err)
	appErr.Details = ValidationDetails(err)
	return appErr
}
