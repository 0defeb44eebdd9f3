package types

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/go-playground/validator/v10"
)

// Compiled once; ids are checked on every inbound frame.
var idRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

var validate *validator.Validate

func init() {
	validate = validator.New()
	_ = validate.RegisterValidation("id", func(fl validator.FieldLevel) bool {
		return IsValidID(fl.Field().String())
	})
}

// FieldError describes one failed constraint.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Validate checks a payload's validate tags. The returned error wraps
// ErrInvalidPayload and names the first failing field.
func Validate(v interface{}) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	fe := verrs[0]
	return fmt.Errorf("%w: %s must satisfy %s", ErrInvalidPayload, fe.Field(), fe.Tag())
}

// FieldErrors lists every failed constraint, for HTTP callers that want them all.
func FieldErrors(v interface{}) []FieldError {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []FieldError{{Message: err.Error()}}
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{
			Field:   fe.Field(),
			Message: fmt.Sprintf("field must satisfy %s constraint", fe.Tag()),
		})
	}
	return out
}

// IsValidID checks the format shared by user, request and session ids:
// 1-64 characters, alphanumeric plus underscore and hyphen.
func IsValidID(id string) bool {
	if len(id) < 1 || len(id) > 64 {
		return false
	}
	return idRegex.MatchString(id)
}
