// Package validation provides a shared validator instance.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var instance = validator.New(validator.WithRequiredStructEnabled())

// customHints maps validator tags to a hint appended to the default error.
var customHints = map[string]func(fe validator.FieldError) string{
	"oneof": func(fe validator.FieldError) string {
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	},
	"excluded_with": func(fe validator.FieldError) string {
		return fmt.Sprintf("cannot be combined with %s", fe.Param())
	},
}

// Struct validates a struct and returns the error message and false if invalid.
func Struct(v any) (string, bool) {
	err := instance.Struct(v)
	if err == nil {
		return "", true
	}
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err.Error(), false
	}
	return formatErrors(validationErrors), false
}

// formatErrors builds the error string, appending a custom hint for known
// tags while keeping the standard validator prefix.
func formatErrors(errs validator.ValidationErrors) string {
	msgs := make([]string, 0, len(errs))
	for _, fe := range errs {
		msg := fe.Error()
		if fn, ok := customHints[fe.Tag()]; ok {
			msg = fmt.Sprintf("%s: %s", msg, fn(fe))
		}
		msgs = append(msgs, msg)
	}
	return strings.Join(msgs, "; ")
}
