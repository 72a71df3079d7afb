package models

import (
	"errors"
	"fmt"
	"strings"

	e "github.com/gartstein/crm/internal/crm/errors"
	"github.com/go-playground/validator/v10"
)

// customerValidate is shared by all Customer validations.
var customerValidate *validator.Validate

func init() {
	customerValidate = validator.New()
	_ = customerValidate.RegisterValidation("industry", validateIndustry)
}

func validateIndustry(fl validator.FieldLevel) bool {
	return Industry(fl.Field().String()).Valid()
}

// Validate checks the field rules of c. Identity and timestamps are the
// store's concern and are not checked here. The returned error wraps
// ErrInvalidInput.
func (c Customer) Validate() error {
	err := customerValidate.Struct(c)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("%w: %v", e.ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msgs = append(msgs, describe(fe))
	}
	return fmt.Errorf("%w: %s", e.ErrInvalidInput, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return fmt.Sprintf("%q is not a valid email", fe.Value())
	case "industry", "oneof":
		return fmt.Sprintf("unknown %s %q", field, fe.Value())
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
