package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/domain"
)

var defaultValidator = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	_ = v.RegisterValidation("domainname", func(fl validator.FieldLevel) bool {
		return domain.IsValidDomain(strings.ToLower(strings.TrimSpace(fl.Field().String())))
	})
	_ = v.RegisterValidation("slug", func(fl validator.FieldLevel) bool {
		return domain.IsValidSubdomain(strings.ToLower(strings.TrimSpace(fl.Field().String())))
	})
	return v
}

// Validate checks struct tags and returns a validation error whose details
// map each failing field to its message.
func Validate(req any) error {
	err := defaultValidator.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperrors.Validation("invalid request body")
	}
	details := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		name := fieldName(fe)
		if _, seen := details[name]; !seen {
			details[name] = message(fe)
		}
	}
	return apperrors.Validation(message(fieldErrs[0])).WithDetails(details)
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	// drop the struct name prefix
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	if fe.Field() != "" {
		return fe.Field()
	}
	return fe.StructField()
}

func message(fe validator.FieldError) string {
	field := fieldName(fe)
	switch fe.ActualTag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	case "url":
		return fmt.Sprintf("%s must be a valid url", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "notblank":
		return fmt.Sprintf("%s must not be blank", field)
	case "domainname":
		return fmt.Sprintf("%s must be a valid domain name", field)
	case "slug":
		return fmt.Sprintf("%s must be 3-63 lowercase letters, digits or hyphens", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
