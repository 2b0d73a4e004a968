package services

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("triple", func(fl validator.FieldLevel) bool {
		return isTriple(fl.Field().String())
	})
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// validateStruct runs the struct tags and reports the first failure as a
// ValidationError naming the JSON field.
func (s *Service) validateStruct(v any) error {
	err := s.validate.Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return validationError("invalid request: %v", err)
	}

	fe := verrs[0]
	field := strings.TrimPrefix(fe.Namespace(), reflect.TypeOf(v).Elem().Name()+".")
	e := validationError("%s %s", field, describe(fe))
	e.Details = map[string]any{"field": field}
	return e
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "notblank":
		return "is required"
	case "triple":
		return "must be a three-digit number"
	case "gt":
		return "must be greater than " + fe.Param()
	case "min":
		return "must have at least " + fe.Param() + " item(s)"
	case "max":
		return "must not exceed " + fe.Param()
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of " + fe.Param()
	}
	return "failed " + fe.Tag() + " validation"
}
