// Package validator wraps go-playground/validator with the rules request payloads rely on.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var (
	instance     *validator.Validate
	instanceOnce sync.Once
)

// ValidationError describes one rejected field, named after its json tag.
type ValidationError struct {
	Field string `json:"field"`
	Tag   string `json:"tag"`
	Param string `json:"param"`
}

func (e ValidationError) String() string {
	if e.Param == "" {
		return fmt.Sprintf("%s failed on %s", e.Field, e.Tag)
	}
	return fmt.Sprintf("%s failed on %s=%s", e.Field, e.Tag, e.Param)
}

// ValidationErrors is returned by ValidateStruct when at least one rule fails.
type ValidationErrors []ValidationError

func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return "validation failed"
	}
	var b strings.Builder
	for i, failure := range v {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(failure.String())
	}
	return b.String()
}

// ValidateStruct runs the registered rules against s. Rule violations come back as
// ValidationErrors; anything else (for example a non-struct argument) is returned as is.
func ValidateStruct(s any) error {
	err := engine().Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	out := make(ValidationErrors, len(fieldErrs))
	for i, fe := range fieldErrs {
		out[i] = ValidationError{Field: fe.Field(), Tag: fe.Tag(), Param: fe.Param()}
	}
	return out
}

// RegisterValidation adds a custom rule to the shared validator.
func RegisterValidation(tag string, fn validator.Func) error {
	return engine().RegisterValidation(tag, fn)
}

func engine() *validator.Validate {
	instanceOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(jsonFieldName)
		for tag, fn := range map[string]validator.Func{
			"digits":   isDigits,
			"notblank": isNotBlank,
		} {
			if err := v.RegisterValidation(tag, fn); err != nil {
				panic(fmt.Sprintf("validator: register %s: %v", tag, err))
			}
		}
		instance = v
	})
	return instance
}

func jsonFieldName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	if name == "" || name == "-" {
		return field.Name
	}
	return name
}

// isDigits accepts non-empty strings made only of ASCII digits, as used by OTP codes.
func isDigits(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return false
	}
	return strings.IndexFunc(value, func(r rune) bool { return r < '0' || r > '9' }) < 0
}

func isNotBlank(fl validator.FieldLevel) bool {
	return strings.IndexFunc(fl.Field().String(), func(r rune) bool { return !unicode.IsSpace(r) }) >= 0
}
