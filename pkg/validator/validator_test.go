package validator

import (
	"errors"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/require"
)

type signupPayload struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password,omitempty" validate:"min=8,max=72"`
	Note     string `json:"-" validate:"omitempty,max=4"`
}

func TestValidateStructAcceptsValidPayload(t *testing.T) {
	require.NoError(t, ValidateStruct(signupPayload{Email: "ada@example.com", Password: "12345678"}))
}

func TestValidateStructReportsJSONFieldNames(t *testing.T) {
	err := ValidateStruct(signupPayload{Email: "not-an-email", Password: "short", Note: "too long"})

	var failures ValidationErrors
	require.ErrorAs(t, err, &failures)
	require.Equal(t, ValidationErrors{
		{Field: "email", Tag: "email"},
		{Field: "password", Tag: "min", Param: "8"},
		{Field: "Note", Tag: "max", Param: "4"},
	}, failures)
	require.Equal(t, "email failed on email; password failed on min=8; Note failed on max=4", err.Error())
}

func TestValidateStructPassesThroughNonStructErrors(t *testing.T) {
	err := ValidateStruct("plain string")
	require.Error(t, err)

	var failures ValidationErrors
	require.False(t, errors.As(err, &failures))
}

func TestDigitsAndNotBlankRules(t *testing.T) {
	type verifyPayload struct {
		Code  string `json:"code" validate:"required,len=6,digits"`
		Token string `json:"token" validate:"notblank"`
	}

	require.NoError(t, ValidateStruct(verifyPayload{Code: "012345", Token: "abc"}))

	err := ValidateStruct(verifyPayload{Code: "12a456", Token: " \t"})
	var failures ValidationErrors
	require.ErrorAs(t, err, &failures)
	require.Len(t, failures, 2)
	require.Equal(t, "code", failures[0].Field)
	require.Equal(t, "digits", failures[0].Tag)
	require.Equal(t, "token", failures[1].Field)
	require.Equal(t, "notblank", failures[1].Tag)
}

func TestRegisterValidation(t *testing.T) {
	require.NoError(t, RegisterValidation("lowercase_only", func(fl validator.FieldLevel) bool {
		value := fl.Field().String()
		for _, r := range value {
			if r >= 'A' && r <= 'Z' {
				return false
			}
		}
		return true
	}))

	type payload struct {
		Slug string `json:"slug" validate:"lowercase_only"`
	}

	require.NoError(t, ValidateStruct(payload{Slug: "visera"}))
	require.Error(t, ValidateStruct(payload{Slug: "Visera"}))
}
