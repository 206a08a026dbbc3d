package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	appErrors "github.com/visera/backend/pkg/errors"
	"github.com/visera/backend/pkg/response"
	appValidator "github.com/visera/backend/pkg/validator"
)

const genericValidationDetail = "Invalid request payload"

// ruleMessages renders a failed rule. Each function receives the readable field name and
// the rule parameter.
var ruleMessages = map[string]func(field, param string) string{
	"required": func(field, _ string) string { return field + " is required" },
	"notblank": func(field, _ string) string { return field + " is required" },
	"email":    func(field, _ string) string { return field + " must be a valid email address" },
	"min":      func(field, n string) string { return field + " must be at least " + n + " characters" },
	"max":      func(field, n string) string { return field + " must be at most " + n + " characters" },
	"len":      func(field, n string) string { return field + " must be exactly " + n + " characters" },
	"digits":   func(field, _ string) string { return field + " must contain only digits" },
}

// bindAndValidate binds the JSON payload into dest and runs struct validation rules.
// Malformed JSON and rule violations are both reported as 422 and false is returned.
func bindAndValidate[T any](c *gin.Context, dest *T) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		response.Error(c, appErrors.NewValidation("Invalid JSON payload"))
		return false
	}

	if err := appValidator.ValidateStruct(dest); err != nil {
		response.Error(c, appErrors.NewValidation(formatValidationError(err)))
		return false
	}

	return true
}

func formatValidationError(err error) string {
	var failures appValidator.ValidationErrors
	if !errors.As(err, &failures) || len(failures) == 0 {
		return genericValidationDetail
	}

	messages := make([]string, len(failures))
	for i, f := range failures {
		field := readableField(f.Field)
		if render, ok := ruleMessages[f.Tag]; ok {
			messages[i] = render(field, f.Param)
			continue
		}
		rule := f.Tag
		if f.Param != "" {
			rule += "=" + f.Param
		}
		messages[i] = field + " failed validation: " + rule
	}
	return strings.Join(messages, "; ")
}

// readableField turns a json field name such as new_password into "new password".
func readableField(name string) string {
	if name == "" {
		return "field"
	}
	return strings.ToLower(strings.ReplaceAll(name, "_", " "))
}

// parseIntQuery returns the integer query parameter key, or fallback when it is absent
// or not a number.
func parseIntQuery(c *gin.Context, key string, fallback int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil {
		return fallback
	}
	return parsed
}
