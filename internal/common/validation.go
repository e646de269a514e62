package common

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError describes one field that failed a rule.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation failed for field '%s' with value '%v': %s", e.Field, e.Value, e.Message)
}

// ValidationRule checks one value, returning nil when it passes.
type ValidationRule func(fieldName string, value interface{}) *ValidationError

// Validator collects rule failures across several fields so a caller can
// report them all at once instead of stopping at the first.
type Validator struct {
	errors []ValidationError
}

func NewValidator() *Validator {
	return &Validator{}
}

// Field runs the given rules against one value and collects any failures.
func (v *Validator) Field(fieldName string, value interface{}, rules ...ValidationRule) *Validator {
	for _, rule := range rules {
		if err := rule(fieldName, value); err != nil {
			v.errors = append(v.errors, *err)
		}
	}
	return v
}

func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// ErrorMessage joins all collected failures into one line.
func (v *Validator) ErrorMessage() string {
	if !v.HasErrors() {
		return ""
	}
	messages := make([]string, 0, len(v.errors))
	for _, err := range v.errors {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// Required rejects nil and blank strings.
func Required(fieldName string, value interface{}) *ValidationError {
	if value == nil {
		return &ValidationError{Field: fieldName, Value: value, Message: "is required"}
	}
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		return &ValidationError{Field: fieldName, Value: value, Message: "is required"}
	}
	return nil
}

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

// CurrencyCode requires a 3-letter uppercase ISO 4217 code.
func CurrencyCode(fieldName string, value interface{}) *ValidationError {
	s, ok := value.(string)
	if !ok || !currencyPattern.MatchString(s) {
		return &ValidationError{
			Field:   fieldName,
			Value:   value,
			Message: "must be 3 uppercase letters (ISO 4217)",
		}
	}
	return nil
}
