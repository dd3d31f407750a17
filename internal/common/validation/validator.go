// Package validation wraps go-playground/validator with the custom tags
// used by task definitions and configuration, plus a fluent validator for
// checks that do not fit struct tags.
package validation

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"task-router/internal/common/errors"
)

// CronParser parses the five-field schedules and @descriptors accepted for timed events
var CronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// FieldError is a single validation failure
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Value   string `json:"value,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
}

// Result holds structured validation results
type Result struct {
	Valid  bool         `json:"valid"`
	Errors []FieldError `json:"errors"`
}

// StructValidator validates structs through their validate tags
type StructValidator struct {
	validator *validator.Validate
}

// NewStructValidator creates a validator with the custom tags registered
func NewStructValidator() *StructValidator {
	v := validator.New()
	registerCustomValidators(v)

	// report JSON names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	return &StructValidator{validator: v}
}

// ValidateStruct validates s, returning a validation AppError
func (sv *StructValidator) ValidateStruct(s interface{}) error {
	if err := sv.validator.Struct(s); err != nil {
		return sv.format(err)
	}
	return nil
}

// ValidateStructResult validates s and returns every failure
func (sv *StructValidator) ValidateStructResult(s interface{}) *Result {
	err := sv.validator.Struct(s)
	if err == nil {
		return &Result{Valid: true, Errors: []FieldError{}}
	}
	return &Result{Valid: false, Errors: sv.extract(err)}
}

func (sv *StructValidator) format(err error) error {
	fieldErrors := sv.extract(err)
	if len(fieldErrors) == 1 {
		return errors.ValidationError(fieldErrors[0].Message)
	}

	messages := make([]string, len(fieldErrors))
	for i, e := range fieldErrors {
		messages[i] = e.Message
	}
	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func (sv *StructValidator) extract(err error) []FieldError {
	var out []FieldError

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []FieldError{{Field: "unknown", Tag: "error", Message: err.Error()}}
	}

	for _, fe := range validationErrs {
		out = append(out, FieldError{
			Field:   fe.Namespace(),
			Tag:     fe.Tag(),
			Value:   fmt.Sprintf("%v", fe.Value()),
			Message: formatFieldError(fe),
			Param:   fe.Param(),
		})
	}
	return out
}

func formatFieldError(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return fmt.Sprintf("field '%s' is required", err.Namespace())
	case "url":
		return fmt.Sprintf("field '%s' must be a valid URL", err.Namespace())
	case "min":
		return fmt.Sprintf("field '%s' must be at least %s", err.Namespace(), err.Param())
	case "max":
		return fmt.Sprintf("field '%s' must be at most %s", err.Namespace(), err.Param())
	case "oneof":
		return fmt.Sprintf("field '%s' must be one of: %s", err.Namespace(), err.Param())
	case "cron_expression":
		return fmt.Sprintf("field '%s' must be a valid cron expression", err.Namespace())
	case "broker_type":
		return fmt.Sprintf("field '%s' must be a valid broker type (%s)", err.Namespace(), strings.Join(BrokerTypes, ", "))
	case "parameter_type":
		return fmt.Sprintf("field '%s' must be one of TEXT, TEXTAREA, NUMBER, DATE", err.Namespace())
	case "filter_operator":
		return fmt.Sprintf("field '%s' must be a filter operator", err.Namespace())
	case "duration":
		return fmt.Sprintf("field '%s' must be a valid duration", err.Namespace())
	default:
		return fmt.Sprintf("field '%s' failed validation: %s", err.Namespace(), err.Tag())
	}
}

// BrokerTypes are the accepted event bus backends
var BrokerTypes = []string{"memory", "redis", "rabbitmq", "kafka", "aws", "gcp"}

var parameterTypes = []string{"", "TEXT", "TEXTAREA", "NUMBER", "DATE"}

var filterOperators = []string{"CONTAINS", "EXIST", "EQUALS", "STARTSWITH", "ENDSWITH", "GT", "LT"}

func oneOf(value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	return false
}

func registerCustomValidators(v *validator.Validate) {
	v.RegisterValidation("cron_expression", func(fl validator.FieldLevel) bool {
		_, err := CronParser.Parse(fl.Field().String())
		return err == nil
	})

	v.RegisterValidation("broker_type", func(fl validator.FieldLevel) bool {
		return oneOf(fl.Field().String(), BrokerTypes)
	})

	v.RegisterValidation("parameter_type", func(fl validator.FieldLevel) bool {
		return oneOf(strings.ToUpper(fl.Field().String()), parameterTypes)
	})

	v.RegisterValidation("filter_operator", func(fl validator.FieldLevel) bool {
		return oneOf(strings.ToUpper(strings.TrimSpace(fl.Field().String())), filterOperators)
	})

	v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		if fl.Field().Kind() == reflect.Int64 {
			return fl.Field().Int() >= 0
		}
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})
}

var globalValidator = NewStructValidator()

// ValidateStruct validates s with the shared validator
func ValidateStruct(s interface{}) error {
	return globalValidator.ValidateStruct(s)
}

// Validator accumulates validation errors fluently
type Validator struct {
	errors []FieldError
	prefix string
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// NewValidatorWithPrefix creates a validator prefixing every message
func NewValidatorWithPrefix(prefix string) *Validator {
	return &Validator{prefix: prefix}
}

// RequireString validates that a string is not blank
func (v *Validator) RequireString(value, name string) *Validator {
	if strings.TrimSpace(value) == "" {
		v.addError(name, "required", value, fmt.Sprintf("%s is required", name))
	}
	return v
}

// RequirePositive validates that an integer is positive
func (v *Validator) RequirePositive(value int, name string) *Validator {
	if value <= 0 {
		v.addError(name, "min", fmt.Sprintf("%d", value), fmt.Sprintf("%s must be positive", name))
	}
	return v
}

// RequireNonNegative validates that an integer is not negative
func (v *Validator) RequireNonNegative(value int, name string) *Validator {
	if value < 0 {
		v.addError(name, "min", fmt.Sprintf("%d", value), fmt.Sprintf("%s must be non-negative", name))
	}
	return v
}

// RequireURL validates that a string is an absolute URL
func (v *Validator) RequireURL(value, name string) *Validator {
	if err := globalValidator.validator.Var(value, "required,url"); err != nil {
		v.addError(name, "url", value, fmt.Sprintf("%s must be a valid URL", name))
	}
	return v
}

// RequireOneOf validates that value is one of allowed
func (v *Validator) RequireOneOf(value string, allowed []string, name string) *Validator {
	if !oneOf(value, allowed) {
		v.addError(name, "oneof", value, fmt.Sprintf("%s must be one of: %s", name, strings.Join(allowed, ", ")))
	}
	return v
}

// RequireCron validates a schedule expression
func (v *Validator) RequireCron(expr, name string) *Validator {
	if _, err := CronParser.Parse(expr); err != nil {
		v.addError(name, "cron_expression", expr, fmt.Sprintf("%s must be a valid cron expression: %v", name, err))
	}
	return v
}

// RequireStruct validates s through its tags, recording every field failure
func (v *Validator) RequireStruct(s interface{}) *Validator {
	result := globalValidator.ValidateStructResult(s)
	for _, e := range result.Errors {
		v.addError(e.Field, e.Tag, e.Value, e.Message)
	}
	return v
}

// Validate runs a custom validation function
func (v *Validator) Validate(fn func() error) *Validator {
	if err := fn(); err != nil {
		v.addError("custom", "custom", "", err.Error())
	}
	return v
}

// ValidateIf runs fn when condition holds
func (v *Validator) ValidateIf(condition bool, fn func() error) *Validator {
	if condition {
		return v.Validate(fn)
	}
	return v
}

// HasErrors returns true if there are validation errors
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// FieldErrors returns the recorded failures
func (v *Validator) FieldErrors() []FieldError {
	return v.errors
}

// Error returns the combined validation error or nil
func (v *Validator) Error() error {
	if !v.HasErrors() {
		return nil
	}
	if len(v.errors) == 1 {
		return errors.ValidationError(v.errors[0].Message)
	}

	messages := make([]string, len(v.errors))
	for i, e := range v.errors {
		messages[i] = e.Message
	}
	return errors.ValidationError(fmt.Sprintf("validation failed: %s", strings.Join(messages, "; ")))
}

func (v *Validator) addError(field, tag, value, message string) {
	if v.prefix != "" {
		message = fmt.Sprintf("%s: %s", v.prefix, message)
		field = fmt.Sprintf("%s.%s", v.prefix, field)
	}
	v.errors = append(v.errors, FieldError{Field: field, Tag: tag, Value: value, Message: message})
}
