package tasks

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Message keys identify the failure recorded on an ERROR activity. They are
// persisted and must stay stable.
const (
	KeyTriggerNotFound      = "error.triggerNotFound"
	KeyActionNotFound       = "error.actionNotFound"
	KeyActionWithoutSubject = "error.actionWithoutSubject"
	KeyTemplateNull         = "error.templateNull"
	KeyConvertToNumber      = "error.convertToNumber"
	KeyConvertToDate        = "error.convertToDate"
	KeyDateFormat           = "error.date.format"
	KeyNoDataProvider       = "error.notFoundDataProvider"
	KeyObjectNotFound       = "error.notFoundObjectForType"
	KeyFieldNotFound        = "error.objectNotContainsField"
	KeyProviderFailure      = "error.dataProviderFailure"
	KeySendFailure          = "error.sendEvent"
	KeyInvalidFilter        = "error.filter.invalid"
	KeyUnexpected           = "error.unexpected"
)

// TaskError is a pipeline failure carrying a stable message key
type TaskError struct {
	// Key is the stable message key
	Key string

	// Fields describes the failure, e.g. the offending field or value
	Fields map[string]string

	// Parameters is the trigger parameter snapshot of the failed run
	Parameters map[string]Value

	Cause error
}

// NewTaskError creates a TaskError with alternating key/value field pairs
func NewTaskError(key string, kv ...string) *TaskError {
	e := &TaskError{Key: key}
	for i := 0; i+1 < len(kv); i += 2 {
		e.With(kv[i], kv[i+1])
	}
	return e
}

// Error implements the error interface
func (e *TaskError) Error() string {
	var b strings.Builder
	b.WriteString(e.Key)

	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%q", k, e.Fields[k])
		}
	}

	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Unwrap returns the underlying cause
func (e *TaskError) Unwrap() error {
	return e.Cause
}

// Is matches another TaskError by message key
func (e *TaskError) Is(target error) bool {
	t, ok := target.(*TaskError)
	return ok && t.Key == e.Key
}

// With adds a field
func (e *TaskError) With(key, value string) *TaskError {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[key] = value
	return e
}

// Wrap attaches a cause
func (e *TaskError) Wrap(cause error) *TaskError {
	e.Cause = cause
	return e
}

// Sentinels for errors.Is
var (
	ErrTriggerNotFound      = &TaskError{Key: KeyTriggerNotFound}
	ErrActionNotFound       = &TaskError{Key: KeyActionNotFound}
	ErrActionWithoutSubject = &TaskError{Key: KeyActionWithoutSubject}
	ErrTemplateNull         = &TaskError{Key: KeyTemplateNull}
	ErrConvertToNumber      = &TaskError{Key: KeyConvertToNumber}
	ErrConvertToDate        = &TaskError{Key: KeyConvertToDate}
	ErrDateFormat           = &TaskError{Key: KeyDateFormat}
	ErrNoDataProvider       = &TaskError{Key: KeyNoDataProvider}
	ErrObjectNotFound       = &TaskError{Key: KeyObjectNotFound}
	ErrFieldNotFound        = &TaskError{Key: KeyFieldNotFound}
	ErrProviderFailure      = &TaskError{Key: KeyProviderFailure}
	ErrSendFailure          = &TaskError{Key: KeySendFailure}
	ErrInvalidFilter        = &TaskError{Key: KeyInvalidFilter}
	ErrUnexpected           = &TaskError{Key: KeyUnexpected}
)

// AsTaskError returns a copy of the TaskError in err's chain, or wraps a
// foreign error under fallbackKey. The copy may be decorated freely, err
// itself is never modified.
func AsTaskError(err error, fallbackKey string) *TaskError {
	if err == nil {
		return nil
	}
	var te *TaskError
	if errors.As(err, &te) {
		return te.clone()
	}
	return NewTaskError(fallbackKey).Wrap(err)
}

func (e *TaskError) clone() *TaskError {
	c := *e
	if e.Fields != nil {
		c.Fields = make(map[string]string, len(e.Fields))
		for k, v := range e.Fields {
			c.Fields[k] = v
		}
	}
	return &c
}

// MessageKey returns the message key of a TaskError, or "" for other errors
func MessageKey(err error) string {
	var te *TaskError
	if errors.As(err, &te) {
		return te.Key
	}
	return ""
}
