// Package tasks implements the trigger/action engine: tasks bind a trigger
// event to an action event, optionally gated by filters and enriched through
// data providers. For every inbound event the engine finds the matching
// tasks, renders each action field template, converts it to the declared
// parameter type, hands the action event to the relay and records the
// outcome on the task's activity log.
package tasks

import (
	"strings"
	"time"
)

// ParameterType is the declared type of an event parameter
type ParameterType string

const (
	TypeText     ParameterType = "TEXT"
	TypeTextArea ParameterType = "TEXTAREA"
	TypeNumber   ParameterType = "NUMBER"
	TypeDate     ParameterType = "DATE"
)

// Valid reports whether t is one of the known parameter types
func (t ParameterType) Valid() bool {
	switch t {
	case TypeText, TypeTextArea, TypeNumber, TypeDate:
		return true
	}
	return false
}

// EventParameter describes one entry of an event's parameter mapping
type EventParameter struct {
	// DisplayName is the human readable label
	DisplayName string `json:"displayName"`

	// Key is the name under which the value appears in the event parameters
	Key string `json:"eventKey" validate:"required"`

	// Type is the declared type, TEXT when empty
	Type ParameterType `json:"type,omitempty"`
}

// ParameterType returns the declared type, defaulting to TEXT
func (p EventParameter) ParameterType() ParameterType {
	if p.Type == "" {
		return TypeText
	}
	return p.Type
}

// TaskEvent is a trigger or action definition
type TaskEvent struct {
	Subject     string           `json:"subject"`
	DisplayName string           `json:"displayName,omitempty"`
	Description string           `json:"description,omitempty"`
	Parameters  []EventParameter `json:"eventParameters"`
}

// Parameter returns the parameter declared under key
func (e *TaskEvent) Parameter(key string) (EventParameter, bool) {
	for _, p := range e.Parameters {
		if p.Key == key {
			return p, true
		}
	}
	return EventParameter{}, false
}

// Keys returns the parameter keys an event for this definition carries, in declaration order
func (e *TaskEvent) Keys() []string {
	keys := make([]string, len(e.Parameters))
	for i, p := range e.Parameters {
		keys[i] = p.Key
	}
	return keys
}

// Operator is a filter comparison
type Operator string

const (
	OpContains   Operator = "CONTAINS"
	OpExist      Operator = "EXIST"
	OpEquals     Operator = "EQUALS"
	OpStartsWith Operator = "STARTSWITH"
	OpEndsWith   Operator = "ENDSWITH"
	OpGT         Operator = "GT"
	OpLT         Operator = "LT"
)

// ParseOperator parses an operator name case-insensitively
func ParseOperator(s string) (Operator, bool) {
	op := Operator(strings.ToUpper(strings.TrimSpace(s)))
	switch op {
	case OpContains, OpExist, OpEquals, OpStartsWith, OpEndsWith, OpGT, OpLT:
		return op, true
	}
	return "", false
}

// Filter is a predicate over one trigger parameter
type Filter struct {
	Parameter  EventParameter `json:"eventParameter"`
	Negate     bool           `json:"negationOperator"`
	Operator   Operator       `json:"operator" validate:"required"`
	Expression string         `json:"expression"`
}

// AdditionalData declares one external lookup. Declarations sharing an ID
// under the same provider form a single lookup whose fields are built from
// every declaration in the group.
type AdditionalData struct {
	ID          int64  `json:"id"`
	Type        string `json:"type" validate:"required"`
	LookupField string `json:"lookupField" validate:"required"`
	LookupValue string `json:"lookupValue" validate:"required"`
}

// Task binds a trigger event to an action event
type Task struct {
	ID          string `json:"id"`
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`

	// Trigger is the subject of the trigger TaskEvent
	Trigger string `json:"trigger" validate:"required"`

	// Action is the subject of the action TaskEvent
	Action string `json:"action" validate:"required"`

	// ActionInputFields maps action parameter keys to raw templates
	ActionInputFields map[string]string `json:"actionInputFields"`

	Filters []Filter `json:"filters,omitempty"`

	// AdditionalData groups lookup declarations by provider name
	AdditionalData map[string][]AdditionalData `json:"additionalData,omitempty"`

	Enabled bool `json:"enabled"`
}

// Clone returns a deep copy of the task
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	c := *t
	if t.ActionInputFields != nil {
		c.ActionInputFields = make(map[string]string, len(t.ActionInputFields))
		for k, v := range t.ActionInputFields {
			c.ActionInputFields[k] = v
		}
	}
	c.Filters = append([]Filter(nil), t.Filters...)
	if t.AdditionalData != nil {
		c.AdditionalData = make(map[string][]AdditionalData, len(t.AdditionalData))
		for k, v := range t.AdditionalData {
			c.AdditionalData[k] = append([]AdditionalData(nil), v...)
		}
	}
	return &c
}

// Event is an inbound trigger or an outbound action
type Event struct {
	ID         string           `json:"id,omitempty"`
	Subject    string           `json:"subject"`
	Parameters map[string]Value `json:"parameters"`
}

// ActivityType is the outcome kind of one task execution
type ActivityType string

const (
	ActivitySuccess ActivityType = "SUCCESS"
	ActivityWarning ActivityType = "WARNING"
	ActivityError   ActivityType = "ERROR"
)

// Activity is an immutable log entry for one task execution
type Activity struct {
	ID         string            `json:"id"`
	TaskID     string            `json:"task"`
	Type       ActivityType      `json:"activityType"`
	MessageKey string            `json:"message"`
	Fields     map[string]string `json:"fields,omitempty"`

	// Parameters snapshots the trigger parameters of a failed run so it can be retried
	Parameters map[string]Value `json:"parameters,omitempty"`

	Timestamp time.Time `json:"date"`
}

const (
	// MessageKeySuccess is recorded on SUCCESS activities
	MessageKeySuccess = "task.success.ok"
	// MessageKeyDisabled is recorded on the WARNING emitted by auto-disable
	MessageKeyDisabled = "task.warning.taskDisabled"
)
