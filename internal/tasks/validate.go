package tasks

import (
	"fmt"

	"task-router/internal/common/validation"
)

// ValidateTaskEvent checks a trigger or action definition before it is stored
func ValidateTaskEvent(event *TaskEvent) error {
	v := validation.NewValidatorWithPrefix("event")
	v.RequireString(event.Subject, "subject")

	seen := make(map[string]bool, len(event.Parameters))
	for i, p := range event.Parameters {
		name := fmt.Sprintf("eventParameters[%d]", i)
		v.RequireString(p.Key, name+".eventKey")
		if p.Type != "" && !p.Type.Valid() {
			v.RequireOneOf(string(p.Type), []string{"TEXT", "TEXTAREA", "NUMBER", "DATE"}, name+".type")
		}
		if seen[p.Key] {
			v.Validate(func() error { return fmt.Errorf("duplicate parameter key %q", p.Key) })
		}
		seen[p.Key] = true
	}
	return v.Error()
}

// ValidateTask checks a task against its trigger definition. Filters may
// only reference parameters the trigger declares.
func ValidateTask(task *Task, trigger *TaskEvent) error {
	v := validation.NewValidatorWithPrefix("task")
	v.RequireStruct(task)

	if trigger != nil && trigger.Subject != task.Trigger {
		v.Validate(func() error {
			return fmt.Errorf("trigger %q does not match task trigger %q", trigger.Subject, task.Trigger)
		})
	}

	for i, f := range task.Filters {
		if _, ok := ParseOperator(string(f.Operator)); !ok {
			v.RequireOneOf(string(f.Operator), []string{"CONTAINS", "EXIST", "EQUALS", "STARTSWITH", "ENDSWITH", "GT", "LT"},
				fmt.Sprintf("filters[%d].operator", i))
		}
		if trigger == nil {
			continue
		}
		if _, ok := trigger.Parameter(f.Parameter.Key); !ok {
			key := f.Parameter.Key
			v.Validate(func() error {
				return fmt.Errorf("filter %d references unknown trigger parameter %q", i, key)
			})
		}
	}

	for provider, decls := range task.AdditionalData {
		v.RequireString(provider, "additionalData provider")
		for _, ad := range decls {
			v.RequireString(ad.Type, "additionalData.type")
			v.RequireString(ad.LookupField, "additionalData.lookupField")
		}
	}
	return v.Error()
}
