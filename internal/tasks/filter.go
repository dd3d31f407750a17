package tasks

import (
	"strings"
	"time"
)

// FilterEvaluator decides whether a task's filters accept a trigger event
type FilterEvaluator struct{}

// NewFilterEvaluator creates a filter evaluator
func NewFilterEvaluator() *FilterEvaluator {
	return &FilterEvaluator{}
}

// compiledFilter carries the expression pre-parsed for the parameter type
type compiledFilter struct {
	filter    *Filter
	paramType ParameterType
	number    float64
	date      time.Time
}

// Evaluate returns true when every filter of the task passes. An empty
// filter list passes. Conversion failures are returned as TaskErrors.
func (fe *FilterEvaluator) Evaluate(task *Task, params map[string]Value) (bool, error) {
	for i := range task.Filters {
		compiled, err := fe.compile(&task.Filters[i])
		if err != nil {
			return false, err
		}

		result, err := fe.evaluateCompiled(compiled, params)
		if err != nil {
			return false, err
		}

		if compiled.filter.Negate {
			result = !result
		}
		if !result {
			return false, nil
		}
	}
	return true, nil
}

func (fe *FilterEvaluator) compile(filter *Filter) (*compiledFilter, error) {
	compiled := &compiledFilter{
		filter:    filter,
		paramType: filter.Parameter.ParameterType(),
	}

	switch filter.Operator {
	case OpExist, OpContains, OpStartsWith, OpEndsWith:
		return compiled, nil
	case OpEquals:
		if compiled.paramType == TypeText || compiled.paramType == TypeTextArea {
			return compiled, nil
		}
	case OpGT, OpLT:
	default:
		return nil, NewTaskError(KeyInvalidFilter, "filter", filter.Parameter.Key, "operator", string(filter.Operator))
	}

	if compiled.paramType == TypeDate {
		d, err := asDate(TextValue(filter.Expression))
		if err != nil {
			return nil, AsTaskError(err, KeyConvertToDate).With("filter", filter.Parameter.Key)
		}
		compiled.date, _ = d.Time()
		return compiled, nil
	}

	n, err := ToNumber(filter.Expression)
	if err != nil {
		return nil, AsTaskError(err, KeyConvertToNumber).With("filter", filter.Parameter.Key)
	}
	compiled.number, _ = n.Number()
	return compiled, nil
}

func (fe *FilterEvaluator) evaluateCompiled(c *compiledFilter, params map[string]Value) (bool, error) {
	value, present := params[c.filter.Parameter.Key]
	present = present && !value.IsNull()

	if c.filter.Operator == OpExist {
		return present, nil
	}
	if !present {
		return false, nil
	}

	switch c.filter.Operator {
	case OpContains:
		return strings.Contains(value.String(), c.filter.Expression), nil
	case OpStartsWith:
		return strings.HasPrefix(value.String(), c.filter.Expression), nil
	case OpEndsWith:
		return strings.HasSuffix(value.String(), c.filter.Expression), nil
	case OpEquals:
		if c.paramType == TypeText || c.paramType == TypeTextArea {
			return value.String() == c.filter.Expression, nil
		}
	}

	if c.paramType == TypeDate {
		d, err := asDate(value)
		if err != nil {
			return false, AsTaskError(err, KeyConvertToDate).With("filter", c.filter.Parameter.Key)
		}
		t, _ := d.Time()
		return fe.evaluateDateComparison(t, c.filter.Operator, c.date), nil
	}

	n, err := Convert(value, TypeNumber)
	if err != nil {
		return false, AsTaskError(err, KeyConvertToNumber).With("filter", c.filter.Parameter.Key)
	}
	f, _ := n.Number()
	return fe.evaluateNumericComparison(f, c.filter.Operator, c.number), nil
}

func (fe *FilterEvaluator) evaluateNumericComparison(value float64, op Operator, compare float64) bool {
	switch op {
	case OpGT:
		return value > compare
	case OpLT:
		return value < compare
	default:
		return value == compare
	}
}

func (fe *FilterEvaluator) evaluateDateComparison(value time.Time, op Operator, compare time.Time) bool {
	switch op {
	case OpGT:
		return value.After(compare)
	case OpLT:
		return value.Before(compare)
	default:
		return value.Equal(compare)
	}
}
