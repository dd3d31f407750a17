package tasks

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// ToNumber parses s strictly: surrounding blanks are ignored, any other
// trailing or embedded content is rejected.
func ToNumber(s string) (Value, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Null(), NewTaskError(KeyConvertToNumber, "value", s)
	}

	if i, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return IntValue(i), nil
	}

	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return Null(), NewTaskError(KeyConvertToNumber, "value", s)
	}
	return NumberValue(f), nil
}

// ToDate parses s against DateLayout
func ToDate(s string) (Value, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Null(), NewTaskError(KeyConvertToDate, "value", s).Wrap(err)
	}
	return DateValue(t), nil
}

// Convert coerces v to the declared parameter type. Values already of the
// declared kind pass through unchanged, TEXT and TEXTAREA never convert.
func Convert(v Value, t ParameterType) (Value, error) {
	if v.IsNull() {
		return v, nil
	}

	switch t {
	case TypeNumber:
		if v.Kind() == KindNumber {
			return v, nil
		}
		return ToNumber(v.String())
	case TypeDate:
		if v.Kind() == KindDate {
			return v, nil
		}
		return ToDate(v.String())
	default:
		return v, nil
	}
}

// dateLayouts are accepted when a date manipulation or filter meets a text value
var dateLayouts = []string{
	DateLayout,
	time.RFC3339Nano,
	LocalDateLayout + " 15:04",
	LocalDateLayout,
}

// asDate interprets v as a date, accepting text in any of dateLayouts
func asDate(v Value) (Value, error) {
	if v.Kind() == KindDate {
		return v, nil
	}

	s := strings.TrimSpace(v.String())
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if layout == LocalDateLayout {
				return LocalDateValue(t.Year(), t.Month(), t.Day()), nil
			}
			return DateValue(t), nil
		}
	}
	return Null(), NewTaskError(KeyConvertToDate, "value", v.String())
}
