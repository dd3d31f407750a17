package tasks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Kind tags the variant held by a Value
type Kind int

const (
	KindNull Kind = iota
	KindText
	KindNumber
	KindDate
	KindCollection
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindNumber:
		return "number"
	case KindDate:
		return "date"
	case KindCollection:
		return "collection"
	default:
		return "null"
	}
}

const (
	// DateLayout is the wire format for DATE parameters, e.g. "2012-12-21 21:21 +0100"
	DateLayout = "2006-01-02 15:04 -0700"
	// LocalDateLayout renders calendar dates without a time of day
	LocalDateLayout = "2006-01-02"
)

// Value is an event parameter value: text, number, date or a collection of values.
// The zero Value is null.
type Value struct {
	kind     Kind
	text     string
	number   float64
	integer  int64
	isInt    bool
	date     time.Time
	dateOnly bool
	items    []Value
}

// Null returns the null value
func Null() Value { return Value{} }

// TextValue wraps a string
func TextValue(s string) Value { return Value{kind: KindText, text: s} }

// NumberValue wraps a floating point number. Integral values keep their integer form.
func NumberValue(f float64) Value {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return IntValue(int64(f))
	}
	return Value{kind: KindNumber, number: f}
}

// IntValue wraps an integer
func IntValue(i int64) Value {
	return Value{kind: KindNumber, number: float64(i), integer: i, isInt: true}
}

// DateValue wraps an instant
func DateValue(t time.Time) Value { return Value{kind: KindDate, date: t} }

// LocalDateValue wraps a calendar date with no time of day
func LocalDateValue(year int, month time.Month, day int) Value {
	return Value{kind: KindDate, date: time.Date(year, month, day, 0, 0, 0, 0, time.UTC), dateOnly: true}
}

// CollectionValue wraps a list of values
func CollectionValue(items ...Value) Value {
	return Value{kind: KindCollection, items: append([]Value(nil), items...)}
}

// Kind returns the variant tag
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null
func (v Value) IsNull() bool { return v.kind == KindNull }

// Number returns the numeric content
func (v Value) Number() (float64, bool) {
	return v.number, v.kind == KindNumber
}

// Time returns the date content
func (v Value) Time() (time.Time, bool) {
	return v.date, v.kind == KindDate
}

// IsLocalDate reports whether a date value carries no time of day
func (v Value) IsLocalDate() bool { return v.kind == KindDate && v.dateOnly }

// Items returns the elements of a collection
func (v Value) Items() []Value {
	if v.kind != KindCollection {
		return nil
	}
	return v.items
}

// String renders the value as it appears when substituted into text
func (v Value) String() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindNumber:
		if v.isInt {
			return strconv.FormatInt(v.integer, 10)
		}
		return strconv.FormatFloat(v.number, 'f', -1, 64)
	case KindDate:
		if v.dateOnly {
			return v.date.Format(LocalDateLayout)
		}
		return v.date.Format(DateLayout)
	case KindCollection:
		parts := make([]string, len(v.items))
		for i, item := range v.items {
			parts[i] = item.String()
		}
		return strings.Join(parts, ", ")
	default:
		return ""
	}
}

// Interface returns the value as a plain Go value
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindText:
		return v.text
	case KindNumber:
		if v.isInt {
			return v.integer
		}
		return v.number
	case KindDate:
		return v.date
	case KindCollection:
		out := make([]interface{}, len(v.items))
		for i, item := range v.items {
			out[i] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// ValueOf converts a plain Go value into a Value
func ValueOf(x interface{}) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case string:
		return TextValue(t), nil
	case []byte:
		return TextValue(string(t)), nil
	case bool:
		return TextValue(strconv.FormatBool(t)), nil
	case int:
		return IntValue(int64(t)), nil
	case int32:
		return IntValue(int64(t)), nil
	case int64:
		return IntValue(t), nil
	case uint32:
		return IntValue(int64(t)), nil
	case float32:
		return NumberValue(float64(t)), nil
	case float64:
		return NumberValue(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return IntValue(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Null(), fmt.Errorf("invalid number %q: %w", t, err)
		}
		return NumberValue(f), nil
	case time.Time:
		return DateValue(t), nil
	case fmt.Stringer:
		return TextValue(t.String()), nil
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = TextValue(s)
		}
		return CollectionValue(items...), nil
	case []interface{}:
		items := make([]Value, len(t))
		for i, elem := range t {
			item, err := ValueOf(elem)
			if err != nil {
				return Null(), err
			}
			items[i] = item
		}
		return CollectionValue(items...), nil
	case map[string]interface{}:
		raw, err := json.Marshal(t)
		if err != nil {
			return Null(), err
		}
		return TextValue(string(raw)), nil
	default:
		return Null(), fmt.Errorf("unsupported value type %T", x)
	}
}

// MustValueOf is ValueOf for literals known to be convertible
func MustValueOf(x interface{}) Value {
	v, err := ValueOf(x)
	if err != nil {
		panic(err)
	}
	return v
}

// MarshalJSON encodes dates as RFC 3339 strings (calendar dates as yyyy-mm-dd)
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindDate:
		if v.dateOnly {
			return json.Marshal(v.date.Format(LocalDateLayout))
		}
		return json.Marshal(v.date.Format(time.RFC3339Nano))
	case KindCollection:
		return json.Marshal(v.items)
	default:
		return json.Marshal(v.Interface())
	}
}

// UnmarshalJSON decodes any JSON scalar or array. Objects are kept as their JSON text.
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		*v = TextValue(string(trimmed))
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	decoded, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// ValuesOf converts a plain parameter map
func ValuesOf(params map[string]interface{}) (map[string]Value, error) {
	out := make(map[string]Value, len(params))
	for k, raw := range params {
		v, err := ValueOf(raw)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}
