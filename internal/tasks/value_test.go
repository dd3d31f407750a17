package tasks

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueString(t *testing.T) {
	loc := time.FixedZone("", 3600)

	tests := []struct {
		name  string
		value Value
		want  string
	}{
		{"null", Null(), ""},
		{"text", TextValue("hello"), "hello"},
		{"int", IntValue(123456789), "123456789"},
		{"integral float", NumberValue(42), "42"},
		{"float", NumberValue(2.5), "2.5"},
		{"date", DateValue(time.Date(2012, 12, 21, 21, 21, 0, 0, loc)), "2012-12-21 21:21 +0100"},
		{"local date", LocalDateValue(2012, time.November, 20), "2012-11-20"},
		{"collection", CollectionValue(TextValue("a"), IntValue(1)), "a, 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.value.String())
		})
	}
}

func TestValueOf(t *testing.T) {
	v, err := ValueOf(123456789)
	require.NoError(t, err)
	assert.Equal(t, IntValue(123456789), v)

	v, err = ValueOf(json.Number("1.25"))
	require.NoError(t, err)
	n, _ := v.Number()
	assert.Equal(t, 1.25, n)

	v, err = ValueOf([]interface{}{"a", float64(2)})
	require.NoError(t, err)
	assert.Equal(t, KindCollection, v.Kind())
	assert.Len(t, v.Items(), 2)

	v, err = ValueOf(map[string]interface{}{"id": 1})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1}`, v.String())

	_, err = ValueOf(struct{}{})
	assert.Error(t, err)
}

func TestValueJSON(t *testing.T) {
	params := map[string]Value{
		"text":   TextValue("x"),
		"number": IntValue(7),
		"day":    LocalDateValue(2012, time.November, 20),
		"list":   CollectionValue(TextValue("a"), TextValue("b")),
		"none":   Null(),
	}

	raw, err := json.Marshal(params)
	require.NoError(t, err)
	assert.JSONEq(t, `{"text":"x","number":7,"day":"2012-11-20","list":["a","b"],"none":null}`, string(raw))

	var decoded map[string]Value
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, TextValue("x"), decoded["text"])
	assert.Equal(t, IntValue(7), decoded["number"])
	assert.True(t, decoded["none"].IsNull())
	assert.Equal(t, "a, b", decoded["list"].String())

	var obj Value
	require.NoError(t, json.Unmarshal([]byte(`{"nested": true}`), &obj))
	assert.Equal(t, KindText, obj.Kind())
}
