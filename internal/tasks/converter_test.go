package tasks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToNumber(t *testing.T) {
	tests := []struct {
		input   string
		want    string
		wantErr bool
	}{
		{input: "123456", want: "123456"},
		{input: "  42 ", want: "42"},
		{input: "-7", want: "-7"},
		{input: "3.25", want: "3.25"},
		{input: "1e3", want: "1000"},
		{input: "1234   d", wantErr: true},
		{input: "12a", wantErr: true},
		{input: "", wantErr: true},
		{input: "   ", wantErr: true},
		{input: "NaN", wantErr: true},
		{input: "Inf", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			v, err := ToNumber(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.Equal(t, KeyConvertToNumber, MessageKey(err))
				assert.True(t, v.IsNull())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, KindNumber, v.Kind())
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestToDate(t *testing.T) {
	v, err := ToDate("2012-12-21 21:21 +0100")
	require.NoError(t, err)

	got, ok := v.Time()
	require.True(t, ok)
	want := time.Date(2012, 12, 21, 20, 21, 0, 0, time.UTC)
	assert.True(t, want.Equal(got), "got %s", got)

	for _, bad := range []string{"234543fgf", "2012-12-21", "21/12/2012 21:21 +0100", ""} {
		_, err := ToDate(bad)
		require.Error(t, err, bad)
		assert.Equal(t, KeyConvertToDate, MessageKey(err), bad)
	}
}

func TestConvert(t *testing.T) {
	t.Run("text passes through", func(t *testing.T) {
		v, err := Convert(TextValue("1234   d"), TypeText)
		require.NoError(t, err)
		assert.Equal(t, TextValue("1234   d"), v)

		v, err = Convert(IntValue(5), TypeTextArea)
		require.NoError(t, err)
		assert.Equal(t, KindNumber, v.Kind())
	})

	t.Run("number from text", func(t *testing.T) {
		v, err := Convert(TextValue("123456"), TypeNumber)
		require.NoError(t, err)
		n, ok := v.Number()
		require.True(t, ok)
		assert.Equal(t, float64(123456), n)
	})

	t.Run("number already numeric", func(t *testing.T) {
		in := NumberValue(1.5)
		v, err := Convert(in, TypeNumber)
		require.NoError(t, err)
		assert.Equal(t, in, v)
	})

	t.Run("date from text", func(t *testing.T) {
		v, err := Convert(TextValue("2012-12-21 21:21 +0100"), TypeDate)
		require.NoError(t, err)
		assert.Equal(t, KindDate, v.Kind())
	})

	t.Run("date already a date", func(t *testing.T) {
		in := LocalDateValue(2012, time.November, 20)
		v, err := Convert(in, TypeDate)
		require.NoError(t, err)
		assert.Equal(t, in, v)
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := Convert(TextValue("234543fgf"), TypeDate)
		assert.ErrorIs(t, err, ErrConvertToDate)

		_, err = Convert(TextValue("1234   d"), TypeNumber)
		assert.ErrorIs(t, err, ErrConvertToNumber)
	})

	t.Run("null stays null", func(t *testing.T) {
		v, err := Convert(Null(), TypeNumber)
		require.NoError(t, err)
		assert.True(t, v.IsNull())
	})
}

func TestAsDateLenient(t *testing.T) {
	v, err := asDate(TextValue("2012-11-20"))
	require.NoError(t, err)
	assert.True(t, v.IsLocalDate())
	assert.Equal(t, "2012-11-20", v.String())

	v, err = asDate(TextValue("2012-11-20T10:00:00Z"))
	require.NoError(t, err)
	assert.False(t, v.IsLocalDate())

	_, err = asDate(TextValue("tomorrow"))
	assert.ErrorIs(t, err, ErrConvertToDate)
}
