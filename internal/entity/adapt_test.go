package entity

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapt(t *testing.T) {
	t.Run("nil passes through", func(t *testing.T) {
		v, err := Adapt(nil, KindDecimal)
		require.NoError(t, err)
		assert.Nil(t, v)
	})

	t.Run("boolean from string", func(t *testing.T) {
		v, err := Adapt("true", KindBoolean)
		require.NoError(t, err)
		assert.Equal(t, true, v)
	})

	t.Run("boolean from json number", func(t *testing.T) {
		v, err := Adapt(float64(1), KindBoolean)
		require.NoError(t, err)
		assert.Equal(t, true, v)
	})

	t.Run("integer from json number", func(t *testing.T) {
		v, err := Adapt(float64(42), KindInteger)
		require.NoError(t, err)
		assert.Equal(t, int64(42), v)
	})

	t.Run("decimal from string keeps precision", func(t *testing.T) {
		v, err := Adapt("12.340", KindDecimal)
		require.NoError(t, err)
		d, ok := v.(decimal.Decimal)
		require.True(t, ok)
		assert.True(t, d.Equal(decimal.RequireFromString("12.34")))
	})

	t.Run("date from string", func(t *testing.T) {
		v, err := Adapt("2024-03-01", KindDate)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), v)
	})

	t.Run("datetime with offset", func(t *testing.T) {
		v, err := Adapt("2024-03-01T10:30:00Z", KindDateTime)
		require.NoError(t, err)
		ts, ok := v.(time.Time)
		require.True(t, ok)
		assert.True(t, ts.Equal(time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)))
	})

	t.Run("datetime without offset", func(t *testing.T) {
		v, err := Adapt("2024-03-01T10:30:00", KindDateTime)
		require.NoError(t, err)
		_, ok := v.(time.Time)
		assert.True(t, ok)
	})

	t.Run("bad value returns raw with error", func(t *testing.T) {
		v, err := Adapt("not a number", KindInteger)
		assert.Error(t, err)
		assert.Equal(t, "not a number", v)
	})

	t.Run("string kinds pass through", func(t *testing.T) {
		v, err := Adapt("hello", KindString)
		require.NoError(t, err)
		assert.Equal(t, "hello", v)
	})
}

func TestTableName(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"sale.Order", "order"},
		{"sale.OrderLine", "order_line"},
		{"Contact", "contact"},
		{"crm.lead", "lead"},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.Equal(t, tt.want, TableName(tt.model))
		})
	}
}
