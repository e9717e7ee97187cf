package entity

import (
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Adapt coerces a raw value (typically JSON-decoded, so numbers arrive as
// float64 and timestamps as strings) into the in-memory type matching the
// given kind. Adaptation is forgiving: when a value cannot be converted the
// raw value is returned together with the conversion error, so a single bad
// field never aborts a whole notification build.
func Adapt(raw any, kind Kind) (any, error) {
	if raw == nil {
		return nil, nil
	}

	switch kind {
	case KindBoolean:
		return adaptBool(raw)
	case KindInteger:
		return adaptInt(raw)
	case KindDecimal:
		return adaptDecimal(raw)
	case KindDate:
		return adaptTime(raw, dateLayout)
	case KindDateTime:
		return adaptTime(raw, time.RFC3339)
	default:
		return raw, nil
	}
}

func adaptBool(raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string:
		b, err := strconv.ParseBool(v)
		if err != nil {
			return raw, fmt.Errorf("adapt boolean %q: %w", v, err)
		}
		return b, nil
	case float64:
		return v != 0, nil
	case int64:
		return v != 0, nil
	}
	return raw, fmt.Errorf("adapt boolean: unsupported type %T", raw)
}

func adaptInt(raw any) (any, error) {
	switch v := raw.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return raw, fmt.Errorf("adapt integer %q: %w", v, err)
		}
		return n, nil
	}
	return raw, fmt.Errorf("adapt integer: unsupported type %T", raw)
}

func adaptDecimal(raw any) (any, error) {
	switch v := raw.(type) {
	case decimal.Decimal:
		return v, nil
	case float64:
		return decimal.NewFromFloat(v), nil
	case int64:
		return decimal.NewFromInt(v), nil
	case int:
		return decimal.NewFromInt(int64(v)), nil
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return raw, fmt.Errorf("adapt decimal %q: %w", v, err)
		}
		return d, nil
	}
	return raw, fmt.Errorf("adapt decimal: unsupported type %T", raw)
}

func adaptTime(raw any, layout string) (any, error) {
	switch v := raw.(type) {
	case time.Time:
		return v, nil
	case string:
		if t, err := time.Parse(layout, v); err == nil {
			return t, nil
		}
		// datetime values may come with or without offset
		if t, err := time.Parse("2006-01-02T15:04:05", v); err == nil {
			return t, nil
		}
		if t, err := time.Parse(dateLayout, v); err == nil {
			return t, nil
		}
		return raw, fmt.Errorf("adapt time: unparseable value %q", v)
	}
	return raw, fmt.Errorf("adapt time: unsupported type %T", raw)
}
