package postgres

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/ekaya-replica/pkg/models"
)

// timeLayouts are tried in order for textual dates and timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// coerceValue converts a source driver value into one COPY can encode in
// binary form for the replica column type.
func coerceValue(v any, dt models.DataType) (any, error) {
	if valuer, ok := v.(driver.Valuer); ok {
		inner, err := valuer.Value()
		if err != nil {
			return nil, err
		}
		v = inner
	}
	if v == nil {
		return nil, nil
	}

	switch dt {
	case models.DataTypeInteger:
		return toInt64(v)
	case models.DataTypeDouble:
		return toFloat64(v)
	case models.DataTypeBoolean:
		return toBool(v)
	case models.DataTypeDate, models.DataTypeTimestamp, models.DataTypeTimestampTZ:
		return toTime(v)
	case models.DataTypeJSON, models.DataTypeObject, models.DataTypeArray:
		return toJSON(v)
	case models.DataTypeBinary:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return []byte(x), nil
		}
		return nil, fmt.Errorf("cannot load %T as binary", v)
	default:
		return toText(v), nil
	}
}

func toInt64(v any) (any, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case float64:
		return floatToInt64(x)
	case string:
		return parseInteger(x)
	case []byte:
		return parseInteger(string(x))
	}
	return nil, fmt.Errorf("cannot load %T as integer", v)
}

// parseInteger accepts "42" and integral decimals such as "42.000".
func parseInteger(s string) (any, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) {
		return nil, fmt.Errorf("%q is not an integer", s)
	}
	return floatToInt64(f)
}

// floatToInt64 rejects fractional and out-of-range values instead of
// letting the conversion truncate or wrap.
func floatToInt64(f float64) (any, error) {
	if f != math.Trunc(f) {
		return nil, fmt.Errorf("%v is not an integer", f)
	}
	if f < -(1<<63) || f >= 1<<63 {
		return nil, fmt.Errorf("%v is out of range for a 64-bit integer", f)
	}
	return int64(f), nil
}

func toFloat64(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	case []byte:
		return strconv.ParseFloat(strings.TrimSpace(string(x)), 64)
	}
	return nil, fmt.Errorf("cannot load %T as double", v)
}

func toBool(v any) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case int64:
		return x != 0, nil
	case int:
		return x != 0, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(x))
	}
	return nil, fmt.Errorf("cannot load %T as boolean", v)
}

func toTime(v any) (any, error) {
	var s string
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case string:
		s = x
	case []byte:
		s = string(x)
	default:
		return nil, fmt.Errorf("cannot load %T as a timestamp", v)
	}
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized timestamp %q", s)
}

// toJSON returns raw JSON bytes. Textual values are assumed to already be
// JSON documents, which is how semi-structured columns arrive from drivers.
func toJSON(v any) (any, error) {
	switch x := v.(type) {
	case []byte:
		if !json.Valid(x) {
			return nil, fmt.Errorf("invalid JSON document")
		}
		return x, nil
	case string:
		if !json.Valid([]byte(x)) {
			return nil, fmt.Errorf("invalid JSON document")
		}
		return []byte(x), nil
	}
	return json.Marshal(v)
}

func toText(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case [16]byte:
		return uuid.UUID(x).String()
	case time.Time:
		return x.Format(time.RFC3339Nano)
	}
	return fmt.Sprint(v)
}
