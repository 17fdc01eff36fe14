package entities

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/fuelrats/rescue-api-go/convert"
	"github.com/google/uuid"
)

const (
	// rescueTimeLayout is used for rescue-level timestamps.
	rescueTimeLayout = "2006-01-02T15:04:05.000000Z"
	// quoteTimeLayout is used for quotation timestamps, which carry no zone suffix.
	quoteTimeLayout = "2006-01-02T15:04:05.000000"
)

func toString(_ context.Context, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("expected string, got %T", v)
	}
	return s, nil
}

func toBool(_ context.Context, v any) (any, error) {
	b, ok := v.(bool)
	if !ok {
		return nil, fmt.Errorf("expected bool, got %T", v)
	}
	return b, nil
}

func toInt(_ context.Context, v any) (any, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int64ToInt(n)
	case float64:
		if n != math.Trunc(n) {
			return nil, fmt.Errorf("expected integer, got %v", n)
		}
		if n < math.MinInt || n >= math.MaxInt {
			return nil, fmt.Errorf("integer %v out of range", n)
		}
		return int(n), nil
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return nil, err
		}
		return int64ToInt(i)
	default:
		return nil, fmt.Errorf("expected number, got %T", v)
	}
}

func int64ToInt(n int64) (any, error) {
	if n < math.MinInt || n > math.MaxInt {
		return nil, fmt.Errorf("integer %d out of range", n)
	}
	return int(n), nil
}

func toUUID(_ context.Context, v any) (any, error) {
	switch id := v.(type) {
	case uuid.UUID:
		return id, nil
	case string:
		return uuid.Parse(id)
	default:
		return nil, fmt.Errorf("expected uuid string, got %T", v)
	}
}

// fromUUID sanitizes identifiers for the wire; strings pass through so
// search criteria may use either form.
func fromUUID(_ context.Context, v any) (any, error) {
	switch id := v.(type) {
	case nil:
		return nil, nil
	case uuid.UUID:
		return id.String(), nil
	case string:
		return id, nil
	default:
		return nil, fmt.Errorf("expected uuid, got %T", v)
	}
}

func toStrings(_ context.Context, v any) (any, error) {
	list, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss, nil
		}
		return nil, fmt.Errorf("expected list, got %T", v)
	}
	out := make([]string, 0, len(list))
	for i, item := range list {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("item %d: expected string, got %T", i, item)
		}
		out = append(out, s)
	}
	return out, nil
}

func timeDecoder(layout string) convert.Transform {
	return func(_ context.Context, v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected timestamp string, got %T", v)
		}
		t, err := time.Parse(layout, s)
		if err != nil {
			if t2, err2 := time.Parse(time.RFC3339Nano, s); err2 == nil {
				return t2.UTC(), nil
			}
			return nil, err
		}
		return t, nil
	}
}

func timeEncoder(layout string) convert.Transform {
	return func(_ context.Context, v any) (any, error) {
		switch t := v.(type) {
		case nil:
			return nil, nil
		case time.Time:
			return t.UTC().Format(layout), nil
		default:
			return nil, fmt.Errorf("expected time.Time, got %T", v)
		}
	}
}

// stringer sanitizes string-kinded enums for the wire.
func stringer[T ~string](_ context.Context, v any) (any, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case T:
		return string(s), nil
	case string:
		return s, nil
	default:
		return nil, fmt.Errorf("expected %T, got %T", *new(T), v)
	}
}
