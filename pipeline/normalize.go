package pipeline

import (
	"encoding/json"
	"math"

	"github.com/smartcontractkit/collection-views/collection"
)

// normalize walks a decoded document (maps, slices and scalars) and rewrites
// numbers so that the same value compares equal whatever the input format:
// integers of any width and integral floats become int64, other numbers
// float64. Maps and slices are rewritten in place.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		for k, vv := range x {
			x[k] = normalize(vv)
		}

		return x

	case collection.Attributes:
		for k, vv := range x {
			x[k] = normalize(vv)
		}

		return x

	case []map[string]any:
		for i := range x {
			x[i] = normalize(x[i]).(map[string]any)
		}

		return x

	case []any:
		for i := range x {
			x[i] = normalize(x[i])
		}

		return x

	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return normalizeFloat(f)
		}

		return x.String()

	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint:
		return normalizeUint(uint64(x))
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return normalizeUint(x)
	case float32:
		return normalizeFloat(float64(x))
	case float64:
		return normalizeFloat(x)

	default:
		return v
	}
}

func normalizeUint(u uint64) any {
	if u > math.MaxInt64 {
		return float64(u)
	}

	return int64(u)
}

func normalizeFloat(f float64) any {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return int64(f)
	}

	return f
}

// normalizeAttributes returns a normalized copy of attrs as collection.Attributes.
func normalizeAttributes(attrs map[string]any) collection.Attributes {
	out := collection.Attributes(attrs).Clone()
	normalize(out)

	return out
}
