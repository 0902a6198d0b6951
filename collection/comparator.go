package collection

import (
	"cmp"
	"fmt"
	"strings"
)

// Comparator orders records. It returns a negative number when a sorts before
// b, a positive number when a sorts after b and zero when their order is kept.
type Comparator func(a, b *Record) int

// CompareBy orders records by the value of attr. Absent and nil values sort
// first, numbers compare numerically regardless of their Go type, strings
// compare lexically and anything else compares by its formatted value.
func CompareBy(attr string) Comparator {
	return func(a, b *Record) int {
		return CompareValues(a.Get(attr), b.Get(attr))
	}
}

// Descending reverses c.
func Descending(c Comparator) Comparator {
	return func(a, b *Record) int {
		return c(b, a)
	}
}

// ParseComparator turns "attr" or "-attr" into an ascending or descending
// CompareBy comparator. An empty expr yields nil.
func ParseComparator(expr string) Comparator {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil
	}
	if attr, ok := strings.CutPrefix(expr, "-"); ok {
		return Descending(CompareBy(attr))
	}

	return CompareBy(expr)
}

// CompareValues compares two attribute values using the rules of CompareBy.
func CompareValues(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}

	if x, ok := toFloat(a); ok {
		if y, ok := toFloat(b); ok {
			return cmp.Compare(x, y)
		}
	}
	if x, ok := a.(string); ok {
		if y, ok := b.(string); ok {
			return strings.Compare(x, y)
		}
	}
	if x, ok := a.(bool); ok {
		if y, ok := b.(bool); ok {
			switch {
			case x == y:
				return 0
			case !x:
				return -1
			default:
				return 1
			}
		}
	}

	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
