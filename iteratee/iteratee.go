// Package iteratee turns the shorthands accepted by views into canonical
// predicates and mappers.
//
// A function is used as is and receives the whole record. Every other form is a
// shorthand that only sees a snapshot of the record's attributes:
//
//   - a string names a property,
//   - a []string is a property path into nested attribute maps,
//   - a collection.Attributes or map[string]any is an attribute matcher.
package iteratee

import (
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/smartcontractkit/collection-views/collection"
)

var ErrUnsupportedIteratee = errors.New("unsupported iteratee")

// Mapper converts a record into a derived value, usually a collection.Attributes
// hash or a *collection.Record.
type Mapper func(*collection.Record) (any, error)

// Predicate normalizes criterion into a record predicate. Property shorthands
// test the truthiness of the property value.
func Predicate(criterion any) (collection.Predicate, error) {
	switch c := criterion.(type) {
	case collection.Predicate:
		if c == nil {
			return nil, fmt.Errorf("%w: nil predicate", ErrUnsupportedIteratee)
		}

		return c, nil
	case func(*collection.Record) bool:
		if c == nil {
			return nil, fmt.Errorf("%w: nil predicate", ErrUnsupportedIteratee)
		}

		return c, nil
	}

	get, err := shorthand(criterion)
	if err != nil {
		return nil, err
	}

	return func(r *collection.Record) bool {
		return truthy(get(r.Attributes()))
	}, nil
}

// NewMapper normalizes conversion into a Mapper.
func NewMapper(conversion any) (Mapper, error) {
	switch c := conversion.(type) {
	case Mapper:
		if c != nil {
			return c, nil
		}
	case func(*collection.Record) (any, error):
		if c != nil {
			return c, nil
		}
	case func(*collection.Record) any:
		if c != nil {
			return func(r *collection.Record) (any, error) { return c(r), nil }, nil
		}
	case func(*collection.Record) collection.Attributes:
		if c != nil {
			return func(r *collection.Record) (any, error) { return c(r), nil }, nil
		}
	case func(*collection.Record) map[string]any:
		if c != nil {
			return func(r *collection.Record) (any, error) { return c(r), nil }, nil
		}
	case func(*collection.Record) *collection.Record:
		if c != nil {
			return func(r *collection.Record) (any, error) { return c(r), nil }, nil
		}
	case func(*collection.Record) (*collection.Record, error):
		if c != nil {
			return func(r *collection.Record) (any, error) { return c(r) }, nil
		}
	default:
		get, err := shorthand(conversion)
		if err != nil {
			return nil, err
		}

		return func(r *collection.Record) (any, error) {
			return get(r.Attributes()), nil
		}, nil
	}

	return nil, fmt.Errorf("%w: nil mapper", ErrUnsupportedIteratee)
}

// shorthand resolves the attribute-only forms.
func shorthand(v any) (func(collection.Attributes) any, error) {
	switch s := v.(type) {
	case string:
		if s == "" {
			return nil, fmt.Errorf("%w: empty property name", ErrUnsupportedIteratee)
		}

		return Property(s), nil
	case []string:
		if len(s) == 0 {
			return nil, fmt.Errorf("%w: empty property path", ErrUnsupportedIteratee)
		}

		return Property(s...), nil
	case collection.Attributes:
		return Matcher(s), nil
	case map[string]any:
		return Matcher(s), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedIteratee, v)
	}
}

// Property returns a function reading the value at path, descending through
// nested attribute maps. Missing steps yield nil.
func Property(path ...string) func(collection.Attributes) any {
	return func(attrs collection.Attributes) any {
		var current any = attrs
		for _, key := range path {
			switch m := current.(type) {
			case collection.Attributes:
				current = m[key]
			case map[string]any:
				current = m[key]
			default:
				return nil
			}
		}

		return current
	}
}

// Matcher returns a function reporting whether the attributes hold every
// entry of matcher.
func Matcher(matcher collection.Attributes) func(collection.Attributes) any {
	matcher = matcher.Clone()
	return func(attrs collection.Attributes) any {
		return attrs.Matches(matcher)
	}
}

// truthy follows the usual scripting notion: nil, false, zero numbers, NaN
// and empty strings are false, everything else is true.
func truthy(v any) bool {
	if v == nil {
		return false
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Bool:
		return rv.Bool()
	case reflect.String:
		return rv.Len() > 0
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return !rv.IsZero()
	case reflect.Float32, reflect.Float64:
		return rv.Float() != 0 && !math.IsNaN(rv.Float())
	case reflect.Pointer, reflect.Interface:
		return !rv.IsNil()
	default:
		return true
	}
}
