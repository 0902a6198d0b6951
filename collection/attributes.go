package collection

import (
	"maps"
	"reflect"
	"slices"

	"github.com/google/go-cmp/cmp"
)

// Attributes is the mutable attribute set of a record, and also the plain
// attribute hash form of a derived record.
type Attributes map[string]any

// exportAll lets Equal look into unexported struct fields instead of panicking.
var exportAll = cmp.Exporter(func(reflect.Type) bool { return true })

// Equal reports whether two attribute values are deeply equal.
func Equal(a, b any) bool {
	return cmp.Equal(a, b, exportAll)
}

// Clone returns a shallow copy of the attributes.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return Attributes{}
	}

	return maps.Clone(a)
}

// Keys returns the attribute names in sorted order.
func (a Attributes) Keys() []string {
	return slices.Sorted(maps.Keys(a))
}

// Changed returns the entries of diff whose value differs from the value held
// by a, treating an absent attribute as different from any value. It returns
// nil when nothing differs.
func (a Attributes) Changed(diff Attributes) Attributes {
	var changed Attributes
	for key, value := range diff {
		current, ok := a[key]
		if ok && Equal(current, value) {
			continue
		}
		if changed == nil {
			changed = Attributes{}
		}
		changed[key] = value
	}

	return changed
}

// Matches reports whether a holds every attribute of matcher with an equal value.
func (a Attributes) Matches(matcher Attributes) bool {
	for key, want := range matcher {
		got, ok := a[key]
		if !ok || !Equal(got, want) {
			return false
		}
	}

	return true
}
