package views

import "github.com/smartcontractkit/collection-views/collection"

// HasUnderlying is implemented by views that can report the innermost
// non-derived collection they ultimately observe.
type HasUnderlying interface {
	Underlying() collection.Source
}

// innermost resolves one hop: when direct is itself a view it exposes its own
// innermost source, otherwise direct is the innermost source.
func innermost(direct collection.Source) collection.Source {
	if view, ok := direct.(HasUnderlying); ok {
		if deeper := view.Underlying(); deeper != nil {
			return deeper
		}
	}

	return direct
}
