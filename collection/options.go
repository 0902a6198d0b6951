package collection

// Options is the options bag carried by every mutation and by the events it
// causes, so that listeners can see how the mutation was requested.
type Options struct {
	// At requests insertion at a specific position. Nil appends, or sorts when
	// the collection has a comparator.
	At *int
	// NoSort suppresses the automatic sort after an insertion.
	NoSort bool
	// Silent suppresses all events.
	Silent bool
	// Unset removes the given attributes instead of setting them.
	Unset bool
}

// WithAt returns a copy of o that inserts at index.
func (o Options) WithAt(index int) Options {
	o.At = &index
	return o
}

// WithoutAt returns a copy of o without an explicit position.
func (o Options) WithoutAt() Options {
	o.At = nil
	return o
}
