package collection

import "errors"

var (
	// ErrNoComparator is returned by Sort when the collection has no comparator.
	ErrNoComparator = errors.New("cannot sort a collection without a comparator")
	// ErrNilRecord is returned when a nil record is passed to a mutation.
	ErrNilRecord = errors.New("record must not be nil")
)
