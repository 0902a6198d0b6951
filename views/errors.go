package views

import "errors"

var (
	// ErrNilSource is returned when a view is created without a source.
	ErrNilSource = errors.New("view source is nil")
	// ErrMalformedConversion is returned when a conversion yields neither an
	// attribute hash nor a record.
	ErrMalformedConversion = errors.New("conversion result is neither an attribute hash nor a record")
	// ErrNoCorrespondence is returned when a mapped view tracks no derived
	// record for a source record.
	ErrNoCorrespondence = errors.New("no corresponding record is tracked for the source record")
	// ErrNotInjective is returned when two source records convert to the same
	// record or to records with the same id.
	ErrNotInjective = errors.New("conversion maps more than one source record to the same record")
)
