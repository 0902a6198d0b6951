package collection

import (
	"encoding/json"
	"maps"

	"github.com/segmentio/ksuid"
)

// DefaultIDAttribute is the attribute holding a record's domain id unless
// another one is configured with WithIDAttribute.
const DefaultIDAttribute = "id"

// CID is the process-unique internal identity of a record. It is stable for
// the lifetime of the record and unrelated to its domain id.
type CID string

func newCID() CID {
	return CID("c" + ksuid.New().String())
}

// Record is an identity-bearing unit of data with a mutable attribute set.
//
// A record may be a member of several collections at once. Every collection it
// belongs to forwards its change events. Record is not safe for concurrent use.
type Record struct {
	Events

	cid         CID
	idAttribute string
	attributes  Attributes
	previous    Attributes

	// origins is the reverse correspondence annotation maintained by mapped
	// views: view id -> CID of the source record this record was derived from.
	// It lives outside the attributes so it can never leak into them.
	origins map[string]CID
}

// RecordOption configures a Record.
type RecordOption func(*Record)

// WithIDAttribute sets the attribute that holds the record's domain id.
func WithIDAttribute(name string) RecordOption {
	return func(r *Record) {
		r.idAttribute = name
	}
}

// NewRecord creates a record holding a shallow copy of attrs.
func NewRecord(attrs Attributes, opts ...RecordOption) *Record {
	r := &Record{
		cid:         newCID(),
		idAttribute: DefaultIDAttribute,
		attributes:  attrs.Clone(),
		previous:    Attributes{},
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// CID returns the internal identity of the record.
func (r *Record) CID() CID { return r.cid }

// IDAttribute returns the name of the attribute holding the domain id.
func (r *Record) IDAttribute() string { return r.idAttribute }

// ID returns the domain id of the record, or nil when it has none.
func (r *Record) ID() any { return r.attributes[r.idAttribute] }

// Get returns the value of attr, or nil when it is absent.
func (r *Record) Get(attr string) any { return r.attributes[attr] }

// Has reports whether attr is present with a non-nil value.
func (r *Record) Has(attr string) bool { return r.attributes[attr] != nil }

// Lookup returns the value of attr and whether it is present at all.
func (r *Record) Lookup(attr string) (any, bool) {
	v, ok := r.attributes[attr]
	return v, ok
}

// Attributes returns a shallow copy of the current attributes.
func (r *Record) Attributes() Attributes { return r.attributes.Clone() }

// Previous returns the value attr had before the most recent Set.
func (r *Record) Previous(attr string) any { return r.previous[attr] }

// ChangedAttributes returns the entries of diff that differ from the current
// attributes, or nil when none do.
func (r *Record) ChangedAttributes(diff Attributes) Attributes {
	return r.attributes.Changed(diff)
}

// Set merges attrs into the record, or removes the named attributes when
// opts.Unset is set. One ChangeEvent(attr) is emitted per attribute whose value
// or presence actually changed, in sorted key order, followed by a single
// EventChange. Nothing is emitted when nothing changed.
func (r *Record) Set(attrs Attributes, opts Options) error {
	before := r.attributes.Clone()

	var changed []string
	for _, key := range attrs.Keys() {
		current, present := r.attributes[key]
		if opts.Unset {
			if !present {
				continue
			}
			delete(r.attributes, key)
		} else {
			if present && Equal(current, attrs[key]) {
				continue
			}
			r.attributes[key] = attrs[key]
		}
		changed = append(changed, key)
	}

	if len(changed) == 0 {
		return nil
	}
	r.previous = before
	if opts.Silent {
		return nil
	}

	for _, key := range changed {
		if err := r.Trigger(Event{Name: ChangeEvent(key), Record: r, Options: opts, Index: -1}); err != nil {
			return err
		}
	}

	return r.Trigger(Event{Name: EventChange, Record: r, Options: opts, Index: -1})
}

// Unset removes the named attributes.
func (r *Record) Unset(keys ...string) error {
	attrs := make(Attributes, len(keys))
	for _, key := range keys {
		attrs[key] = nil
	}

	return r.Set(attrs, Options{Unset: true})
}

// Clone returns a new record with a fresh identity and a copy of the attributes.
// Listeners and view annotations are not copied.
func (r *Record) Clone() *Record {
	return NewRecord(r.attributes, WithIDAttribute(r.idAttribute))
}

// MarshalJSON encodes the attributes of the record.
//
// Implements the json.Marshaler interface.
func (r *Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.attributes)
}

// Origin returns the CID of the source record this record was derived from by
// the mapped view identified by viewID.
func (r *Record) Origin(viewID string) (CID, bool) {
	cid, ok := r.origins[viewID]
	return cid, ok
}

// SetOrigin annotates the record as derived from source by the mapped view
// identified by viewID, keeping annotations made by other views.
func (r *Record) SetOrigin(viewID string, source CID) {
	if r.origins == nil {
		r.origins = make(map[string]CID)
	}
	r.origins[viewID] = source
}

// ClearOrigin drops the annotation made by the mapped view identified by viewID.
func (r *Record) ClearOrigin(viewID string) {
	delete(r.origins, viewID)
	if len(r.origins) == 0 {
		r.origins = nil
	}
}

// Origins returns a copy of all view annotations on the record.
func (r *Record) Origins() map[string]CID {
	return maps.Clone(r.origins)
}
