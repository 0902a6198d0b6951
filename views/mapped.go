package views

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/smartcontractkit/collection-views/collection"
	"github.com/smartcontractkit/collection-views/iteratee"
	"github.com/smartcontractkit/collection-views/pkg/logger"
)

// Mapped is a live view holding one derived record per record of its source.
//
// The conversion function produces either an attribute hash or a record for
// every source record. Hashes are turned into records with the view's factory;
// records are inserted as they are and may therefore be shared with other
// views or collections. The mapping should be injective: no two source records
// may convert to the same record or to records with the same domain id.
//
// Without a comparator of its own the view keeps its records in the relative
// order of their source records.
type Mapped struct {
	*collection.Collection

	id      string
	source  collection.Source
	convert iteratee.Mapper
	// cidMap maps the CID of every source record to the CID of its derived record.
	cidMap map[collection.CID]collection.CID
	subs   []collection.Subscription
	lggr   logger.Logger
}

// Mapped implements the Source and HasUnderlying interfaces.
var (
	_ collection.Source = &Mapped{}
	_ HasUnderlying     = &Mapped{}
)

var mappedReactions = []reaction[*Mapped]{
	{event: collection.EventAdd, handle: (*Mapped).onAdd},
	{event: collection.EventRemove, handle: (*Mapped).onRemove},
	{event: collection.EventReset, handle: (*Mapped).onReset},
	{event: collection.EventChange, handle: (*Mapped).onChange},
	{event: collection.EventSort, handle: (*Mapped).onSort},
}

// derivation is the checked result of a conversion: exactly one of record
// and attrs is set.
type derivation struct {
	record *collection.Record
	attrs  collection.Attributes
}

// NewMapped creates a view converting every record of source with conversion,
// which is anything iteratee.NewMapper accepts.
func NewMapped(source collection.Source, conversion any, opts ...Option) (*Mapped, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	convert, err := iteratee.NewMapper(conversion)
	if err != nil {
		return nil, fmt.Errorf("conversion: %w", err)
	}

	o := newOptions(opts)
	m := &Mapped{
		Collection: collection.New(nil, o.collectionOptions()...),
		id:         "mc" + uuid.NewString(),
		source:     source,
		convert:    convert,
		cidMap:     make(map[collection.CID]collection.CID),
		lggr:       o.lggr,
	}
	if _, err := m.Add(source.Records(), collection.Options{Silent: true}); err != nil {
		return nil, err
	}
	m.subs = listen(source, m, mappedReactions)
	m.lggr.Debugw("mapped view created", "id", m.id, "len", m.Len(), "ownOrder", m.ownsOrder())

	return m, nil
}

// ID returns the process-unique identity of the view. Derived records carry it
// in their origin annotations.
func (m *Mapped) ID() string { return m.id }

// Underlying returns the innermost collection the view observes.
func (m *Mapped) Underlying() collection.Source {
	return innermost(m.source)
}

// MappedCID returns the CID of the derived record corresponding to source.
func (m *Mapped) MappedCID(source *collection.Record) (collection.CID, bool) {
	if source == nil {
		return "", false
	}
	cid, ok := m.cidMap[source.CID()]

	return cid, ok
}

// Corresponding returns the derived record corresponding to source.
func (m *Mapped) Corresponding(source *collection.Record) (*collection.Record, bool) {
	cid, ok := m.MappedCID(source)
	if !ok {
		return nil, false
	}
	r := m.Get(cid)

	return r, r != nil
}

// Preprocess converts source and annotates the result with the origin of this
// view, ready to be passed to AddConverted. Attribute hashes are turned into
// records with the view's factory.
func (m *Mapped) Preprocess(source *collection.Record) (*collection.Record, error) {
	d, err := m.derive(source)
	if err != nil {
		return nil, err
	}
	if d.record == nil {
		d.record = m.Factory()(d.attrs)
	}
	if err := m.annotate(d.record, source); err != nil {
		return nil, err
	}

	return d.record, nil
}

// Add converts the source records and inserts the results.
func (m *Mapped) Add(sources []*collection.Record, opts collection.Options) ([]*collection.Record, error) {
	derived := make([]*collection.Record, 0, len(sources))
	for _, source := range sources {
		r, err := m.Preprocess(source)
		if err != nil {
			return nil, err
		}
		derived = append(derived, r)
	}

	return m.AddConverted(derived, opts)
}

// AddConverted inserts records that were already converted by Preprocess.
func (m *Mapped) AddConverted(derived []*collection.Record, opts collection.Options) ([]*collection.Record, error) {
	for _, r := range derived {
		if r == nil {
			return nil, collection.ErrNilRecord
		}
		source, ok := r.Origin(m.id)
		if !ok {
			return nil, fmt.Errorf("%w: record %s was not converted by view %s", ErrNoCorrespondence, r.CID(), m.id)
		}
		m.cidMap[source] = r.CID()
	}

	result, err := m.Collection.Add(derived, opts)

	var errs []error
	for i, r := range result {
		if r == derived[i] {
			continue
		}
		// a member with the same domain id already corresponds to another source
		source, _ := derived[i].Origin(m.id)
		if m.cidMap[source] == derived[i].CID() {
			delete(m.cidMap, source)
		}
		derived[i].ClearOrigin(m.id)
		errs = append(errs, fmt.Errorf("%w: source record %s converts to id %v", ErrNotInjective, source, derived[i].ID()))
	}
	if err != nil {
		errs = append(errs, err)
	}

	return result, errors.Join(errs...)
}

// Remove removes the derived record corresponding to the source record and
// returns the index it occupied.
func (m *Mapped) Remove(source *collection.Record, opts collection.Options) (int, error) {
	derived, ok := m.Corresponding(source)
	if !ok {
		return -1, m.missing(source)
	}

	index, err := m.Collection.Remove(derived, opts)
	delete(m.cidMap, source.CID())
	derived.ClearOrigin(m.id)

	return index, err
}

// Reset replaces the contents with fresh conversions of the source records.
func (m *Mapped) Reset(sources []*collection.Record, opts collection.Options) error {
	for _, r := range m.Records() {
		r.ClearOrigin(m.id)
	}
	clear(m.cidMap)

	derived := make([]*collection.Record, 0, len(sources))
	for _, source := range sources {
		r, err := m.Preprocess(source)
		if err != nil {
			return err
		}
		m.cidMap[source.CID()] = r.CID()
		derived = append(derived, r)
	}

	if err := m.Collection.Reset(derived, opts); err != nil {
		return err
	}
	if m.Len() != len(derived) {
		return fmt.Errorf("%w: %d source records converted to %d records", ErrNotInjective, len(derived), m.Len())
	}

	return nil
}

// Close stops the view from following its source. The contents and the
// correspondence are kept as they are.
func (m *Mapped) Close() {
	unlisten(m.source, m.subs)
	m.subs = nil
}

func (m *Mapped) ownsOrder() bool {
	return m.Comparator() != nil
}

func (m *Mapped) tracks(source *collection.Record) bool {
	_, ok := m.cidMap[source.CID()]
	return ok
}

func (m *Mapped) missing(source *collection.Record) error {
	if source == nil {
		return collection.ErrNilRecord
	}

	return fmt.Errorf("%w: source record %s in view %s", ErrNoCorrespondence, source.CID(), m.id)
}

func (m *Mapped) derive(source *collection.Record) (derivation, error) {
	if source == nil {
		return derivation{}, collection.ErrNilRecord
	}
	out, err := m.convert(source)
	if err != nil {
		return derivation{}, err
	}

	switch v := out.(type) {
	case *collection.Record:
		if v != nil {
			return derivation{record: v}, nil
		}
	case collection.Attributes:
		if v != nil {
			return derivation{attrs: v.Clone()}, nil
		}
	case map[string]any:
		if v != nil {
			return derivation{attrs: collection.Attributes(v).Clone()}, nil
		}
	}

	return derivation{}, fmt.Errorf("%w: got %T for source record %s", ErrMalformedConversion, out, source.CID())
}

// annotate records on r that it derives from source in this view.
func (m *Mapped) annotate(r, source *collection.Record) error {
	if previous, ok := r.Origin(m.id); ok && previous != source.CID() && m.Has(r) {
		return fmt.Errorf("%w: sources %s and %s both convert to record %s", ErrNotInjective, previous, source.CID(), r.CID())
	}
	r.SetOrigin(m.id, source.CID())

	return nil
}

func (m *Mapped) onAdd(evt collection.Event) error {
	opts := evt.Options.WithoutAt()
	if !m.ownsOrder() {
		opts = opts.WithAt(mirrorIndex(m.source, evt.Record, m.tracks))
	}
	_, err := m.Add([]*collection.Record{evt.Record}, opts)

	return err
}

func (m *Mapped) onRemove(evt collection.Event) error {
	_, err := m.Remove(evt.Record, evt.Options)
	return err
}

func (m *Mapped) onReset(evt collection.Event) error {
	return m.Reset(m.source.Records(), evt.Options)
}

// onSort aligns the derived records with the new order of their source
// records. It works without a comparator.
func (m *Mapped) onSort(evt collection.Event) error {
	if m.ownsOrder() {
		return nil
	}
	rank := make(map[collection.CID]int, len(m.cidMap))
	for i, source := range m.source.Records() {
		rank[m.cidMap[source.CID()]] = i
	}

	return m.Align(func(r *collection.Record) int { return rank[r.CID()] }, evt.Options)
}

// onChange converts the changed source record again. A record result other
// than the current derived record replaces it at the same index; an attribute
// hash updates the current derived record in place.
func (m *Mapped) onChange(evt collection.Event) error {
	source := evt.Record
	old, ok := m.Corresponding(source)
	if !ok {
		return m.missing(source)
	}
	d, err := m.derive(source)
	if err != nil {
		return err
	}

	if d.record != nil {
		if d.record == old {
			return nil
		}
		if err := m.annotate(d.record, source); err != nil {
			return err
		}
		index, err := m.Remove(source, collection.Options{})
		if err != nil {
			return err
		}
		m.lggr.Debugw("derived record replaced", "source", source.CID(), "old", old.CID(), "new", d.record.CID(), "index", index)
		_, err = m.AddConverted([]*collection.Record{d.record}, collection.Options{}.WithAt(index))

		return err
	}

	return m.update(old, d.attrs)
}

// update makes the attributes of r equal to attrs, touching only the
// attributes that change value or presence.
func (m *Mapped) update(r *collection.Record, attrs collection.Attributes) error {
	current := r.Attributes()
	// present in r but changed or absent in attrs
	removed := attrs.Changed(current)
	// changed or new in attrs
	added := current.Changed(attrs)

	unset := collection.Attributes{}
	for _, key := range removed.Keys() {
		if _, ok := added[key]; !ok {
			unset[key] = nil
		}
	}
	m.lggr.Debugw("derived record updated", "cid", r.CID(), "unset", unset.Keys(), "set", added.Keys())

	if err := r.Set(unset, collection.Options{Unset: true}); err != nil {
		return err
	}

	return r.Set(attrs, collection.Options{})
}
