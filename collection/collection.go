package collection

import (
	"cmp"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/smartcontractkit/collection-views/pkg/logger"
)

// Predicate reports whether a record belongs to a subset.
type Predicate func(*Record) bool

// Factory builds a record from an attribute hash.
type Factory func(attrs Attributes) *Record

// DefaultFactory builds records with the default id attribute.
func DefaultFactory(attrs Attributes) *Record {
	return NewRecord(attrs)
}

// Source is the read and subscribe side of an ordered record collection. It is
// what views consume, and views implement it themselves so they can be wrapped
// by further views.
type Source interface {
	// Records returns the members in order. The slice is a copy; the records are not.
	Records() []*Record
	Len() int
	Has(r *Record) bool
	IndexOf(r *Record) int
	// Comparator returns the ordering rule, or nil when the order is insertion order.
	Comparator() Comparator
	// Factory returns the record factory used for attribute hashes.
	Factory() Factory
	On(name string, h Handler) Subscription
	Off(sub Subscription)
}

// Collection is an ordered, identity-indexed set of records that emits an
// event for every mutation. It is not safe for concurrent use.
type Collection struct {
	Events

	records    []*Record
	byCID      map[CID]*Record
	byID       map[string]*Record
	forwarding map[CID]Subscription
	comparator Comparator
	factory    Factory
	lggr       logger.Logger
}

// Collection implements Source interface.
var _ Source = &Collection{}

// Option configures a Collection.
type Option func(*Collection)

// WithComparator keeps the collection sorted by c.
func WithComparator(c Comparator) Option {
	return func(col *Collection) {
		col.comparator = c
	}
}

// WithFactory sets the factory used to build records from attribute hashes.
func WithFactory(f Factory) Option {
	return func(col *Collection) {
		if f != nil {
			col.factory = f
		}
	}
}

// WithRecordOptions builds records from attribute hashes with NewRecord and opts.
func WithRecordOptions(opts ...RecordOption) Option {
	return WithFactory(func(attrs Attributes) *Record {
		return NewRecord(attrs, opts...)
	})
}

// WithLogger sets the logger.
func WithLogger(lggr logger.Logger) Option {
	return func(col *Collection) {
		if lggr != nil {
			col.lggr = lggr
		}
	}
}

// New creates a collection holding records. No events are emitted.
func New(records []*Record, opts ...Option) *Collection {
	c := &Collection{
		byCID:      make(map[CID]*Record),
		byID:       make(map[string]*Record),
		forwarding: make(map[CID]Subscription),
		factory:    DefaultFactory,
		lggr:       logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.insert(slices.DeleteFunc(slices.Clone(records), func(r *Record) bool { return r == nil }), Options{})

	return c
}

// Records returns the members in order.
func (c *Collection) Records() []*Record { return slices.Clone(c.records) }

// Len returns the number of members.
func (c *Collection) Len() int { return len(c.records) }

// Comparator returns the ordering rule, or nil.
func (c *Collection) Comparator() Comparator { return c.comparator }

// SetComparator replaces the ordering rule. The collection is not re-sorted
// until Sort is called.
func (c *Collection) SetComparator(comparator Comparator) { c.comparator = comparator }

// Factory returns the record factory.
func (c *Collection) Factory() Factory { return c.factory }

// At returns the record at index, counting from the end when index is
// negative, or nil when index is out of range.
func (c *Collection) At(index int) *Record {
	if index < 0 {
		index += len(c.records)
	}
	if index < 0 || index >= len(c.records) {
		return nil
	}

	return c.records[index]
}

// Get looks a member up by domain id, by CID, or by the identity of a record.
func (c *Collection) Get(id any) *Record {
	switch v := id.(type) {
	case nil:
		return nil
	case CID:
		return c.byCID[v]
	case *Record:
		return c.existing(v)
	default:
		key, _ := idKey(v)
		return c.byID[key]
	}
}

// Has reports whether r itself is a member.
func (c *Collection) Has(r *Record) bool {
	return r != nil && c.byCID[r.cid] == r
}

// IndexOf returns the position of r, or -1.
func (c *Collection) IndexOf(r *Record) int {
	return slices.Index(c.records, r)
}

// Filter returns the members matching pred, in order.
func (c *Collection) Filter(pred Predicate) []*Record {
	matching := make([]*Record, 0, len(c.records))
	for _, r := range c.records {
		if pred(r) {
			matching = append(matching, r)
		}
	}

	return matching
}

// Where returns the members whose attributes match attrs.
func (c *Collection) Where(attrs Attributes) []*Record {
	return c.Filter(func(r *Record) bool {
		return r.attributes.Matches(attrs)
	})
}

// FindWhere returns the first member whose attributes match attrs, or nil.
func (c *Collection) FindWhere(attrs Attributes) *Record {
	for _, r := range c.records {
		if r.attributes.Matches(attrs) {
			return r
		}
	}

	return nil
}

// ToJSON returns a copy of the attributes of every member, in order.
func (c *Collection) ToJSON() []Attributes {
	out := make([]Attributes, len(c.records))
	for i, r := range c.records {
		out[i] = r.Attributes()
	}

	return out
}

// MarshalJSON encodes the members as an array of attribute objects.
//
// Implements the json.Marshaler interface.
func (c *Collection) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.records)
}

// Add inserts records that are not members yet, at opts.At or at the end. A
// collection with a comparator sorts itself afterwards unless opts.At or
// opts.NoSort is set. It emits one EventAdd per inserted record, then one
// EventSort when it sorted, then one EventUpdate.
//
// The returned slice holds, for every argument, the record that is now the
// member: the argument itself or the member it duplicates by CID or domain id.
func (c *Collection) Add(records []*Record, opts Options) ([]*Record, error) {
	if slices.Contains(records, nil) {
		return nil, ErrNilRecord
	}
	result, added, sorted := c.insert(records, opts)
	if opts.Silent || len(added) == 0 {
		return result, nil
	}

	for _, r := range added {
		evt := Event{Name: EventAdd, Record: r, Collection: c, Options: opts, Index: c.IndexOf(r)}
		if err := c.Trigger(evt); err != nil {
			return result, err
		}
	}
	if sorted {
		if err := c.Trigger(Event{Name: EventSort, Collection: c, Options: opts, Index: -1}); err != nil {
			return result, err
		}
	}

	return result, c.Trigger(Event{Name: EventUpdate, Collection: c, Options: opts, Index: -1})
}

func (c *Collection) insert(records []*Record, opts Options) (result, added []*Record, sorted bool) {
	result = make([]*Record, 0, len(records))
	for _, r := range records {
		if member := c.existing(r); member != nil {
			result = append(result, member)
			continue
		}
		c.reference(r)
		added = append(added, r)
		result = append(result, r)
	}
	if len(added) == 0 {
		return result, nil, false
	}

	at := len(c.records)
	if opts.At != nil {
		at = clampIndex(*opts.At, len(c.records))
	}
	c.records = slices.Insert(c.records, at, added...)

	sorted = c.comparator != nil && opts.At == nil && !opts.NoSort
	if sorted {
		slices.SortStableFunc(c.records, c.comparator)
	}
	c.lggr.Debugw("records added", "count", len(added), "at", at, "sorted", sorted, "len", len(c.records))

	return result, added, sorted
}

// Upsert merges every attribute hash into the member with the same domain id,
// and adds a record built by the factory for the others. Merges emit the
// records' change events before the collection's add events.
func (c *Collection) Upsert(attrs []Attributes, opts Options) ([]*Record, error) {
	result := make([]*Record, 0, len(attrs))
	pending := make(map[string]*Record)
	var toAdd []*Record

	for _, a := range attrs {
		probe := c.factory(a)
		key, hasID := idKey(probe.ID())
		member := c.existing(probe)
		if member == nil && hasID {
			member = pending[key]
		}
		if member != nil {
			if err := member.Set(a, Options{Silent: opts.Silent}); err != nil {
				return result, err
			}
			result = append(result, member)

			continue
		}
		if hasID {
			pending[key] = probe
		}
		toAdd = append(toAdd, probe)
		result = append(result, probe)
	}

	if _, err := c.Add(toAdd, opts); err != nil {
		return result, err
	}

	return result, nil
}

// Remove removes the member matching r by CID or domain id and returns the
// index it occupied, or -1 when there was no such member. It emits EventRemove
// with that index, then EventUpdate.
func (c *Collection) Remove(r *Record, opts Options) (int, error) {
	if r == nil {
		return -1, ErrNilRecord
	}
	member := c.existing(r)
	if member == nil {
		return -1, nil
	}

	index := c.IndexOf(member)
	c.records = slices.Delete(c.records, index, index+1)
	c.dereference(member)
	c.lggr.Debugw("record removed", "cid", member.cid, "index", index, "len", len(c.records))

	if opts.Silent {
		return index, nil
	}
	evt := Event{Name: EventRemove, Record: member, Collection: c, Options: opts, Index: index}
	if err := c.Trigger(evt); err != nil {
		return index, err
	}

	return index, c.Trigger(Event{Name: EventUpdate, Collection: c, Options: opts, Index: -1})
}

// Reset replaces all members with records and emits a single EventReset.
func (c *Collection) Reset(records []*Record, opts Options) error {
	if slices.Contains(records, nil) {
		return ErrNilRecord
	}
	previous := c.records
	for _, r := range previous {
		c.dereference(r)
	}
	c.records = nil
	c.insert(records, Options{})
	c.lggr.Debugw("collection reset", "previous", len(previous), "len", len(c.records))

	if opts.Silent {
		return nil
	}

	return c.Trigger(Event{Name: EventReset, Collection: c, Options: opts, Index: -1, Previous: previous})
}

// Sort orders the members by the comparator and emits EventSort.
func (c *Collection) Sort(opts Options) error {
	if c.comparator == nil {
		return ErrNoComparator
	}
	slices.SortStableFunc(c.records, c.comparator)

	return c.sorted(opts)
}

// Align orders the members by ascending rank, keeping the current order of
// equal ranks, and emits EventSort. Unlike Sort it needs no comparator.
func (c *Collection) Align(rank func(*Record) int, opts Options) error {
	slices.SortStableFunc(c.records, func(a, b *Record) int {
		return cmp.Compare(rank(a), rank(b))
	})

	return c.sorted(opts)
}

func (c *Collection) sorted(opts Options) error {
	if opts.Silent {
		return nil
	}

	return c.Trigger(Event{Name: EventSort, Collection: c, Options: opts, Index: -1})
}

// Push adds r at the end.
func (c *Collection) Push(r *Record, opts Options) error {
	_, err := c.Add([]*Record{r}, opts.WithAt(len(c.records)))
	return err
}

// Unshift adds r at the front.
func (c *Collection) Unshift(r *Record, opts Options) error {
	_, err := c.Add([]*Record{r}, opts.WithAt(0))
	return err
}

// Pop removes and returns the last member, or nil when empty.
func (c *Collection) Pop(opts Options) (*Record, error) {
	last := c.At(-1)
	if last == nil {
		return nil, nil
	}
	_, err := c.Remove(last, opts)

	return last, err
}

// Shift removes and returns the first member, or nil when empty.
func (c *Collection) Shift(opts Options) (*Record, error) {
	first := c.At(0)
	if first == nil {
		return nil, nil
	}
	_, err := c.Remove(first, opts)

	return first, err
}

// existing returns the member that r stands for, by CID first and domain id second.
func (c *Collection) existing(r *Record) *Record {
	if member, ok := c.byCID[r.cid]; ok {
		return member
	}
	if key, ok := idKey(r.ID()); ok {
		return c.byID[key]
	}

	return nil
}

func (c *Collection) reference(r *Record) {
	c.byCID[r.cid] = r
	if key, ok := idKey(r.ID()); ok {
		c.byID[key] = r
	}
	c.forwarding[r.cid] = r.On(EventAll, c.forward)
}

func (c *Collection) dereference(r *Record) {
	delete(c.byCID, r.cid)
	if key, ok := idKey(r.ID()); ok && c.byID[key] == r {
		delete(c.byID, key)
	}
	if sub, ok := c.forwarding[r.cid]; ok {
		r.Off(sub)
		delete(c.forwarding, r.cid)
	}
}

// forward re-emits the events of member records on the collection.
func (c *Collection) forward(evt Event) error {
	r := evt.Record
	if !c.Has(r) {
		return nil
	}
	if evt.Name == ChangeEvent(r.idAttribute) {
		if key, ok := idKey(r.Previous(r.idAttribute)); ok && c.byID[key] == r {
			delete(c.byID, key)
		}
		if key, ok := idKey(r.ID()); ok {
			c.byID[key] = r
		}
	}

	return c.Trigger(evt)
}

func idKey(id any) (string, bool) {
	if id == nil {
		return "", false
	}

	return fmt.Sprint(id), true
}

func clampIndex(at, length int) int {
	if at < 0 {
		at += length + 1
	}

	return max(0, min(at, length))
}
