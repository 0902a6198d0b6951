package views

import (
	"fmt"

	"github.com/smartcontractkit/collection-views/collection"
	"github.com/smartcontractkit/collection-views/iteratee"
	"github.com/smartcontractkit/collection-views/pkg/logger"
)

// Filtered is a live view holding exactly the records of its source that
// match a predicate.
//
// Without a comparator of its own the view mirrors the order of its source;
// the source's comparator is then reported by Comparator but never applied by
// the view itself. With its own comparator, given with WithComparator, the view
// keeps its own order and ignores source sort events.
type Filtered struct {
	*collection.Collection

	source  collection.Source
	matches collection.Predicate
	subs    []collection.Subscription
	lggr    logger.Logger
}

// Filtered implements the Source and HasUnderlying interfaces.
var (
	_ collection.Source = &Filtered{}
	_ HasUnderlying     = &Filtered{}
)

var filteredReactions = []reaction[*Filtered]{
	{event: collection.EventAdd, handle: (*Filtered).onAdd},
	{event: collection.EventRemove, handle: (*Filtered).onRemove},
	{event: collection.EventReset, handle: (*Filtered).onReset},
	{event: collection.EventSort, handle: (*Filtered).onSort},
	{event: collection.EventChange, handle: (*Filtered).onChange},
}

// NewFiltered creates a view of the records of source matching criterion, which
// is anything iteratee.Predicate accepts. The view adopts the record factory of
// source unless WithFactory is given.
func NewFiltered(source collection.Source, criterion any, opts ...Option) (*Filtered, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	matches, err := iteratee.Predicate(criterion)
	if err != nil {
		return nil, fmt.Errorf("filter criterion: %w", err)
	}

	o := newOptions(opts)
	if o.factory == nil {
		o.factory = source.Factory()
	}

	f := &Filtered{
		source:  source,
		matches: matches,
		lggr:    o.lggr,
	}
	f.Collection = collection.New(f.matching(), o.collectionOptions()...)
	f.subs = listen(source, f, filteredReactions)
	f.lggr.Debugw("filtered view created", "source", source.Len(), "len", f.Len(), "ownOrder", f.ownsOrder())

	return f, nil
}

// Underlying returns the innermost collection the view observes.
func (f *Filtered) Underlying() collection.Source {
	return innermost(f.source)
}

// Comparator returns the view's own comparator, or the current comparator of
// the source when the view mirrors it.
func (f *Filtered) Comparator() collection.Comparator {
	if c := f.Collection.Comparator(); c != nil {
		return c
	}

	return f.source.Comparator()
}

// Matches reports whether r satisfies the view's predicate.
func (f *Filtered) Matches(r *collection.Record) bool {
	return f.matches(r)
}

// Close stops the view from following its source. The contents are kept as
// they are.
func (f *Filtered) Close() {
	unlisten(f.source, f.subs)
	f.subs = nil
}

func (f *Filtered) ownsOrder() bool {
	return f.Collection.Comparator() != nil
}

func (f *Filtered) matching() []*collection.Record {
	var out []*collection.Record
	for _, r := range f.source.Records() {
		if f.matches(r) {
			out = append(out, r)
		}
	}

	return out
}

// insert adds a matching source record at the position it takes in the view.
func (f *Filtered) insert(r *collection.Record, opts collection.Options) error {
	opts = opts.WithoutAt()
	if !f.ownsOrder() {
		opts = opts.WithAt(mirrorIndex(f.source, r, f.Has))
	}
	_, err := f.Add([]*collection.Record{r}, opts)

	return err
}

func (f *Filtered) onAdd(evt collection.Event) error {
	if !f.matches(evt.Record) {
		return nil
	}

	return f.insert(evt.Record, evt.Options)
}

func (f *Filtered) onRemove(evt collection.Event) error {
	_, err := f.Remove(evt.Record, evt.Options)
	return err
}

func (f *Filtered) onReset(evt collection.Event) error {
	return f.Reset(f.matching(), evt.Options)
}

func (f *Filtered) onSort(evt collection.Event) error {
	if f.ownsOrder() {
		return nil
	}
	rank := sourceRank(f.source)

	return f.Align(func(r *collection.Record) int { return rank[r.CID()] }, evt.Options)
}

// onChange is the only path that moves a record across the membership
// boundary after construction.
func (f *Filtered) onChange(evt collection.Event) error {
	r := evt.Record
	switch member, matches := f.Has(r), f.matches(r); {
	case matches && !member:
		f.lggr.Debugw("record adopted", "cid", r.CID())
		return f.insert(r, evt.Options)
	case !matches && member:
		f.lggr.Debugw("record purged", "cid", r.CID())
		_, err := f.Remove(r, evt.Options)

		return err
	default:
		return nil
	}
}
