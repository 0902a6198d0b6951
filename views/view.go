package views

import (
	"github.com/smartcontractkit/collection-views/collection"
	"github.com/smartcontractkit/collection-views/pkg/logger"
)

// Option configures a view.
type Option func(*options)

type options struct {
	comparator collection.Comparator
	factory    collection.Factory
	lggr       logger.Logger
}

// WithComparator gives the view its own ordering rule. Without one, a view
// mirrors the order of its source.
func WithComparator(c collection.Comparator) Option {
	return func(o *options) {
		o.comparator = c
	}
}

// WithFactory sets the factory used to build the view's records from
// attribute hashes.
func WithFactory(f collection.Factory) Option {
	return func(o *options) {
		o.factory = f
	}
}

// WithLogger sets the logger.
func WithLogger(lggr logger.Logger) Option {
	return func(o *options) {
		o.lggr = lggr
	}
}

func newOptions(opts []Option) options {
	o := options{lggr: logger.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	return o
}

func (o options) collectionOptions() []collection.Option {
	return []collection.Option{
		collection.WithComparator(o.comparator),
		collection.WithFactory(o.factory),
		collection.WithLogger(o.lggr),
	}
}

// reaction binds a source event to the method of a view handling it.
type reaction[V any] struct {
	event  string
	handle func(V, collection.Event) error
}

// listen subscribes view to source according to table.
func listen[V any](source collection.Source, view V, table []reaction[V]) []collection.Subscription {
	subs := make([]collection.Subscription, 0, len(table))
	for _, r := range table {
		handle := r.handle
		subs = append(subs, source.On(r.event, func(evt collection.Event) error {
			return handle(view, evt)
		}))
	}

	return subs
}

func unlisten(source collection.Source, subs []collection.Subscription) {
	for _, sub := range subs {
		source.Off(sub)
	}
}

// mirrorIndex returns the position r takes in a view that mirrors the order of
// source, given which source records the view already tracks.
func mirrorIndex(source collection.Source, r *collection.Record, tracked func(*collection.Record) bool) int {
	index := 0
	for _, s := range source.Records() {
		if s == r {
			break
		}
		if tracked(s) {
			index++
		}
	}

	return index
}

// sourceRank maps the CID of every source record to its position.
func sourceRank(source collection.Source) map[collection.CID]int {
	records := source.Records()
	rank := make(map[collection.CID]int, len(records))
	for i, r := range records {
		rank[r.CID()] = i
	}

	return rank
}
