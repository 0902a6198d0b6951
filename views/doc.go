// Package views provides live derived views over a collection.Source.
//
// A Filtered view holds the subset of source records matching a predicate. A
// Mapped view holds one derived record per source record, produced by a
// conversion function. Both subscribe to the source when constructed and react
// synchronously to every add, remove, reset, sort and change event it emits,
// re-emitting the equivalent events to their own listeners. Views implement
// collection.Source themselves, so they can be chained.
//
// Views never write back to their source. Their mutation methods are exported
// because they are shared with collection.Collection, but clients must not
// call them: doing so desynchronizes the view from its source with no
// detection or recovery. Mutate the source instead.
//
// Derived records may be shared by several mapped views, and by other
// containers when a conversion function returns pre-existing records. Only the
// in-place update path of a Mapped view mutates a derived record, and only the
// attributes that actually changed.
package views
