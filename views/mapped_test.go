package views

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/smartcontractkit/collection-views/collection"
	"github.com/smartcontractkit/collection-views/pkg/logger"
)

func butlers() []collection.Attributes {
	return []collection.Attributes{
		{
			"id":   1,
			"name": "James",
			"details": map[string]any{
				"county":         "Bedfordshire",
				"flower":         "rose",
				"yearsOfService": 26,
			},
		},
		{
			"id":   2,
			"name": "Travis",
			"details": map[string]any{
				"county":         "Leicestershire",
				"flower":         "lily",
				"yearsOfService": 15,
			},
		},
		{
			"id":   3,
			"name": "Mortimer",
			"details": map[string]any{
				"county":         "Warwickshire",
				"flower":         "tulip",
				"yearsOfService": 30,
			},
		},
	}
}

// category holds what mappers propagating the same attributes have in common.
type category struct {
	// comparator the view gets when it maintains its own order
	comparator string
	// expectedOrder is the order of butlers under comparator
	expectedOrder []int
	patch         collection.Attributes
	// project computes the derived attributes for a source attribute set
	// without involving the view.
	project func(collection.Attributes) collection.Attributes
}

var (
	toplevel = category{
		comparator:    "name",
		expectedOrder: []int{0, 2, 1},
		patch:         collection.Attributes{"id": 4, "name": "Edmund"},
		project: func(a collection.Attributes) collection.Attributes {
			return collection.Attributes{"id": a["id"], "name": a["name"]}
		},
	}
	nested = category{
		comparator:    "yearsOfService",
		expectedOrder: []int{1, 0, 2},
		patch:         collection.Attributes{"details": map[string]any{"flower": "chrysant", "age": 44}},
		project: func(a collection.Attributes) collection.Attributes {
			return collection.Attributes(a["details"].(map[string]any)).Clone()
		},
	}
	identity = category{
		comparator:    toplevel.comparator,
		expectedOrder: toplevel.expectedOrder,
		patch:         toplevel.patch,
		project:       collection.Attributes.Clone,
	}
)

func pick(r *collection.Record, attrs ...string) collection.Attributes {
	out := collection.Attributes{}
	for _, attr := range attrs {
		if v, ok := r.Lookup(attr); ok {
			out[attr] = v
		}
	}

	return out
}

var mapperConfigs = []struct {
	name     string
	mapper   any
	category category
	// returnsNewRecord mappers construct a fresh record on every call
	returnsNewRecord bool
}{
	{
		name:     "identity function",
		mapper:   func(r *collection.Record) *collection.Record { return r },
		category: identity,
	},
	{
		name:     "function producing a hash with an id",
		mapper:   func(r *collection.Record) collection.Attributes { return pick(r, "id", "name") },
		category: toplevel,
	},
	{
		name:     "function producing a hash without an id",
		mapper:   func(r *collection.Record) any { return r.Get("details") },
		category: nested,
	},
	{
		// "flower" is the id attribute, so picking id and name gives no id
		name: "function producing a record without an id",
		mapper: func(r *collection.Record) *collection.Record {
			return collection.NewRecord(pick(r, "id", "name"), collection.WithIDAttribute("flower"))
		},
		category:         toplevel,
		returnsNewRecord: true,
	},
	{
		name: "function producing a record with an id",
		mapper: func(r *collection.Record) *collection.Record {
			return collection.NewRecord(r.Get("details").(map[string]any), collection.WithIDAttribute("flower"))
		},
		category:         nested,
		returnsNewRecord: true,
	},
	{
		name:     "property shorthand",
		mapper:   "details",
		category: nested,
	},
}

type mappedFixture struct {
	raw      *collection.Collection
	mapped   *Mapped
	expected []collection.Attributes
	category category
}

func newMappedFixture(t *testing.T, mapper any, cat category) *mappedFixture {
	t.Helper()

	raw := collection.New(toRecords(butlers()))
	mapped, err := NewMapped(raw, mapper)
	require.NoError(t, err)

	var expected []collection.Attributes
	for _, attrs := range butlers() {
		expected = append(expected, cat.project(attrs))
	}

	return &mappedFixture{raw: raw, mapped: mapped, expected: expected, category: cat}
}

func reorder(attrs []collection.Attributes, order []int) []collection.Attributes {
	out := make([]collection.Attributes, len(order))
	for i, index := range order {
		out[i] = attrs[index]
	}

	return out
}

func (f *mappedFixture) assertSameOrder(t *testing.T, order []int) {
	t.Helper()

	assert.Equal(t, reorder(butlers(), order), f.raw.ToJSON())
	assert.Equal(t, reorder(f.expected, order), f.mapped.ToJSON())
}

func (f *mappedFixture) assertCorrespondence(t *testing.T) {
	t.Helper()

	require.Equal(t, f.raw.Len(), f.mapped.Len())
	for i, source := range f.raw.Records() {
		derived, ok := f.mapped.Corresponding(source)
		require.True(t, ok, "no correspondence for index %d", i)
		assert.Same(t, f.mapped.At(i), derived)

		origin, ok := derived.Origin(f.mapped.ID())
		require.True(t, ok)
		assert.Equal(t, source.CID(), origin)
	}
}

func TestMapped(t *testing.T) {
	t.Parallel()

	for _, cfg := range mapperConfigs {
		t.Run(cfg.name, func(t *testing.T) {
			t.Parallel()

			t.Run("constructs with corresponding records", func(t *testing.T) {
				t.Parallel()

				f := newMappedFixture(t, cfg.mapper, cfg.category)
				assert.Equal(t, f.expected, f.mapped.ToJSON())
				assert.Same(t, f.raw, f.mapped.Underlying())
				assert.Nil(t, f.mapped.Comparator())
				f.assertCorrespondence(t)
			})

			t.Run("resets along with the source", func(t *testing.T) {
				t.Parallel()

				f := newMappedFixture(t, cfg.mapper, cfg.category)
				resets := countEvents(f.mapped, collection.EventReset)

				require.NoError(t, f.raw.Reset(nil, collection.Options{}))
				assert.Equal(t, 1, *resets)
				assert.Zero(t, f.mapped.Len())

				require.NoError(t, f.raw.Reset(toRecords(butlers()), collection.Options{}))
				assert.Equal(t, 2, *resets)
				assert.Equal(t, f.expected, f.mapped.ToJSON())
				f.assertCorrespondence(t)
			})

			t.Run("tracks additions and removals", func(t *testing.T) {
				t.Parallel()

				f := newMappedFixture(t, cfg.mapper, cfg.category)
				var removed, added []*collection.Record
				f.mapped.On(collection.EventRemove, func(evt collection.Event) error {
					removed = append(removed, evt.Record)
					return nil
				})
				f.mapped.On(collection.EventAdd, func(evt collection.Event) error {
					added = append(added, evt.Record)
					return nil
				})

				sacrifice := f.raw.Get(3)
				oldCorresponding, ok := f.mapped.Corresponding(sacrifice)
				require.True(t, ok)
				_, err := f.raw.Remove(sacrifice, collection.Options{})
				require.NoError(t, err)

				assert.Equal(t, []*collection.Record{oldCorresponding}, removed)
				assert.Empty(t, added)
				assert.False(t, f.mapped.Has(oldCorresponding))
				assert.Nil(t, f.mapped.FindWhere(f.expected[2]))
				_, ok = f.mapped.Corresponding(sacrifice)
				assert.False(t, ok)
				_, ok = oldCorresponding.Origin(f.mapped.ID())
				assert.False(t, ok)

				successors, err := f.raw.Add(toRecords(butlers()[2:]), collection.Options{})
				require.NoError(t, err)
				newCorresponding, ok := f.mapped.Corresponding(successors[0])
				require.True(t, ok)

				assert.Len(t, removed, 1)
				assert.Equal(t, []*collection.Record{newCorresponding}, added)
				assert.Same(t, newCorresponding, f.mapped.FindWhere(f.expected[2]))
				f.assertCorrespondence(t)
			})

			t.Run("tracks the source order by default", func(t *testing.T) {
				t.Parallel()

				f := newMappedFixture(t, cfg.mapper, cfg.category)
				sorts := countEvents(f.mapped, collection.EventSort)

				last, err := f.raw.Pop(collection.Options{})
				require.NoError(t, err)
				require.NoError(t, f.raw.Unshift(last, collection.Options{}))
				assert.Zero(t, *sorts)
				f.assertSameOrder(t, []int{2, 0, 1})

				f.raw.SetComparator(collection.Descending(collection.CompareBy("id")))
				require.NoError(t, f.raw.Sort(collection.Options{}))
				assert.Equal(t, 1, *sorts)
				f.assertSameOrder(t, []int{2, 1, 0})
				f.assertCorrespondence(t)
			})

			t.Run("can maintain a separate order", func(t *testing.T) {
				t.Parallel()

				f := newMappedFixture(t, cfg.mapper, cfg.category)
				sorts := countEvents(f.mapped, collection.EventSort)
				assertSorted := func(calls int) {
					t.Helper()
					assert.Equal(t, calls, *sorts)
					assert.Equal(t, reorder(f.expected, cfg.category.expectedOrder), f.mapped.ToJSON())
				}

				f.mapped.SetComparator(collection.ParseComparator(cfg.category.comparator))
				require.NoError(t, f.mapped.Sort(collection.Options{}))
				assertSorted(1)

				_, err := f.raw.Remove(f.raw.Get(3), collection.Options{})
				require.NoError(t, err)
				_, err = f.raw.Add(toRecords(butlers()[2:]), collection.Options{})
				require.NoError(t, err)
				assertSorted(2)

				last, err := f.raw.Pop(collection.Options{})
				require.NoError(t, err)
				require.NoError(t, f.raw.Unshift(last, collection.Options{}))
				assertSorted(3)

				// the view ignores source sorts when it has its own order
				f.raw.SetComparator(collection.Descending(collection.CompareBy("id")))
				require.NoError(t, f.raw.Sort(collection.Options{}))
				assertSorted(3)
			})

			for index := range butlers() {
				if cfg.returnsNewRecord {
					t.Run(fmt.Sprintf("replaces remapped record at %d", index), func(t *testing.T) {
						t.Parallel()

						f := newMappedFixture(t, cfg.mapper, cfg.category)
						input := f.raw.At(index)
						original := f.mapped.At(index)
						corresponding, ok := f.mapped.Corresponding(input)
						require.True(t, ok)
						require.Same(t, original, corresponding)
						changes := countEvents(original, collection.EventChange)

						require.NoError(t, input.Set(cfg.category.patch, collection.Options{}))

						// the original derived record is left untouched
						assert.Zero(t, *changes)
						assert.Equal(t, f.expected[index], original.Attributes())
						assert.False(t, f.mapped.Has(original))
						assert.Nil(t, original.Origins())

						// and replaced by a new one at the same index
						replacement := f.mapped.At(index)
						assert.NotSame(t, original, replacement)
						assert.Equal(t, cfg.category.project(input.Attributes()), replacement.Attributes())
						f.assertCorrespondence(t)
					})

					continue
				}

				t.Run(fmt.Sprintf("updates previously mapped record at %d", index), func(t *testing.T) {
					t.Parallel()

					f := newMappedFixture(t, cfg.mapper, cfg.category)
					input := f.raw.At(index)
					original := f.mapped.At(index)
					corresponding, ok := f.mapped.Corresponding(input)
					require.True(t, ok)
					require.Same(t, original, corresponding)
					changes := countEvents(original, collection.EventChange)

					require.NoError(t, input.Set(cfg.category.patch, collection.Options{}))

					assert.Positive(t, *changes)
					assert.NotEqual(t, f.expected[index], original.Attributes())
					assert.True(t, f.mapped.Has(original))
					assert.Same(t, original, f.mapped.At(index))
					// exactly the projected attributes, nothing left over and
					// no bookkeeping leaked into them
					assert.Equal(t, cfg.category.project(input.Attributes()), original.Attributes())
					f.assertCorrespondence(t)
				})
			}
		})
	}
}

func TestMapped_UpdateTouchesOnlyChangedAttributes(t *testing.T) {
	t.Parallel()

	raw := collection.New(toRecords(butlers()))
	mapped, err := NewMapped(raw, "details")
	require.NoError(t, err)

	derived := mapped.At(0)
	var events []string
	derived.On(collection.EventAll, func(evt collection.Event) error {
		events = append(events, evt.Name)
		return nil
	})

	patch := map[string]any{"county": "Bedfordshire", "flower": "chrysant", "age": 44}
	require.NoError(t, raw.At(0).Set(collection.Attributes{"details": patch}, collection.Options{}))

	assert.Equal(t, []string{
		"change:yearsOfService", "change",
		"change:age", "change:flower", "change",
	}, events)
	assert.Equal(t, collection.Attributes(patch), derived.Attributes())
	assert.Equal(t, "rose", derived.Previous("flower"))
}

func TestMapped_OwnComparator(t *testing.T) {
	t.Parallel()

	raw := collection.New(toRecords(butlers()))
	mapped, err := NewMapped(raw, "details", WithComparator(collection.CompareBy("yearsOfService")))
	require.NoError(t, err)

	var flowers []any
	for _, r := range mapped.Records() {
		flowers = append(flowers, r.Get("flower"))
	}
	assert.Equal(t, []any{"lily", "rose", "tulip"}, flowers)
}

func TestMapped_Factory(t *testing.T) {
	t.Parallel()

	raw := collection.New(toRecords(butlers()))
	mapped, err := NewMapped(raw, "details", WithFactory(func(attrs collection.Attributes) *collection.Record {
		return collection.NewRecord(attrs, collection.WithIDAttribute("flower"))
	}))
	require.NoError(t, err)

	assert.Same(t, mapped.At(1), mapped.Get("lily"))
	cid, ok := mapped.MappedCID(raw.At(1))
	require.True(t, ok)
	assert.Equal(t, mapped.At(1).CID(), cid)
}

func TestMapped_SharedDerivedRecords(t *testing.T) {
	t.Parallel()

	pool := map[any]*collection.Record{
		"rose":  collection.NewRecord(collection.Attributes{"flower": "rose"}),
		"lily":  collection.NewRecord(collection.Attributes{"flower": "lily"}),
		"tulip": collection.NewRecord(collection.Attributes{"flower": "tulip"}),
	}
	byFlower := func(r *collection.Record) *collection.Record {
		return pool[r.Get("details").(map[string]any)["flower"]]
	}

	raw := collection.New(toRecords(butlers()))
	first, err := NewMapped(raw, byFlower)
	require.NoError(t, err)
	second, err := NewMapped(raw, byFlower)
	require.NoError(t, err)

	rose := pool["rose"]
	assert.Same(t, rose, first.At(0))
	assert.Same(t, rose, second.At(0))
	assert.Len(t, rose.Origins(), 2)
	assert.NotEqual(t, first.ID(), second.ID())

	// returning the same record again is a no-op
	changes := countEvents(first, collection.EventAdd, collection.EventRemove, collection.EventChange)
	require.NoError(t, raw.At(0).Set(collection.Attributes{"name": "Jim"}, collection.Options{}))
	assert.Zero(t, *changes)

	// substituting another pre-existing record leaves both records untouched
	pool["orchid"] = collection.NewRecord(collection.Attributes{"flower": "orchid"})
	require.NoError(t, raw.At(0).Set(collection.Attributes{"details": map[string]any{"flower": "orchid"}}, collection.Options{}))
	assert.Same(t, pool["orchid"], first.At(0))
	assert.Same(t, pool["orchid"], second.At(0))
	assert.Equal(t, collection.Attributes{"flower": "rose"}, rose.Attributes())
	assert.Nil(t, rose.Origins())
	assert.Len(t, pool["orchid"].Origins(), 2)

	// removal from one view keeps the annotation of the other
	second.Close()
	_, err = raw.Remove(raw.At(0), collection.Options{})
	require.NoError(t, err)
	origins := pool["orchid"].Origins()
	assert.Len(t, origins, 1)
	assert.Contains(t, origins, second.ID())
}

func TestMapped_Errors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")

	t.Run("nil source", func(t *testing.T) {
		t.Parallel()

		_, err := NewMapped(nil, "details")
		require.ErrorIs(t, err, ErrNilSource)
	})

	t.Run("malformed result on construction", func(t *testing.T) {
		t.Parallel()

		_, err := NewMapped(collection.New(toRecords(butlers())), "name")
		require.ErrorIs(t, err, ErrMalformedConversion)
	})

	t.Run("malformed result on change", func(t *testing.T) {
		t.Parallel()

		raw := collection.New(toRecords(butlers()))
		_, err := NewMapped(raw, "details")
		require.NoError(t, err)

		err = raw.At(0).Unset("details")
		require.ErrorIs(t, err, ErrMalformedConversion)
	})

	t.Run("conversion error propagates to the source mutation", func(t *testing.T) {
		t.Parallel()

		raw := collection.New(nil)
		_, err := NewMapped(raw, func(r *collection.Record) (any, error) {
			if r.Has("broken") {
				return nil, boom
			}

			return pick(r, "id"), nil
		})
		require.NoError(t, err)

		_, err = raw.Add(toRecords([]collection.Attributes{{"id": 1, "broken": true}}), collection.Options{})
		require.ErrorIs(t, err, boom)
	})

	t.Run("not injective", func(t *testing.T) {
		t.Parallel()

		_, err := NewMapped(collection.New(toRecords(butlers())), func(*collection.Record) collection.Attributes {
			return collection.Attributes{"id": "same"}
		})
		require.ErrorIs(t, err, ErrNotInjective)
	})

	t.Run("no correspondence", func(t *testing.T) {
		t.Parallel()

		raw := collection.New(toRecords(butlers()))
		mapped, err := NewMapped(raw, "details")
		require.NoError(t, err)

		_, err = mapped.Remove(collection.NewRecord(collection.Attributes{"id": 9}), collection.Options{})
		require.ErrorIs(t, err, ErrNoCorrespondence)

		_, err = mapped.AddConverted([]*collection.Record{collection.NewRecord(nil)}, collection.Options{})
		require.ErrorIs(t, err, ErrNoCorrespondence)
	})
}

func TestMapped_AddConvertedSkipsConversion(t *testing.T) {
	t.Parallel()

	raw := collection.New(toRecords(butlers()))
	calls := 0
	mapped, err := NewMapped(raw, func(r *collection.Record) collection.Attributes {
		calls++
		return pick(r, "id", "name")
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)

	extra := collection.NewRecord(collection.Attributes{"id": 9, "name": "Jeeves"})
	derived, err := mapped.Preprocess(extra)
	require.NoError(t, err)
	require.Equal(t, 4, calls)

	_, err = mapped.AddConverted([]*collection.Record{derived}, collection.Options{})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	got, ok := mapped.Corresponding(extra)
	require.True(t, ok)
	assert.Same(t, derived, got)
}

func TestMapped_LogsReplacements(t *testing.T) {
	t.Parallel()

	lggr, logs := logger.TestObserved(t, zapcore.DebugLevel)
	raw := collection.New(toRecords(butlers()))
	_, err := NewMapped(raw, func(r *collection.Record) *collection.Record {
		return collection.NewRecord(pick(r, "name"))
	}, WithLogger(lggr))
	require.NoError(t, err)

	require.NoError(t, raw.At(1).Set(collection.Attributes{"name": "Jeeves"}, collection.Options{}))

	entries := logs.FilterMessage("derived record replaced").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(1), entries[0].ContextMap()["index"])
}

func TestViews_Chained(t *testing.T) {
	t.Parallel()

	raw := collection.New(toRecords(butlers()))
	veterans, err := NewFiltered(raw, func(r *collection.Record) bool {
		return r.Get("details").(map[string]any)["yearsOfService"].(int) > 20
	})
	require.NoError(t, err)
	details, err := NewMapped(veterans, "details")
	require.NoError(t, err)
	roses, err := NewFiltered(details, collection.Attributes{"flower": "rose"})
	require.NoError(t, err)

	for _, view := range []HasUnderlying{veterans, details, roses} {
		assert.Same(t, raw, view.Underlying())
	}
	assert.Equal(t, 2, details.Len())
	assert.Equal(t, 1, roses.Len())

	// Travis gains enough service to become a veteran and switches to roses
	travis := raw.Get(2)
	require.NoError(t, travis.Set(collection.Attributes{"details": map[string]any{
		"county":         "Leicestershire",
		"flower":         "rose",
		"yearsOfService": 21,
	}}, collection.Options{}))

	assert.Equal(t, 3, veterans.Len())
	assert.Equal(t, 3, details.Len())
	assert.Equal(t, 2, roses.Len())
	assert.Equal(t, []any{1, 2, 3}, viewIDs(veterans))

	// a change that keeps membership updates the derived record in place
	derived, ok := details.Corresponding(travis)
	require.True(t, ok)
	require.NoError(t, travis.Set(collection.Attributes{"details": map[string]any{
		"county":         "Leicestershire",
		"flower":         "lily",
		"yearsOfService": 21,
	}}, collection.Options{}))
	assert.Equal(t, "lily", derived.Get("flower"))
	assert.Equal(t, 1, roses.Len())

	require.NoError(t, raw.Reset(nil, collection.Options{}))
	assert.Zero(t, veterans.Len())
	assert.Zero(t, details.Len())
	assert.Zero(t, roses.Len())
}
