package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/smartcontractkit/collection-views/collection"
	"github.com/smartcontractkit/collection-views/pkg/logger"
	"github.com/smartcontractkit/collection-views/views"
)

var (
	ErrUnknownView    = errors.New("unknown view")
	ErrCycle          = errors.New("views depend on each other in a cycle")
	ErrRecordNotFound = errors.New("record not found")
)

// View is what a pipeline holds for every configured view.
type View interface {
	collection.Source
	views.HasUnderlying
	Close()
}

var (
	_ View = &views.Filtered{}
	_ View = &views.Mapped{}
)

// Pipeline is a source collection together with the views built on it.
type Pipeline struct {
	source *collection.Collection
	views  map[string]View
	// order lists the view names in build order; every view comes after the one it observes.
	order []string
	steps []Step
	trace []traced
	lggr  logger.Logger
}

type traced struct {
	source collection.Source
	sub    collection.Subscription
}

// Build creates the source collection described by cfg and every view on it.
// Views are built after the view they observe, whatever their order in cfg.
func Build(cfg *Config, lggr logger.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{
		views: make(map[string]View, len(cfg.Views)),
		steps: slices.Clone(cfg.Steps),
		lggr:  lggr,
	}
	if err := p.buildSource(cfg.Source); err != nil {
		return nil, err
	}

	byName := make(map[string]ViewConfig, len(cfg.Views))
	for _, v := range cfg.Views {
		byName[v.Name] = v
	}
	visiting := make(map[string]bool)

	var visit func(name string) error
	visit = func(name string) error {
		if _, ok := p.views[name]; ok {
			return nil
		}
		if visiting[name] {
			return fmt.Errorf("%w: %q", ErrCycle, name)
		}
		vc, ok := byName[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownView, name)
		}

		visiting[name] = true
		from := collection.Source(p.source)
		if vc.From != "" && vc.From != SourceName {
			if err := visit(vc.From); err != nil {
				return err
			}
			from = p.views[vc.From]
		}
		delete(visiting, name)

		view, err := p.buildView(vc, from)
		if err != nil {
			return fmt.Errorf("failed to build view %q: %w", name, err)
		}
		p.views[name] = view
		p.order = append(p.order, name)

		return nil
	}

	for _, v := range cfg.Views {
		if err := visit(v.Name); err != nil {
			p.Close()
			return nil, err
		}
	}
	p.lggr.Infow("pipeline built", "records", p.source.Len(), "views", p.order)

	return p, nil
}

func (p *Pipeline) buildSource(sc SourceConfig) error {
	opts := []collection.Option{collection.WithLogger(p.lggr.Named(SourceName))}
	if sc.IDAttribute != "" {
		opts = append(opts, collection.WithRecordOptions(collection.WithIDAttribute(sc.IDAttribute)))
	}
	if c := collection.ParseComparator(sc.Comparator); c != nil {
		opts = append(opts, collection.WithComparator(c))
	}

	p.source = collection.New(nil, opts...)
	_, err := p.source.Add(p.records(sc.Records), collection.Options{Silent: true})

	return err
}

func (p *Pipeline) buildView(vc ViewConfig, from collection.Source) (View, error) {
	opts := []views.Option{views.WithLogger(p.lggr.Named(vc.Name))}
	if c := collection.ParseComparator(vc.Comparator); c != nil {
		opts = append(opts, views.WithComparator(c))
	}

	if vc.Filter != nil {
		f, err := views.NewFiltered(from, vc.Filter.criterion(), opts...)
		if err != nil {
			return nil, err
		}

		return f, nil
	}

	if vc.Map.IDAttribute != "" {
		opts = append(opts, views.WithFactory(func(attrs collection.Attributes) *collection.Record {
			return collection.NewRecord(attrs, collection.WithIDAttribute(vc.Map.IDAttribute))
		}))
	}
	m, err := views.NewMapped(from, vc.Map.conversion(), opts...)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (f *FilterConfig) criterion() any {
	switch {
	case f.Property != "":
		return f.Property
	case len(f.Path) > 0:
		return f.Path
	default:
		return collection.Attributes(f.Matcher)
	}
}

func (m *MapConfig) conversion() any {
	switch {
	case m.Property != "":
		return m.Property
	case len(m.Path) > 0:
		return m.Path
	default:
		fields := m.Fields
		return func(r *collection.Record) collection.Attributes {
			out := make(collection.Attributes, len(fields))
			for to, from := range fields {
				if v, ok := r.Lookup(from); ok {
					out[to] = v
				}
			}

			return out
		}
	}
}

// Source returns the source collection.
func (p *Pipeline) Source() *collection.Collection { return p.source }

// View returns the view called name.
func (p *Pipeline) View(name string) (View, bool) {
	v, ok := p.views[name]
	return v, ok
}

// Names returns the view names in build order.
func (p *Pipeline) Names() []string { return slices.Clone(p.order) }

// Lookup returns the source for SourceName and the view called name otherwise.
func (p *Pipeline) Lookup(name string) (collection.Source, error) {
	if name == SourceName {
		return p.source, nil
	}
	if v, ok := p.views[name]; ok {
		return v, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownView, name)
}

// Trace logs every event of the source and of every view at debug level.
func (p *Pipeline) Trace() {
	follow := func(name string, s collection.Source) {
		lggr := p.lggr.Named(name)
		sub := s.On(collection.EventAll, func(evt collection.Event) error {
			keysAndValues := []any{"event", evt.Name}
			if evt.Record != nil {
				keysAndValues = append(keysAndValues, "cid", evt.Record.CID(), "id", evt.Record.ID())
			}
			if evt.Index >= 0 {
				keysAndValues = append(keysAndValues, "index", evt.Index)
			}
			lggr.Debugw("event", keysAndValues...)

			return nil
		})
		p.trace = append(p.trace, traced{source: s, sub: sub})
	}

	follow(SourceName, p.source)
	for _, name := range p.order {
		follow(name, p.views[name])
	}
}

// Apply performs step on the source collection. The views follow synchronously.
func (p *Pipeline) Apply(step Step) error {
	if err := step.validate(); err != nil {
		return err
	}
	src := p.source

	switch step.Op {
	case OpAdd:
		opts := collection.Options{}
		if step.At != nil {
			opts = opts.WithAt(*step.At)
		}
		_, err := src.Add(p.records(step.Records), opts)

		return err

	case OpUpsert:
		attrs := make([]collection.Attributes, 0, len(step.Records))
		for _, r := range step.Records {
			attrs = append(attrs, normalizeAttributes(r))
		}
		_, err := src.Upsert(attrs, collection.Options{})

		return err

	case OpRemove:
		for _, id := range step.IDs {
			r, err := p.find(id)
			if err != nil {
				return err
			}
			if _, err := src.Remove(r, collection.Options{}); err != nil {
				return err
			}
		}

		return nil

	case OpReset:
		return src.Reset(p.records(step.Records), collection.Options{})

	case OpSort:
		if c := collection.ParseComparator(step.Comparator); c != nil {
			src.SetComparator(c)
		}

		return src.Sort(collection.Options{})

	case OpMove:
		from, to := src.Len()-1, 0
		if step.From != nil {
			from = *step.From
		}
		if step.To != nil {
			to = *step.To
		}
		r := src.At(from)
		if r == nil {
			return fmt.Errorf("%w: no record at index %d", ErrRecordNotFound, from)
		}
		if _, err := src.Remove(r, collection.Options{}); err != nil {
			return err
		}
		_, err := src.Add([]*collection.Record{r}, collection.Options{}.WithAt(to))

		return err

	case OpSet:
		r, err := p.find(step.ID)
		if err != nil {
			return err
		}

		return r.Set(normalizeAttributes(step.Attributes), collection.Options{})

	case OpUnset:
		r, err := p.find(step.ID)
		if err != nil {
			return err
		}

		return r.Unset(step.Unset...)
	}

	return fmt.Errorf("%w: %q", ErrUnknownOp, step.Op)
}

// Run applies the configured steps in order. It stops at the first failing
// step and when ctx is done.
func (p *Pipeline) Run(ctx context.Context) error {
	for i, step := range p.steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.lggr.Infow("applying step", "index", i, "op", step.Op)
		if err := p.Apply(step); err != nil {
			p.lggr.Errorw("step failed", "index", i, "op", step.Op, "error", err)
			return fmt.Errorf("step %d (%s): %w", i, step.Op, err)
		}
	}

	return nil
}

// Snapshot returns the attributes of the records of the named views, in
// order. Without names it covers the source and every view.
func (p *Pipeline) Snapshot(names ...string) (map[string][]collection.Attributes, error) {
	if len(names) == 0 {
		names = append([]string{SourceName}, p.order...)
	}

	out := make(map[string][]collection.Attributes, len(names))
	for _, name := range names {
		s, err := p.Lookup(name)
		if err != nil {
			return nil, err
		}
		records := s.Records()
		attrs := make([]collection.Attributes, 0, len(records))
		for _, r := range records {
			attrs = append(attrs, r.Attributes())
		}
		out[name] = attrs
	}

	return out, nil
}

// Close stops every view, most derived first, and removes trace listeners.
func (p *Pipeline) Close() {
	for _, t := range p.trace {
		t.source.Off(t.sub)
	}
	p.trace = nil
	for _, name := range slices.Backward(p.order) {
		p.views[name].Close()
	}
}

func (p *Pipeline) records(attrs []map[string]any) []*collection.Record {
	factory := p.source.Factory()
	records := make([]*collection.Record, 0, len(attrs))
	for _, a := range attrs {
		records = append(records, factory(normalizeAttributes(a)))
	}

	return records
}

func (p *Pipeline) find(id any) (*collection.Record, error) {
	r := p.source.Get(id)
	if r == nil {
		return nil, fmt.Errorf("%w: id %v", ErrRecordNotFound, id)
	}

	return r, nil
}
