package collection

// Event names emitted by records and collections.
const (
	EventAdd    = "add"
	EventRemove = "remove"
	EventReset  = "reset"
	EventSort   = "sort"
	EventChange = "change"
	// EventUpdate is emitted once after any add or remove batch that changed membership.
	EventUpdate = "update"
	// EventAll listeners receive every event, after the listeners registered for its name.
	EventAll = "all"
)

// ChangeEvent returns the attribute scoped change event name for attr, e.g. "change:name".
func ChangeEvent(attr string) string {
	return EventChange + ":" + attr
}

// Event is the payload delivered to listeners.
type Event struct {
	// Name is the event name, e.g. EventAdd or ChangeEvent("id").
	Name string
	// Record is the affected record. It is nil for reset and sort events.
	Record *Record
	// Collection is the emitting collection. It is nil for events emitted by a record.
	Collection *Collection
	// Options are the options of the mutation that caused the event.
	Options Options
	// Index is the position of Record for add and remove events, -1 otherwise.
	Index int
	// Previous holds the records that were replaced by a reset.
	Previous []*Record
}

// Handler reacts to an Event. A non-nil error stops delivery to the remaining
// listeners and is returned to whoever triggered the event.
type Handler func(Event) error

// Subscription identifies a registered listener.
type Subscription struct {
	name string
	id   uint64
}

type listener struct {
	id      uint64
	handler Handler
	once    bool
}

// Events is an explicit listener table. The zero value is ready to use.
//
// Delivery is synchronous and in registration order. Listeners added while an
// event is being delivered do not receive it; listeners removed while an event
// is being delivered are skipped. Events is not safe for concurrent use.
type Events struct {
	nextID    uint64
	listeners map[string][]listener
	live      map[uint64]string
}

// On registers h for events named name.
func (e *Events) On(name string, h Handler) Subscription {
	return e.register(name, h, false)
}

// Once registers h for the next event named name only.
func (e *Events) Once(name string, h Handler) Subscription {
	return e.register(name, h, true)
}

func (e *Events) register(name string, h Handler, once bool) Subscription {
	if e.listeners == nil {
		e.listeners = make(map[string][]listener)
		e.live = make(map[uint64]string)
	}
	e.nextID++
	e.listeners[name] = append(e.listeners[name], listener{id: e.nextID, handler: h, once: once})
	e.live[e.nextID] = name

	return Subscription{name: name, id: e.nextID}
}

// Off removes the listener identified by sub. Removing an unknown or already
// removed subscription is a no-op.
func (e *Events) Off(sub Subscription) {
	if _, ok := e.live[sub.id]; !ok {
		return
	}
	delete(e.live, sub.id)

	current := e.listeners[sub.name]
	remaining := make([]listener, 0, len(current))
	for _, l := range current {
		if l.id != sub.id {
			remaining = append(remaining, l)
		}
	}
	if len(remaining) == 0 {
		delete(e.listeners, sub.name)
		return
	}
	e.listeners[sub.name] = remaining
}

// ListenerCount returns the number of listeners registered for name.
func (e *Events) ListenerCount(name string) int {
	return len(e.listeners[name])
}

// Trigger delivers evt to the listeners registered for evt.Name and then to
// the EventAll listeners.
func (e *Events) Trigger(evt Event) error {
	if len(e.listeners) == 0 {
		return nil
	}

	// The snapshot is taken up front so that listeners may subscribe and
	// unsubscribe while the event is being delivered.
	snapshot := append([]listener{}, e.listeners[evt.Name]...)
	if evt.Name != EventAll {
		snapshot = append(snapshot, e.listeners[EventAll]...)
	}

	for _, l := range snapshot {
		name, ok := e.live[l.id]
		if !ok {
			continue
		}
		if l.once {
			e.Off(Subscription{name: name, id: l.id})
		}
		if err := l.handler(evt); err != nil {
			return err
		}
	}

	return nil
}
