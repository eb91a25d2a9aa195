package link

import (
	"sync"

	"pier2pier.dev/go/pier2pier/internal/sigil"
)

// EventKind identifies a session event.
type EventKind int

const (
	// EventLocalDescriptor delivers the local descriptor and its sigil for
	// manual transfer.
	EventLocalDescriptor EventKind = iota + 1
	// EventConnected reports the link is up.
	EventConnected
	// EventData carries one inbound payload.
	EventData
	// EventClosed reports the link was closed. The session is torn down
	// after handlers return.
	EventClosed
	// EventError reports the failure that moved the session to Failed.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventLocalDescriptor:
		return "local-descriptor"
	case EventConnected:
		return "connected"
	case EventData:
		return "data"
	case EventClosed:
		return "closed"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is delivered to session subscribers.
type Event struct {
	Kind       EventKind
	Descriptor *sigil.Descriptor
	Sigil      string
	Data       []byte
	Err        error
}

// Handler handles session events. Handlers run one at a time on the
// session's event loop and must not block on the session itself.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// subscriptions is the per-session handler table keyed by event kind.
type subscriptions struct {
	mu    sync.Mutex
	next  uint64
	table map[EventKind][]subscription
}

func newSubscriptions() *subscriptions {
	return &subscriptions{table: map[EventKind][]subscription{}}
}

func (s *subscriptions) add(kind EventKind, h Handler) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	id := s.next
	s.table[kind] = append(s.table[kind], subscription{id: id, handler: h})

	return func() {
		s.remove(kind, id)
	}
}

func (s *subscriptions) remove(kind EventKind, id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.table[kind]
	for i, sub := range subs {
		if sub.id == id {
			s.table[kind] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(s.table[kind]) == 0 {
		delete(s.table, kind)
	}
}

// handlers returns the handlers of kind in subscription order.
func (s *subscriptions) handlers(kind EventKind) []Handler {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.table[kind]
	handlers := make([]Handler, 0, len(subs))
	for _, sub := range subs {
		handlers = append(handlers, sub.handler)
	}
	return handlers
}

// clear drops every subscription at once.
func (s *subscriptions) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.table = map[EventKind][]subscription{}
}

func (s *subscriptions) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, subs := range s.table {
		n += len(subs)
	}
	return n
}
