package link

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"pier2pier.dev/go/pier2pier/internal/fault"
	"pier2pier.dev/go/pier2pier/internal/sigil"
	"pier2pier.dev/go/pier2pier/internal/transport"
)

// Session is one peer-link attempt, from descriptor creation to close.
type Session struct {
	id        string
	initiator bool
	log       *zap.Logger
	subs      *subscriptions

	mu        sync.Mutex
	state     State
	local     *sigil.Descriptor
	localText string
	remote    *sigil.Descriptor
	transport transport.Transport
	failure   error

	// internal carries failures detected outside the loop so that they are
	// dispatched in order with transport events.
	internal chan transport.Event

	ready     chan struct{}
	readyOnce sync.Once
	done      chan struct{}
	doneOnce  sync.Once
}

func newSession(initiator bool, log *zap.Logger) *Session {
	id := uuid.NewString()
	return &Session{
		id:        id,
		initiator: initiator,
		log:       log.With(zap.String("session", id), zap.Bool("initiator", initiator)),
		subs:      newSubscriptions(),
		internal:  make(chan transport.Event, 1),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// ID returns the local session id used in logs.
func (s *Session) ID() string {
	return s.id
}

// Initiator reports whether this side creates the offer.
func (s *Session) Initiator() bool {
	return s.initiator
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that moved the session to Failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// LocalDescriptor returns the local descriptor and its sigil once ready.
func (s *Session) LocalDescriptor() (sigil.Descriptor, string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.local == nil {
		return sigil.Descriptor{}, "", false
	}
	return *s.local, s.localText, true
}

// RemoteDescriptor returns the ingested remote descriptor.
func (s *Session) RemoteDescriptor() (sigil.Descriptor, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.remote == nil {
		return sigil.Descriptor{}, false
	}
	return *s.remote, true
}

// On subscribes h to events of kind and returns the unsubscribe function.
func (s *Session) On(kind EventKind, h Handler) func() {
	return s.subs.add(kind, h)
}

// Subscriptions returns the number of live subscriptions.
func (s *Session) Subscriptions() int {
	return s.subs.count()
}

// Done is closed once the session is torn down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// IngestRemoteDescriptor parses the counterpart's sigil and hands it to the
// transport. A malformed or mismatching sigil fails the session with a
// protocol error.
func (s *Session) IngestRemoteDescriptor(ctx context.Context, text string) error {
	s.mu.Lock()
	state := s.state
	local := s.local
	s.mu.Unlock()

	if state != AwaitingRemoteDescriptor {
		return fault.Validationf("cannot ingest a remote descriptor while %s", state)
	}

	d, err := sigil.Parse(text)
	if err != nil {
		return s.reject(fault.Protocol(err, "ingest remote descriptor"))
	}

	expected := sigil.TypeOffer
	if s.initiator {
		expected = sigil.TypeAnswer
	}
	if d.Type != expected {
		return s.reject(fault.Protocolf("expected an %s descriptor, got %s", expected, d.Type))
	}
	if s.initiator && local != nil && d.Session != local.Session {
		return s.reject(fault.Protocolf("answer belongs to another session"))
	}

	s.mu.Lock()
	if s.state != AwaitingRemoteDescriptor {
		s.mu.Unlock()
		return fault.Validationf("cannot ingest a remote descriptor while %s", s.state)
	}
	s.remote = &d
	s.state = Connecting
	tr := s.transport
	s.mu.Unlock()

	s.log.Debug("Remote descriptor ingested", zap.String("type", string(d.Type)))

	if err := tr.Signal(ctx, d); err != nil {
		return s.reject(fault.Transport(err, "signal remote descriptor"))
	}
	return nil
}

// Send transmits one payload over the established link.
func (s *Session) Send(payload []byte) error {
	s.mu.Lock()
	state := s.state
	tr := s.transport
	s.mu.Unlock()

	if state != Connected || tr == nil {
		return fault.Transportf("cannot send while %s", state)
	}
	return tr.Send(payload)
}

// Destroy releases the transport, drops every subscription and resets the
// state to Idle. Safe to call from any state, more than once, and from
// within a handler.
func (s *Session) Destroy() {
	s.teardown()

	s.mu.Lock()
	s.state = Idle
	s.mu.Unlock()
}

func (s *Session) attach(tr transport.Transport) {
	s.mu.Lock()
	s.transport = tr
	s.mu.Unlock()

	go s.run(tr.Events())
}

func (s *Session) run(events <-chan transport.Event) {
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.internal:
			s.handle(ev)
		case ev, ok := <-events:
			if !ok {
				if !s.isDone() {
					s.handle(transport.Event{Kind: transport.EventClose})
				}
				return
			}
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev transport.Event) {
	if s.isDone() {
		return
	}

	switch ev.Kind {
	case transport.EventSignal:
		s.onLocalDescriptor(ev.Descriptor)
	case transport.EventConnect:
		if !s.transition(Connected, Connecting) {
			s.log.Warn("Ignoring connect outside of connecting state", zap.Stringer("state", s.State()))
			return
		}
		s.log.Info("Peer link connected")
		s.dispatch(Event{Kind: EventConnected})
	case transport.EventData:
		if s.State() != Connected {
			s.log.Warn("Dropping data received before connect")
			return
		}
		s.dispatch(Event{Kind: EventData, Data: ev.Data})
	case transport.EventClose:
		s.mu.Lock()
		s.state = Closed
		s.mu.Unlock()
		s.log.Info("Peer link closed")
		s.dispatch(Event{Kind: EventClosed})
		s.teardown()
	case transport.EventError:
		err := ev.Err
		if err == nil {
			err = fault.Transportf("transport reported an unspecified fault")
		}
		s.mu.Lock()
		s.state = Failed
		if s.failure == nil {
			s.failure = err
		}
		err = s.failure
		s.mu.Unlock()
		s.log.Error("Peer link failed", zap.Error(err))
		s.markReady()
		s.dispatch(Event{Kind: EventError, Err: err})
		s.teardown()
	default:
		s.log.Warn("Ignoring unknown transport event", zap.Stringer("kind", ev.Kind))
	}
}

func (s *Session) onLocalDescriptor(d *sigil.Descriptor) {
	if d == nil {
		return
	}

	s.mu.Lock()
	if s.local != nil {
		s.mu.Unlock()
		s.log.Warn("Ignoring additional local descriptor")
		return
	}
	text, err := sigil.Serialize(*d)
	if err != nil {
		s.mu.Unlock()
		s.failOnLoop(fault.Transport(err, "serialize local descriptor"))
		return
	}
	s.local = d
	s.localText = text
	if s.state == CreatingDescriptor {
		s.state = AwaitingRemoteDescriptor
	}
	s.mu.Unlock()

	s.log.Debug("Local descriptor ready", zap.String("type", string(d.Type)))
	s.markReady()
	s.dispatch(Event{Kind: EventLocalDescriptor, Descriptor: d, Sigil: text})
}

// failOnLoop dispatches a failure detected on the loop itself.
func (s *Session) failOnLoop(err error) {
	s.handle(transport.Event{Kind: transport.EventError, Err: err})
}

// reject moves the session to Failed and queues the error for subscribers.
func (s *Session) reject(err error) error {
	s.mu.Lock()
	if s.state.Terminal() || s.state == Idle {
		s.mu.Unlock()
		return err
	}
	s.state = Failed
	s.failure = err
	s.mu.Unlock()

	select {
	case s.internal <- transport.Event{Kind: transport.EventError, Err: err}:
	case <-s.done:
	}
	return err
}

func (s *Session) transition(to State, from ...State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range from {
		if s.state == f {
			s.log.Debug("State transition", zap.Stringer("from", s.state), zap.Stringer("to", to))
			s.state = to
			return true
		}
	}
	return false
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Session) dispatch(ev Event) {
	for _, h := range s.subs.handlers(ev.Kind) {
		h(ev)
	}
}

func (s *Session) teardown() {
	s.subs.clear()
	s.doneOnce.Do(func() {
		close(s.done)
	})

	s.mu.Lock()
	tr := s.transport
	s.transport = nil
	s.mu.Unlock()

	if tr != nil {
		if err := tr.Close(); err != nil {
			s.log.Warn("Closing transport failed", zap.Error(err))
		}
	}
	s.markReady()
}

func (s *Session) markReady() {
	s.readyOnce.Do(func() {
		close(s.ready)
	})
}

func (s *Session) isDone() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}
