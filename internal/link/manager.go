// Package link drives a single peer-link session through the manual
// descriptor exchange.
//
// A session starts Idle, creates its local descriptor, waits for the
// counterpart's descriptor, connects and finally closes or fails:
//
//	Idle → CreatingDescriptor → AwaitingRemoteDescriptor → Connecting → Connected → Closed
//
// Failed is reachable from every non-terminal state. The initiator's
// descriptor is an offer created up front; the responder's is an answer
// produced once the offer has been ingested. Each session produces exactly
// one local descriptor.
package link

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"pier2pier.dev/go/pier2pier/internal/fault"
	"pier2pier.dev/go/pier2pier/internal/transport"
)

// Manager owns at most one live session.
type Manager struct {
	capability transport.Capability
	log        *zap.Logger

	mu      sync.Mutex
	current *Session
}

// NewManager creates a manager using capability to create transports.
func NewManager(capability transport.Capability, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{
		capability: capability,
		log:        log,
	}
}

// Create tears down the current session, if any, and starts a new one.
//
// An initiator's Create returns once the offer is ready for transfer. A
// responder's Create returns immediately in AwaitingRemoteDescriptor; its
// answer is delivered through EventLocalDescriptor after the offer has been
// ingested.
func (m *Manager) Create(ctx context.Context, initiator bool) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.log.Warn("Tearing down existing session before creating a new one", zap.String("session", m.current.ID()))
		m.current.Destroy()
		m.current = nil
	}

	s := newSession(initiator, m.log)
	s.setState(CreatingDescriptor)

	tr, err := m.capability.Create(ctx, initiator)
	if err != nil {
		s.Destroy()
		return nil, fault.Transport(err, "create transport")
	}
	s.attach(tr)
	m.current = s

	if !initiator {
		// A transport failing right away has already moved the session to Failed.
		s.transition(AwaitingRemoteDescriptor, CreatingDescriptor)
		return s, nil
	}

	select {
	case <-s.ready:
	case <-ctx.Done():
		s.Destroy()
		m.current = nil
		return nil, errors.WithStack(ctx.Err())
	}

	if state := s.State(); state != AwaitingRemoteDescriptor {
		err := s.Err()
		if err == nil {
			err = fault.Transportf("session ended while creating descriptor: %s", state)
		}
		s.Destroy()
		m.current = nil
		return nil, err
	}
	return s, nil
}

// Current returns the live session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Destroy destroys the current session. Safe to call with no session.
func (m *Manager) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		m.current.Destroy()
		m.current = nil
	}
}
