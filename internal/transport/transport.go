// Package transport defines the peer-link capability the connection
// manager drives. Implementations perform connectivity work; the core only
// depends on this contract.
package transport

import (
	"context"

	"pier2pier.dev/go/pier2pier/internal/sigil"
)

// EventKind identifies a transport event.
type EventKind int

const (
	// EventSignal carries the local descriptor to hand to the counterpart.
	EventSignal EventKind = iota + 1
	// EventConnect reports the link is established.
	EventConnect
	// EventData carries one inbound payload.
	EventData
	// EventClose reports the link was closed.
	EventClose
	// EventError reports a transport fault. It is terminal.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventSignal:
		return "signal"
	case EventConnect:
		return "connect"
	case EventData:
		return "data"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is raised by a transport.
type Event struct {
	Kind       EventKind
	Descriptor *sigil.Descriptor
	Data       []byte
	Err        error
}

// Transport is one side of a point-to-point link.
type Transport interface {
	// Signal hands the counterpart's descriptor to the transport.
	Signal(ctx context.Context, remote sigil.Descriptor) error

	// Send transmits one payload over an established link.
	Send(payload []byte) error

	// Events returns the ordered event stream. It is closed once the
	// transport has raised EventClose or EventError, or was closed locally.
	Events() <-chan Event

	// Close releases the transport. Safe to call more than once.
	Close() error
}

// Capability creates transports.
type Capability interface {
	Create(ctx context.Context, initiator bool) (Transport, error)
}

// CapabilityFunc adapts a function to Capability.
type CapabilityFunc func(ctx context.Context, initiator bool) (Transport, error)

// Create calls f.
func (f CapabilityFunc) Create(ctx context.Context, initiator bool) (Transport, error) {
	return f(ctx, initiator)
}
