// Package fault defines the error taxonomy shared by the pier2pier core.
//
// Errors crossing a component boundary wrap one of the sentinels below, so
// callers can branch with errors.Is regardless of how much context was added
// on the way up. An error reclassified at a boundary (a malformed descriptor
// reported as a protocol error) matches both kinds; Kind reports the
// outermost one.
package fault

import (
	"github.com/pkg/errors"
)

var (
	// ErrValidation marks input rejected at a boundary before it reached
	// transport or storage.
	ErrValidation = errors.New("validation error")

	// ErrTransport marks malformed descriptors, link failures and faults
	// reported by the transport. The session is failed and the ritual must
	// be restarted.
	ErrTransport = errors.New("transport error")

	// ErrStorage marks failures of the storage engine.
	ErrStorage = errors.New("storage error")

	// ErrProtocol marks malformed application payloads received over an
	// established link.
	ErrProtocol = errors.New("protocol error")
)

// Validationf returns a validation error with a formatted message.
func Validationf(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}

// Protocolf returns a protocol error with a formatted message.
func Protocolf(format string, args ...any) error {
	return errors.Wrapf(ErrProtocol, format, args...)
}

// Transportf returns a transport error with a formatted message.
func Transportf(format string, args ...any) error {
	return errors.Wrapf(ErrTransport, format, args...)
}

// Transport classifies err as a transport error.
func Transport(err error, msg string) error {
	return wrap(err, ErrTransport, msg)
}

// Storage classifies err as a storage error.
func Storage(err error, msg string) error {
	return wrap(err, ErrStorage, msg)
}

// Protocol classifies err as a protocol error.
func Protocol(err error, msg string) error {
	return wrap(err, ErrProtocol, msg)
}

// Kind returns the outermost taxonomy sentinel in err's chain, or nil.
func Kind(err error) error {
	for e := err; e != nil; e = errors.Unwrap(e) {
		if c, ok := e.(*classified); ok {
			return c.kind
		}
		switch e {
		case ErrValidation, ErrTransport, ErrStorage, ErrProtocol:
			return e
		}
	}
	return nil
}

type classified struct {
	kind  error
	cause error
	msg   string
}

func (c *classified) Error() string {
	return c.msg + ": " + c.cause.Error()
}

func (c *classified) Unwrap() error {
	return c.cause
}

func (c *classified) Is(target error) bool {
	return target == c.kind
}

func wrap(err, kind error, msg string) error {
	if err == nil {
		return nil
	}
	if Kind(err) == kind {
		return errors.WithMessage(err, msg)
	}
	return errors.WithStack(&classified{kind: kind, cause: err, msg: msg})
}
