// Package protocol defines the application payloads exchanged over an
// established link.
package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"

	"pier2pier.dev/go/pier2pier/internal/fault"
)

// Type identifies the kind of payload.
type Type string

const (
	TypeIdentity Type = "identity"
	TypeChat     Type = "chat"
)

// ErrUnknownPayload is returned for payloads that cannot be decoded into a
// known variant.
var ErrUnknownPayload = errors.Wrap(fault.ErrProtocol, "unknown payload")

// Payload is implemented by Identity and Chat only.
type Payload interface {
	Type() Type
	payload()
}

// Identity announces the sender's chosen user name.
type Identity struct {
	Username string
}

// Type implements Payload.
func (Identity) Type() Type { return TypeIdentity }

func (Identity) payload() {}

// Chat carries one chat message.
type Chat struct {
	Content string
}

// Type implements Payload.
func (Chat) Type() Type { return TypeChat }

func (Chat) payload() {}

type wireMessage struct {
	Type     Type    `json:"type"`
	Username *string `json:"username,omitempty"`
	Content  *string `json:"content,omitempty"`
}

// Encode renders p in its wire form.
func Encode(p Payload) ([]byte, error) {
	var msg wireMessage
	switch v := p.(type) {
	case Identity:
		msg = wireMessage{Type: TypeIdentity, Username: &v.Username}
	case Chat:
		if v.Content == "" {
			return nil, fault.Validationf("chat content is empty")
		}
		msg = wireMessage{Type: TypeChat, Content: &v.Content}
	default:
		return nil, fault.Validationf("cannot encode payload %T", p)
	}

	data, err := json.Marshal(msg)
	return data, errors.WithStack(err)
}

// Decode parses a wire payload. Anything that is not a well-formed
// identity or chat payload yields ErrUnknownPayload.
func Decode(data []byte) (Payload, error) {
	var msg wireMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&msg); err != nil {
		return nil, errors.Wrapf(ErrUnknownPayload, "malformed payload: %v", err)
	}
	if dec.More() {
		return nil, errors.Wrap(ErrUnknownPayload, "trailing data after payload")
	}

	switch msg.Type {
	case TypeIdentity:
		if msg.Username == nil || msg.Content != nil {
			return nil, errors.Wrap(ErrUnknownPayload, "identity payload must carry only a username")
		}
		return Identity{Username: *msg.Username}, nil
	case TypeChat:
		if msg.Content == nil || *msg.Content == "" || msg.Username != nil {
			return nil, errors.Wrap(ErrUnknownPayload, "chat payload must carry non-empty content")
		}
		return Chat{Content: *msg.Content}, nil
	default:
		return nil, errors.Wrapf(ErrUnknownPayload, "payload type %q", msg.Type)
	}
}
