// Package sigil serializes connection descriptors for manual, out-of-band
// transfer between two peers.
//
// A sigil is the text form of a descriptor: a short prefix followed by the
// URL-safe base64 encoding of its JSON. It survives copy-paste through chat
// windows, e-mail and terminals, and fits in a QR code.
package sigil

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"pier2pier.dev/go/pier2pier/internal/fault"
)

const (
	// Version is the descriptor format version.
	Version = 1

	// Prefix marks the text form of a descriptor.
	Prefix = "p2p1."

	// MaxCandidates bounds the number of addresses in one descriptor.
	MaxCandidates = 8

	// TokenSize is the size of the session token in bytes.
	TokenSize = 32

	// MaxLength bounds the accepted text form.
	MaxLength = 4096
)

// Type tells offers and answers apart.
type Type string

const (
	TypeOffer  Type = "offer"
	TypeAnswer Type = "answer"
)

// Descriptor is one side's connection offer or answer.
type Descriptor struct {
	Version    int      `json:"v"`
	Type       Type     `json:"type"`
	Session    string   `json:"session"`
	Candidates []string `json:"candidates,omitempty"`
	Token      string   `json:"token"`
}

// Validate checks the descriptor shape.
func (d Descriptor) Validate() error {
	if d.Version != Version {
		return fault.Validationf("unsupported descriptor version %d", d.Version)
	}

	switch d.Type {
	case TypeOffer:
		if len(d.Candidates) == 0 {
			return fault.Validationf("offer carries no candidates")
		}
	case TypeAnswer:
	default:
		return fault.Validationf("unknown descriptor type %q", d.Type)
	}

	if _, err := uuid.Parse(d.Session); err != nil {
		return fault.Validationf("invalid session id %q", d.Session)
	}

	if len(d.Candidates) > MaxCandidates {
		return fault.Validationf("too many candidates: %d", len(d.Candidates))
	}
	for _, c := range d.Candidates {
		u, err := url.Parse(c)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fault.Validationf("invalid candidate %q", c)
		}
	}

	token, err := hex.DecodeString(d.Token)
	if err != nil || len(token) != TokenSize {
		return fault.Validationf("invalid token")
	}

	return nil
}

// Equal reports whether two descriptors carry the same content.
func (d Descriptor) Equal(o Descriptor) bool {
	if d.Version != o.Version || d.Type != o.Type || d.Session != o.Session || d.Token != o.Token {
		return false
	}
	if len(d.Candidates) != len(o.Candidates) {
		return false
	}
	for i := range d.Candidates {
		if d.Candidates[i] != o.Candidates[i] {
			return false
		}
	}
	return true
}

// Serialize renders d as a sigil.
func Serialize(d Descriptor) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}

	data, err := json.Marshal(d)
	if err != nil {
		return "", errors.WithStack(err)
	}

	return Prefix + base64.RawURLEncoding.EncodeToString(data), nil
}

// Parse turns a sigil back into a descriptor. Whitespace anywhere in text is
// ignored, since pasted sigils are often wrapped across lines.
func Parse(text string) (Descriptor, error) {
	compact := strings.Join(strings.Fields(text), "")
	if compact == "" {
		return Descriptor{}, fault.Validationf("empty sigil")
	}
	if len(compact) > MaxLength {
		return Descriptor{}, fault.Validationf("sigil too long: %d characters", len(compact))
	}
	if !strings.HasPrefix(compact, Prefix) {
		return Descriptor{}, fault.Validationf("not a sigil: missing %q prefix", Prefix)
	}

	data, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(compact, Prefix))
	if err != nil {
		return Descriptor{}, fault.Validationf("sigil is not valid base64")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var d Descriptor
	if err := dec.Decode(&d); err != nil {
		return Descriptor{}, fault.Validationf("sigil is not a descriptor: %v", err)
	}
	if dec.More() {
		return Descriptor{}, fault.Validationf("trailing data after descriptor")
	}

	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}
