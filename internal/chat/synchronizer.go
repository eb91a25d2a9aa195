// Package chat binds an established link to a stored conversation.
//
// The Synchronizer announces the local identity when the link connects,
// derives the conversation key from the remote identity, persists inbound
// and outbound chat messages and reports them to the caller. Delivery is
// at-most-once: an outbound message is stored first and transmitted once,
// with no acknowledgement or retry.
package chat

import (
	"context"
	"sync"

	"github.com/outofforest/logger"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"pier2pier.dev/go/pier2pier/internal/fault"
	"pier2pier.dev/go/pier2pier/internal/identity"
	"pier2pier.dev/go/pier2pier/internal/link"
	"pier2pier.dev/go/pier2pier/internal/protocol"
	"pier2pier.dev/go/pier2pier/internal/store"
)

// ErrUnbound is returned while no remote identity has been received.
var ErrUnbound = errors.Wrap(fault.ErrTransport, "link is not bound to a conversation")

// MessageStore is the storage used by a Synchronizer.
type MessageStore interface {
	InsertMessage(ctx context.Context, peerAddress, content string, sent bool) (store.Message, error)
	Messages(ctx context.Context, peerAddress string) (store.Conversation, error)
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// OnBound registers fn to be called with the conversation key once the
// remote identity is known.
func OnBound(fn func(key string)) Option {
	return func(s *Synchronizer) { s.onBound = fn }
}

// OnMessage registers fn to be called for every stored inbound message.
func OnMessage(fn func(store.Message)) Option {
	return func(s *Synchronizer) { s.onMessage = fn }
}

// WithRateLimit overrides the inbound payload limits.
func WithRateLimit(config RateLimitConfig) Option {
	return func(s *Synchronizer) { s.limits = config }
}

// Stats holds payload counters of a Synchronizer.
type Stats struct {
	Sent     int64
	Received int64
	Dropped  int64
}

// Synchronizer bridges link data events and the message store.
type Synchronizer struct {
	store     MessageStore
	localUser string
	limits    RateLimitConfig
	onBound   func(key string)
	onMessage func(store.Message)

	mu       sync.Mutex
	ctx      context.Context
	session  *link.Session
	unsubs   []func()
	limiter  *RateLimiter
	remote   string
	key      string
	sent     int64
	received int64
}

// New creates a synchronizer for localUser. An empty localUser is the
// default identity.
func New(st MessageStore, localUser string, opts ...Option) (*Synchronizer, error) {
	user, err := identity.Normalize(localUser)
	if err != nil {
		return nil, err
	}

	s := &Synchronizer{
		store:     st,
		localUser: user,
		limits:    DefaultRateLimitConfig(),
		onBound:   func(string) {},
		onMessage: func(store.Message) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.limiter = NewRateLimiter(s.limits)
	return s, nil
}

// LocalUser returns the normalized local identity.
func (s *Synchronizer) LocalUser() string {
	return s.localUser
}

// Attach binds the synchronizer to session, replacing any previous one.
// Storage calls issued from session events use ctx, which also carries the
// logger.
func (s *Synchronizer) Attach(ctx context.Context, session *link.Session) {
	s.detach()

	s.mu.Lock()
	s.ctx = ctx
	s.session = session
	s.remote = ""
	s.key = ""
	s.limiter = NewRateLimiter(s.limits)
	s.unsubs = []func(){
		session.On(link.EventConnected, func(link.Event) { s.announce() }),
		session.On(link.EventData, func(ev link.Event) { s.receive(ev.Data) }),
		session.On(link.EventClosed, func(link.Event) { s.unbind() }),
		session.On(link.EventError, func(link.Event) { s.unbind() }),
	}
	s.mu.Unlock()

	if session.State() == link.Connected {
		s.announce()
	}
}

// ConversationKey returns the key of the bound conversation, or "" before
// the remote identity arrived.
func (s *Synchronizer) ConversationKey() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.key
}

// RemoteUser returns the remote identity, or "" before it arrived.
func (s *Synchronizer) RemoteUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remote
}

// Send stores content as a sent message and transmits it once. A transmit
// failure is returned as a transport error together with the stored
// message.
func (s *Synchronizer) Send(ctx context.Context, content string) (store.Message, error) {
	s.mu.Lock()
	key := s.key
	session := s.session
	s.mu.Unlock()

	if key == "" || session == nil {
		return store.Message{}, ErrUnbound
	}

	data, err := protocol.Encode(protocol.Chat{Content: content})
	if err != nil {
		return store.Message{}, err
	}

	msg, err := s.store.InsertMessage(ctx, key, content, true)
	if err != nil {
		return store.Message{}, err
	}

	if err := session.Send(data); err != nil {
		logger.Get(ctx).Warn("Message stored but not transmitted",
			zap.String("id", msg.ID), zap.Error(err))
		return msg, fault.Transport(err, "transmit message")
	}

	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
	return msg, nil
}

// Conversation returns the bound conversation with messages in timestamp
// order.
func (s *Synchronizer) Conversation(ctx context.Context) (store.Conversation, error) {
	key := s.ConversationKey()
	if key == "" {
		return store.Conversation{}, ErrUnbound
	}
	return s.store.Messages(ctx, key)
}

// Stats returns payload counters.
func (s *Synchronizer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Sent:     s.sent,
		Received: s.received,
		Dropped:  s.limiter.Stats().TotalDropped,
	}
}

// Detach drops the subscriptions on the current session.
func (s *Synchronizer) Detach() {
	s.detach()
}

func (s *Synchronizer) detach() {
	s.mu.Lock()
	unsubs := s.unsubs
	s.unsubs = nil
	s.session = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
}

func (s *Synchronizer) unbind() {
	s.mu.Lock()
	s.session = nil
	s.unsubs = nil
	ctx := s.ctx
	s.mu.Unlock()

	logger.Get(ctx).Debug("Link closed, conversation unbound")
}

func (s *Synchronizer) announce() {
	s.mu.Lock()
	session := s.session
	ctx := s.ctx
	s.mu.Unlock()

	if session == nil {
		return
	}

	data, err := protocol.Encode(protocol.Identity{Username: s.localUser})
	if err != nil {
		logger.Get(ctx).Error("Encoding identity failed", zap.Error(err))
		return
	}
	if err := session.Send(data); err != nil {
		logger.Get(ctx).Warn("Sending identity failed", zap.Error(err))
	}
}

func (s *Synchronizer) receive(data []byte) {
	s.mu.Lock()
	ctx := s.ctx
	limiter := s.limiter
	s.mu.Unlock()

	log := logger.Get(ctx)

	if err := limiter.AllowSize(len(data)); err != nil {
		log.Warn("Inbound payload dropped", zap.Error(err))
		return
	}

	p, err := protocol.Decode(data)
	if err != nil {
		limiter.RecordDrop("")
		log.Warn("Inbound payload dropped", zap.Error(err))
		return
	}
	if err := limiter.Allow(p.Type()); err != nil {
		log.Warn("Inbound payload dropped", zap.Error(err))
		return
	}

	switch v := p.(type) {
	case protocol.Identity:
		s.bind(ctx, v, limiter)
	case protocol.Chat:
		s.persist(ctx, v, limiter)
	}
}

func (s *Synchronizer) bind(ctx context.Context, id protocol.Identity, limiter *RateLimiter) {
	log := logger.Get(ctx)

	remote, err := identity.Normalize(id.Username)
	if err != nil {
		limiter.RecordDrop(protocol.TypeIdentity)
		log.Warn("Inbound identity dropped", zap.Error(fault.Protocol(err, "remote identity")))
		return
	}
	key := identity.ConversationID(s.localUser, remote)

	s.mu.Lock()
	s.remote = remote
	s.key = key
	s.mu.Unlock()

	log.Info("Conversation bound", zap.String("remote", remote), zap.String("key", key))
	s.onBound(key)
}

func (s *Synchronizer) persist(ctx context.Context, c protocol.Chat, limiter *RateLimiter) {
	log := logger.Get(ctx)

	s.mu.Lock()
	key := s.key
	s.mu.Unlock()

	if key == "" {
		limiter.RecordDrop(protocol.TypeChat)
		log.Warn("Inbound chat dropped", zap.Error(fault.Protocolf("chat payload before identity")))
		return
	}

	msg, err := s.store.InsertMessage(ctx, key, c.Content, false)
	if err != nil {
		limiter.RecordDrop(protocol.TypeChat)
		log.Error("Storing inbound message failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	s.received++
	s.mu.Unlock()

	s.onMessage(msg)
}
