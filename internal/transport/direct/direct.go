// Package direct implements the transport capability over a direct
// websocket between the two peers.
//
// The initiator listens and advertises its addresses in the offer; the
// responder dials them after ingesting the offer. The link is only
// reported as connected once both descriptors have been exchanged: the
// responder's hello carries both session tokens, and the initiator
// acknowledges it only after the answer was ingested.
package direct

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/outofforest/parallel"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"pier2pier.dev/go/pier2pier/internal/fault"
	"pier2pier.dev/go/pier2pier/internal/sigil"
	"pier2pier.dev/go/pier2pier/internal/transport"
)

const (
	writeWait      = 10 * time.Second
	helloWait      = 10 * time.Second
	dialBackoff    = 500 * time.Millisecond
	maxMessageSize = 64 * 1024
	eventBuffer    = 64
	pathPrefix     = "/sigil/"
)

// Config configures the direct capability.
type Config struct {
	ListenAddr     string
	AdvertiseHost  string
	ConnectTimeout time.Duration
}

// DefaultConfig returns the defaults used when no config file is present.
func DefaultConfig() Config {
	return Config{
		ListenAddr:     "0.0.0.0:0",
		ConnectTimeout: 30 * time.Second,
	}
}

// Capability creates direct websocket transports.
type Capability struct {
	cfg Config
	log *zap.Logger
}

// New creates the capability.
func New(cfg Config, log *zap.Logger) *Capability {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultConfig().ListenAddr
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConfig().ConnectTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Capability{cfg: cfg, log: log}
}

// Create creates a transport. An initiator starts listening and raises its
// offer immediately; a responder waits for the offer to be signaled.
func (c *Capability) Create(ctx context.Context, initiator bool) (transport.Transport, error) {
	runCtx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		cfg:       c.cfg,
		log:       c.log,
		initiator: initiator,
		token:     newToken(),
		events:    make(chan transport.Event, eventBuffer),
		done:      make(chan struct{}),
		answered:  make(chan struct{}),
		ctx:       runCtx,
		cancel:    cancel,
	}

	if initiator {
		if err := t.listen(); err != nil {
			cancel()
			return nil, err
		}
	}
	return t, nil
}

// hello is the first frame the responder sends over a fresh socket.
type hello struct {
	Session string `json:"session"`
	Offer   string `json:"offer"`
	Answer  string `json:"answer"`
}

// ack confirms the hello.
type ack struct {
	OK bool `json:"ok"`
}

// Transport is one end of a direct websocket link.
type Transport struct {
	cfg       Config
	log       *zap.Logger
	initiator bool
	token     string

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	session   string
	remote    *sigil.Descriptor
	conn      *websocket.Conn
	server    *http.Server
	pending   map[*websocket.Conn]struct{}
	closeOnce sync.Once
	done      chan struct{}
	answered  chan struct{}

	writeMu sync.Mutex

	emitMu   sync.Mutex
	finished bool
	events   chan transport.Event
}

// Events returns the ordered event stream.
func (t *Transport) Events() <-chan transport.Event {
	return t.events
}

// Signal hands the counterpart's descriptor to the transport.
func (t *Transport) Signal(ctx context.Context, remote sigil.Descriptor) error {
	if err := remote.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.isClosed() {
		return fault.Transportf("transport closed")
	}
	if t.remote != nil {
		return fault.Transportf("remote descriptor already signaled")
	}

	if t.initiator {
		if remote.Type != sigil.TypeAnswer {
			return fault.Validationf("initiator expects an answer, got %s", remote.Type)
		}
		if remote.Session != t.session {
			return fault.Validationf("answer belongs to another session")
		}
		t.remote = &remote
		close(t.answered)
		t.log.Debug("Answer ingested", zap.String("session", t.session))
		return nil
	}

	if remote.Type != sigil.TypeOffer {
		return fault.Validationf("responder expects an offer, got %s", remote.Type)
	}
	t.remote = &remote
	t.session = remote.Session

	answer := sigil.Descriptor{
		Version: sigil.Version,
		Type:    sigil.TypeAnswer,
		Session: remote.Session,
		Token:   t.token,
	}
	t.emit(transport.Event{Kind: transport.EventSignal, Descriptor: &answer})

	go t.dial(remote)
	return nil
}

// Send transmits one payload as a text frame.
func (t *Transport) Send(payload []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()

	if conn == nil || t.isClosed() {
		return fault.Transportf("link is not established")
	}
	if len(payload) > maxMessageSize {
		return fault.Transportf("payload of %d bytes exceeds %d", len(payload), maxMessageSize)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fault.Transport(err, "write payload")
	}
	return nil
}

// Close releases the listener and sockets. Safe to call more than once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		close(t.done)
		t.cancel()

		t.mu.Lock()
		conn := t.conn
		server := t.server
		pending := t.pending
		t.pending = nil
		t.mu.Unlock()

		if conn != nil {
			t.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
			t.writeMu.Unlock()
			_ = conn.Close()
		}
		for c := range pending {
			_ = c.Close()
		}
		if server != nil {
			_ = server.Close()
		}

		t.emitMu.Lock()
		if !t.finished {
			t.finished = true
			close(t.events)
		}
		t.emitMu.Unlock()
	})
	return nil
}

func (t *Transport) isClosed() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// emit delivers ev in order. Terminal events close the stream.
func (t *Transport) emit(ev transport.Event) {
	t.emitMu.Lock()
	defer t.emitMu.Unlock()

	if t.finished {
		return
	}
	select {
	case t.events <- ev:
	case <-t.done:
		return
	}
	if ev.Kind == transport.EventClose || ev.Kind == transport.EventError {
		t.finished = true
		close(t.events)
	}
}

func (t *Transport) fail(err error) {
	t.log.Error("Transport failed", zap.Stringer("transport", t), zap.Error(err))
	t.emit(transport.Event{Kind: transport.EventError, Err: err})
}

func (t *Transport) listen() error {
	listener, err := net.Listen("tcp", t.cfg.ListenAddr)
	if err != nil {
		return fault.Transport(err, fmt.Sprintf("listen on %s", t.cfg.ListenAddr))
	}

	t.session = uuid.NewString()
	path := pathPrefix + t.session

	mux := http.NewServeMux()
	mux.HandleFunc(path, t.handleUpgrade)
	t.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: helloWait,
	}
	go func() {
		if err := t.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.fail(fault.Transport(err, "serve"))
		}
	}()

	port := strconv.Itoa(listener.Addr().(*net.TCPAddr).Port)
	var candidates []string
	for _, host := range advertiseHosts(t.cfg.AdvertiseHost) {
		candidates = append(candidates, "ws://"+net.JoinHostPort(host, port)+path)
	}

	offer := sigil.Descriptor{
		Version:    sigil.Version,
		Type:       sigil.TypeOffer,
		Session:    t.session,
		Candidates: candidates,
		Token:      t.token,
	}
	t.log.Debug("Listening for responder", zap.String("session", t.session), zap.Strings("candidates", candidates))
	t.emit(transport.Event{Kind: transport.EventSignal, Descriptor: &offer})
	return nil
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		// Peers are authenticated by the session tokens, not by origin.
		return true
	},
}

func (t *Transport) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.log.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}
	conn.SetReadLimit(maxMessageSize)

	t.mu.Lock()
	if t.isClosed() {
		t.mu.Unlock()
		_ = conn.Close()
		return
	}
	if t.pending == nil {
		t.pending = map[*websocket.Conn]struct{}{}
	}
	t.pending[conn] = struct{}{}
	t.mu.Unlock()

	if !t.accept(conn) {
		t.mu.Lock()
		delete(t.pending, conn)
		t.mu.Unlock()
		_ = conn.Close()
		return
	}

	t.serve(conn)
}

// accept authenticates an inbound socket and claims it as the link.
func (t *Transport) accept(conn *websocket.Conn) bool {
	_ = conn.SetReadDeadline(time.Now().Add(helloWait))
	var h hello
	if err := conn.ReadJSON(&h); err != nil {
		t.log.Debug("Reading hello failed", zap.Error(err))
		return false
	}
	_ = conn.SetReadDeadline(time.Time{})

	if h.Session != t.session || h.Offer != t.token {
		t.log.Warn("Rejected socket with foreign session tokens", zap.String("session", t.session))
		return false
	}

	// The answer arrives at human pace.
	select {
	case <-t.answered:
	case <-t.done:
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if h.Answer != t.remote.Token {
		t.log.Warn("Rejected socket with mismatching answer token", zap.String("session", t.session))
		return false
	}
	if t.conn != nil || t.isClosed() {
		return false
	}

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(ack{OK: true}); err != nil {
		t.log.Debug("Writing ack failed", zap.Error(err))
		return false
	}

	delete(t.pending, conn)
	t.conn = conn
	t.emit(transport.Event{Kind: transport.EventConnect})
	return true
}

// dial connects to the offer's candidates, retrying until ConnectTimeout.
func (t *Transport) dial(offer sigil.Descriptor) {
	ctx, cancel := context.WithTimeout(t.ctx, t.cfg.ConnectTimeout)
	defer cancel()

	dialer := websocket.Dialer{HandshakeTimeout: helloWait}

	var lastErr error
	for {
		for _, candidate := range offer.Candidates {
			conn, _, err := dialer.DialContext(ctx, candidate, nil)
			if err != nil {
				lastErr = err
				t.log.Debug("Dial failed", zap.String("candidate", candidate), zap.Error(err))
				continue
			}
			conn.SetReadLimit(maxMessageSize)
			if t.handshake(conn, offer) {
				t.serve(conn)
				return
			}
			_ = conn.Close()
			return
		}

		select {
		case <-t.done:
			return
		case <-ctx.Done():
			if t.isClosed() {
				return
			}
			t.fail(fault.Transport(errors.WithStack(lastErr), "no offer candidate reachable"))
			return
		case <-time.After(dialBackoff):
		}
	}
}

// handshake sends the hello and waits for the initiator's ack. There is no
// deadline on the ack: the initiator confirms only after a human pasted
// our answer on the other side.
func (t *Transport) handshake(conn *websocket.Conn, offer sigil.Descriptor) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(hello{Session: offer.Session, Offer: offer.Token, Answer: t.token}); err != nil {
		t.fail(fault.Transport(err, "send hello"))
		return false
	}

	t.mu.Lock()
	if t.isClosed() {
		t.mu.Unlock()
		return false
	}
	if t.pending == nil {
		t.pending = map[*websocket.Conn]struct{}{}
	}
	t.pending[conn] = struct{}{}
	t.mu.Unlock()

	var a ack
	err := conn.ReadJSON(&a)

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.pending, conn)

	if t.isClosed() {
		return false
	}
	if err != nil {
		t.fail(fault.Transport(err, "await ack"))
		return false
	}
	if !a.OK {
		t.fail(fault.Transportf("initiator refused the link"))
		return false
	}

	t.conn = conn
	t.emit(transport.Event{Kind: transport.EventConnect})
	return true
}

// serve pumps inbound frames until the socket or the transport closes.
func (t *Transport) serve(conn *websocket.Conn) {
	_ = parallel.Run(t.ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("reader", parallel.Exit, func(ctx context.Context) error {
			t.readLoop(conn)
			return nil
		})
		spawn("closer", parallel.Exit, func(ctx context.Context) error {
			<-ctx.Done()
			_ = conn.Close()
			return nil
		})
		return nil
	})
}

func (t *Transport) readLoop(conn *websocket.Conn) {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			switch {
			case t.isClosed():
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				t.log.Debug("Peer closed the link", zap.String("session", t.session))
				t.emit(transport.Event{Kind: transport.EventClose})
			default:
				t.fail(fault.Transport(err, "read frame"))
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		t.emit(transport.Event{Kind: transport.EventData, Data: data})
	}
}

func newToken() string {
	b := make([]byte, sigil.TokenSize)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return hex.EncodeToString(b)
}

// advertiseHosts lists the hosts written into an offer.
func advertiseHosts(configured string) []string {
	if configured != "" {
		return []string{configured}
	}

	var hosts []string
	addrs, err := net.InterfaceAddrs()
	if err == nil {
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.IsLoopback() || ipNet.IP.To4() == nil {
				continue
			}
			hosts = append(hosts, ipNet.IP.String())
			if len(hosts) == sigil.MaxCandidates-1 {
				break
			}
		}
	}
	return append(hosts, "127.0.0.1")
}

var _ transport.Transport = (*Transport)(nil)

// String describes the transport for logs as <role>/<session>.
func (t *Transport) String() string {
	role := "responder"
	if t.initiator {
		role = "initiator"
	}
	return role + "/" + t.session
}
