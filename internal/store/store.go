// Package store is the validating gateway to one user's local message store.
//
// A Gateway owns at most one open SQLite database at a time. Every call
// re-validates its inputs before touching storage; rejected input is a
// fault.ErrValidation, engine failures are fault.ErrStorage.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"pier2pier.dev/go/pier2pier/internal/fault"
	"pier2pier.dev/go/pier2pier/internal/identity"
	"pier2pier.dev/go/pier2pier/internal/logging"
)

// SchemaVersion is recorded in the user_version pragma.
const SchemaVersion = 1

// ErrNotOpen is returned by operations issued while no store is open.
var ErrNotOpen = errors.Wrap(fault.ErrStorage, "store is not open")

const dsnOptions = "?_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS peers (
		address TEXT PRIMARY KEY CHECK (length(address) <= 100),
		name TEXT NOT NULL CHECK (length(name) <= 50),
		last_seen INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		peer TEXT NOT NULL,
		content TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		sent BOOLEAN NOT NULL,
		encrypted BOOLEAN NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_peer ON messages(peer)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_timestamp ON messages(timestamp)`,
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger used by the gateway.
func WithLogger(log *zap.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

// WithClock overrides the wall clock used for timestamps.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) { g.now = now }
}

// WithIDs overrides message ID generation.
func WithIDs(newID func() string) Option {
	return func(g *Gateway) { g.newID = newID }
}

// WithLogBuffer attaches the log buffer dumped by Inspect.
func WithLogBuffer(buffer *logging.Buffer) Option {
	return func(g *Gateway) { g.buffer = buffer }
}

// Gateway validates and executes storage commands for one user at a time.
type Gateway struct {
	root   string
	log    *zap.Logger
	now    func() time.Time
	newID  func() string
	buffer *logging.Buffer

	mu     sync.Mutex
	db     *sql.DB
	userID string
	path   string
	lastTS int64
}

// New returns a gateway confined to root. No store is open until Open.
func New(root string, opts ...Option) *Gateway {
	g := &Gateway{
		root:  root,
		log:   zap.NewNop(),
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Open validates userID, closes any open store and opens the store of
// userID, creating its schema if needed. An empty userID opens the default
// identity's store.
func (g *Gateway) Open(ctx context.Context, userID string) error {
	user, err := identity.Normalize(userID)
	if err != nil {
		return err
	}
	path, err := g.storePath(user)
	if err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if err := g.closeLocked(); err != nil {
		g.log.Warn("closing previous store failed", zap.Error(err))
	}

	if err := os.MkdirAll(g.root, 0o700); err != nil {
		return fault.Storage(err, "creating data directory")
	}

	db, err := sql.Open("sqlite3", path+dsnOptions)
	if err != nil {
		return fault.Storage(err, "opening store")
	}
	if err := initSchema(ctx, db); err != nil {
		_ = db.Close()
		return fault.Storage(err, "initializing schema")
	}

	var lastTS sql.NullInt64
	if err := db.QueryRowContext(ctx, "SELECT MAX(timestamp) FROM messages").Scan(&lastTS); err != nil {
		_ = db.Close()
		return fault.Storage(err, "reading last timestamp")
	}

	g.db = db
	g.userID = user
	g.path = path
	g.lastTS = lastTS.Int64

	g.log.Info("Store opened", zap.String("user", user), zap.String("path", path))
	return nil
}

// UserID returns the identity of the open store, or "" when none is open.
func (g *Gateway) UserID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.userID
}

// Path returns the file of the open store, or "" when none is open.
func (g *Gateway) Path() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.path
}

// Close releases the open store. It is safe to call when nothing is open.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closeLocked()
}

// Cleanup checkpoints the write-ahead log and closes the store. It is safe
// to call when nothing is open.
func (g *Gateway) Cleanup() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.db == nil {
		return nil
	}
	if _, err := g.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		g.log.Warn("WAL checkpoint failed", zap.Error(err))
	}
	return g.closeLocked()
}

func (g *Gateway) closeLocked() error {
	if g.db == nil {
		return nil
	}
	err := g.db.Close()
	g.log.Info("Store closed", zap.String("user", g.userID))
	g.db = nil
	g.userID = ""
	g.path = ""
	g.lastTS = 0
	if err != nil {
		return fault.Storage(err, "closing store")
	}
	return nil
}

// storePath returns the store file of user, verified to stay inside root.
func (g *Gateway) storePath(user string) (string, error) {
	root, err := filepath.Abs(g.root)
	if err != nil {
		return "", fault.Storage(err, "resolving data directory")
	}
	path := filepath.Join(root, user+".db")
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) ||
		strings.ContainsRune(rel, filepath.Separator) {
		return "", fault.Validationf("store path for %q escapes data directory", user)
	}
	return path, nil
}

// timestamp returns a unix millisecond timestamp strictly greater than any
// previously issued by this gateway. Callers hold mu.
func (g *Gateway) timestamp() int64 {
	ts := g.now().UnixMilli()
	if ts <= g.lastTS {
		ts = g.lastTS + 1
	}
	g.lastTS = ts
	return ts
}

func initSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.WithStack(err)
		}
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", SchemaVersion))
	return errors.WithStack(err)
}
