package store

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"pier2pier.dev/go/pier2pier/internal/fault"
)

// InsertMessage stores a message for peerAddress. The peer row is created
// if absent and its last_seen set to the message timestamp, in the same
// transaction as the message row.
func (g *Gateway) InsertMessage(ctx context.Context, peerAddress, content string, sent bool) (Message, error) {
	if err := ValidateAddress(peerAddress); err != nil {
		return Message{}, err
	}
	if err := ValidateContent(content); err != nil {
		return Message{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.db == nil {
		return Message{}, ErrNotOpen
	}

	msg := Message{
		ID:        g.newID(),
		Peer:      peerAddress,
		Content:   content,
		Timestamp: g.timestamp(),
		Sent:      sent,
	}

	err := g.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO peers (address, name, last_seen) VALUES (?, ?, ?)
			 ON CONFLICT(address) DO UPDATE SET last_seen = excluded.last_seen`,
			peerAddress, peerName(peerAddress), msg.Timestamp,
		); err != nil {
			return errors.Wrap(err, "upserting peer")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO messages (id, peer, content, timestamp, sent, encrypted) VALUES (?, ?, ?, ?, ?, 0)`,
			msg.ID, msg.Peer, msg.Content, msg.Timestamp, msg.Sent,
		); err != nil {
			return errors.Wrap(err, "inserting message")
		}
		return nil
	})
	if err != nil {
		return Message{}, fault.Storage(err, "storing message")
	}

	g.log.Debug("Message stored",
		zap.String("id", msg.ID), zap.String("peer", peerAddress), zap.Bool("sent", sent))
	return msg, nil
}

// CreateConversation inserts or replaces the peer row for peerAddress with
// a fresh last_seen. Messages are not touched.
func (g *Gateway) CreateConversation(ctx context.Context, peerAddress string) error {
	if err := ValidateAddress(peerAddress); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.db == nil {
		return ErrNotOpen
	}

	if _, err := g.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO peers (address, name, last_seen) VALUES (?, ?, ?)`,
		peerAddress, peerName(peerAddress), g.timestamp(),
	); err != nil {
		return fault.Storage(err, "creating conversation")
	}
	g.log.Info("Conversation created", zap.String("peer", peerAddress))
	return nil
}

// DeleteConversation removes every message for peerAddress and then the
// peer row itself.
func (g *Gateway) DeleteConversation(ctx context.Context, peerAddress string) error {
	if err := ValidateAddress(peerAddress); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.db == nil {
		return ErrNotOpen
	}

	var removed int64
	err := g.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE peer = ?`, peerAddress)
		if err != nil {
			return errors.Wrap(err, "deleting messages")
		}
		if removed, err = res.RowsAffected(); err != nil {
			g.log.Warn("Counting deleted messages failed", zap.Error(err))
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM peers WHERE address = ?`, peerAddress); err != nil {
			return errors.Wrap(err, "deleting peer")
		}
		return nil
	})
	if err != nil {
		return fault.Storage(err, "deleting conversation")
	}
	g.log.Info("Conversation deleted", zap.String("peer", peerAddress), zap.Int64("messages", removed))
	return nil
}

// Messages returns the conversation with peerAddress, messages ordered by
// timestamp ascending. An unknown peer yields an empty conversation.
func (g *Gateway) Messages(ctx context.Context, peerAddress string) (Conversation, error) {
	if err := ValidateAddress(peerAddress); err != nil {
		return Conversation{}, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.db == nil {
		return Conversation{}, ErrNotOpen
	}

	conv := Conversation{
		Peer:     Peer{Address: peerAddress, Name: peerName(peerAddress)},
		Messages: []Message{},
	}

	var lastSeen sql.NullInt64
	err := g.db.QueryRowContext(ctx,
		`SELECT name, last_seen FROM peers WHERE address = ?`, peerAddress,
	).Scan(&conv.Peer.Name, &lastSeen)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return Conversation{}, fault.Storage(err, "reading peer")
	}
	conv.Peer.LastSeen = lastSeen.Int64

	rows, err := g.db.QueryContext(ctx,
		`SELECT id, peer, content, timestamp, sent, encrypted FROM messages
		 WHERE peer = ? ORDER BY timestamp ASC, id ASC`, peerAddress)
	if err != nil {
		return Conversation{}, fault.Storage(err, "reading messages")
	}
	defer rows.Close()

	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Peer, &m.Content, &m.Timestamp, &m.Sent, &m.Encrypted); err != nil {
			return Conversation{}, fault.Storage(err, "scanning message")
		}
		conv.Messages = append(conv.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return Conversation{}, fault.Storage(err, "reading messages")
	}
	return conv, nil
}

// Peers returns all conversation partners, most recently seen first.
func (g *Gateway) Peers(ctx context.Context) ([]Peer, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.db == nil {
		return nil, ErrNotOpen
	}

	rows, err := g.db.QueryContext(ctx,
		`SELECT address, name, last_seen FROM peers ORDER BY last_seen DESC, address ASC`)
	if err != nil {
		return nil, fault.Storage(err, "reading peers")
	}
	defer rows.Close()

	peers := []Peer{}
	for rows.Next() {
		var p Peer
		var lastSeen sql.NullInt64
		if err := rows.Scan(&p.Address, &p.Name, &lastSeen); err != nil {
			return nil, fault.Storage(err, "scanning peer")
		}
		p.LastSeen = lastSeen.Int64
		peers = append(peers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Storage(err, "reading peers")
	}
	return peers, nil
}

func (g *Gateway) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}
