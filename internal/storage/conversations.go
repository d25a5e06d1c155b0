package storage

import "context"

// DirectMessage is one entry in a peer's conversation log.
type DirectMessage struct {
	ID         int64
	PeerID     string
	FromPeerID string
	ToPeerID   string
	Body       string
	Timestamp  int64
	Outgoing   bool
	Read       bool
}

// Conversation is the derived, per-peer view over the DirectMessage log.
// PeerAlias is the best-known display name, taken from the sender alias of
// the last direct or relayed message that carried one (empty until then) —
// supplemented from
// original_source/p2p-core/src/types.rs, dropped by the distilled spec.
type Conversation struct {
	PeerID       string
	PeerAlias    string
	UnreadCount  int
	LastActivity int64
}

// AppendMessage records one direct message and updates the owning
// conversation's unread count and last-activity timestamp, creating the
// conversation (with an empty alias) if it does not exist yet; the alias
// itself is only ever set by SetPeerAlias.
// Outgoing messages never increment unread_count; inbound ones do.
func (d *DB) AppendMessage(ctx context.Context, msg DirectMessage) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	peerAlias := ""
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO conversations (peer_id, peer_alias, unread_count, last_activity)
		 VALUES (?, ?, 0, ?)
		 ON CONFLICT(peer_id) DO UPDATE SET last_activity = excluded.last_activity`,
		msg.PeerID, peerAlias, msg.Timestamp,
	); err != nil {
		return err
	}

	if !msg.Outgoing {
		if _, err := tx.ExecContext(ctx,
			`UPDATE conversations SET unread_count = unread_count + 1 WHERE peer_id = ?`, msg.PeerID,
		); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO direct_messages (peer_id, from_peer_id, to_peer_id, body, timestamp, outgoing, read)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.PeerID, msg.FromPeerID, msg.ToPeerID, msg.Body, msg.Timestamp, boolToInt(msg.Outgoing), boolToInt(msg.Read),
	); err != nil {
		return err
	}

	return tx.Commit()
}

// SetPeerAlias records the best-known display name for peerID, learned
// from the sender alias of an incoming direct or relayed message.
func (d *DB) SetPeerAlias(ctx context.Context, peerID, alias string) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO conversations (peer_id, peer_alias, unread_count, last_activity)
		 VALUES (?, ?, 0, 0)
		 ON CONFLICT(peer_id) DO UPDATE SET peer_alias = excluded.peer_alias`,
		peerID, alias)
	return err
}

// MarkRead clears the unread count for peerID and flags its stored
// messages as read.
func (d *DB) MarkRead(ctx context.Context, peerID string) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET unread_count = 0 WHERE peer_id = ?`, peerID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE direct_messages SET read = 1 WHERE peer_id = ?`, peerID); err != nil {
		return err
	}
	return tx.Commit()
}

// ListConversations returns every conversation, falling back to the raw
// peer id as the alias when none has been learned yet.
func (d *DB) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT peer_id, peer_alias, unread_count, last_activity FROM conversations ORDER BY last_activity DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(&c.PeerID, &c.PeerAlias, &c.UnreadCount, &c.LastActivity); err != nil {
			return nil, err
		}
		if c.PeerAlias == "" {
			c.PeerAlias = c.PeerID
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// MessagesByPeer returns every message exchanged with peerID, oldest
// first.
func (d *DB) MessagesByPeer(ctx context.Context, peerID string) ([]DirectMessage, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, peer_id, from_peer_id, to_peer_id, body, timestamp, outgoing, read
		 FROM direct_messages WHERE peer_id = ? ORDER BY timestamp ASC, id ASC`,
		peerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DirectMessage
	for rows.Next() {
		var m DirectMessage
		var outgoing, read int
		if err := rows.Scan(&m.ID, &m.PeerID, &m.FromPeerID, &m.ToPeerID, &m.Body, &m.Timestamp, &outgoing, &read); err != nil {
			return nil, err
		}
		m.Outgoing = outgoing != 0
		m.Read = read != 0
		out = append(out, m)
	}
	return out, rows.Err()
}
