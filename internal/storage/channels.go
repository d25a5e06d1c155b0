package storage

import (
	"context"
	"time"
)

// Channel is a named grouping for stories, created locally or learned via
// sync. Immutable once created.
type Channel struct {
	Name        string
	Description string
	Creator     string
	CreatedAt   int64
}

// UpsertChannel inserts a new channel, or reports Saved=false if one with
// the same name already exists — it never overwrites an existing
// description or creator (spec.md §8 invariant 9 applies equally to a
// direct upsert and to ProcessDiscoveredChannels below).
func (d *DB) UpsertChannel(ctx context.Context, c Channel) (saved bool, err error) {
	if c.CreatedAt == 0 {
		c.CreatedAt = time.Now().Unix()
	}
	res, err := d.sql.ExecContext(ctx,
		`INSERT INTO channels (name, description, creator, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		c.Name, c.Description, c.Creator, c.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ChannelExists reports whether name is already a known channel.
func (d *DB) ChannelExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, `SELECT COUNT(1) FROM channels WHERE name = ?`, name).Scan(&n)
	return n > 0, err
}

// ListChannels returns every known channel.
func (d *DB) ListChannels(ctx context.Context) ([]Channel, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT name, description, creator, created_at FROM channels ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Channel
	for rows.Next() {
		var c Channel
		if err := rows.Scan(&c.Name, &c.Description, &c.Creator, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ProcessDiscoveredChannels bulk-upserts channels learned from a
// story-sync/1 exchange. Existing channels are left untouched — only
// previously-unknown names are inserted.
func (d *DB) ProcessDiscoveredChannels(ctx context.Context, discovered []Channel) (inserted int, err error) {
	for _, c := range discovered {
		saved, err := d.UpsertChannel(ctx, c)
		if err != nil {
			return inserted, err
		}
		if saved {
			inserted++
		}
	}
	return inserted, nil
}
