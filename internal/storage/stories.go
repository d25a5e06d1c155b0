package storage

import (
	"context"
	"time"
)

// Story is a broadcast item, either authored locally or accepted via sync
// or gossip. Immutable once created.
type Story struct {
	ID        int64
	Name      string
	Header    string
	Body      string
	Public    bool
	Channel   string
	CreatedAt int64 // unix seconds
}

// InsertStory assigns an id and persists a new Story. CreatedAt is stored
// as given, or as the current time when it is zero; stories accepted via
// gossip or sync keep the sender's timestamp. InsertStory does not check
// that created_at is non-decreasing relative to stories already stored.
func (d *DB) InsertStory(ctx context.Context, s Story) (int64, error) {
	if s.CreatedAt == 0 {
		s.CreatedAt = time.Now().Unix()
	}
	res, err := d.sql.ExecContext(ctx,
		`INSERT INTO stories (name, header, body, public, channel, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		s.Name, s.Header, s.Body, boolToInt(s.Public), s.Channel, s.CreatedAt,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// ListStories returns every story ordered newest-first by created_at, ties
// broken by id descending (spec.md §8 invariant 8).
func (d *DB) ListStories(ctx context.Context) ([]Story, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, name, header, body, public, channel, created_at FROM stories ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStories(rows)
}

// StoriesByChannel returns stories belonging to channel, same ordering as
// ListStories.
func (d *DB) StoriesByChannel(ctx context.Context, channel string) ([]Story, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, name, header, body, public, channel, created_at FROM stories WHERE channel = ? ORDER BY created_at DESC, id DESC`,
		channel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStories(rows)
}

// StoriesSince returns stories created within the last `days` days.
func (d *DB) StoriesSince(ctx context.Context, days int) ([]Story, error) {
	cutoff := time.Now().AddDate(0, 0, -days).Unix()
	rows, err := d.sql.QueryContext(ctx,
		`SELECT id, name, header, body, public, channel, created_at FROM stories WHERE created_at >= ? ORDER BY created_at DESC, id DESC`,
		cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStories(rows)
}

func scanStories(rows interface {
	Next() bool
	Scan(...interface{}) error
	Err() error
}) ([]Story, error) {
	var out []Story
	for rows.Next() {
		var s Story
		var public int
		if err := rows.Scan(&s.ID, &s.Name, &s.Header, &s.Body, &public, &s.Channel, &s.CreatedAt); err != nil {
			return nil, err
		}
		s.Public = public != 0
		out = append(out, s)
	}
	return out, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
