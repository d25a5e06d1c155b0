package storage

import "context"

// UpsertSubscription subscribes the local peer to channel (idempotent).
func (d *DB) UpsertSubscription(ctx context.Context, channel string) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO subscriptions (channel) VALUES (?) ON CONFLICT(channel) DO NOTHING`, channel)
	return err
}

// RemoveSubscription unsubscribes the local peer from channel.
func (d *DB) RemoveSubscription(ctx context.Context, channel string) error {
	_, err := d.sql.ExecContext(ctx, `DELETE FROM subscriptions WHERE channel = ?`, channel)
	return err
}

// IsSubscribed reports whether the local peer currently subscribes to
// channel.
func (d *DB) IsSubscribed(ctx context.Context, channel string) (bool, error) {
	var n int
	err := d.sql.QueryRowContext(ctx, `SELECT COUNT(1) FROM subscriptions WHERE channel = ?`, channel).Scan(&n)
	return n > 0, err
}

// ListSubscriptions returns every channel the local peer subscribes to.
func (d *DB) ListSubscriptions(ctx context.Context) ([]string, error) {
	rows, err := d.sql.QueryContext(ctx, `SELECT channel FROM subscriptions ORDER BY channel`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var ch string
		if err := rows.Scan(&ch); err != nil {
			return nil, err
		}
		out = append(out, ch)
	}
	return out, rows.Err()
}
