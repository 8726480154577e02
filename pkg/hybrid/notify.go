package hybrid

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// PGNotifier publishes hybrid-session events via Postgres pg_notify,
// reimplemented directly here since the engine has no other LISTEN/NOTIFY
// consumer to share infrastructure with.
type PGNotifier struct {
	db *sql.DB
}

// NewPGNotifier wraps db for pg_notify publishing.
func NewPGNotifier(db *sql.DB) *PGNotifier {
	return &PGNotifier{db: db}
}

// Notify sends payload, JSON-encoded, on channel via pg_notify.
func (n *PGNotifier) Notify(ctx context.Context, channel string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("hybrid: failed to encode notify payload: %w", err)
	}
	if _, err := n.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, string(body)); err != nil {
		return fmt.Errorf("hybrid: pg_notify on %s failed: %w", channel, err)
	}
	return nil
}
