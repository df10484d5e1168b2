package coordinator

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pagesentry/pagesentry/dbopen"
	"github.com/pagesentry/pagesentry/wire"
)

// Schema for the alert history table. The rowid orders the history;
// alert_id is the envelope-level identity carried on the wire.
const Schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	alert_id TEXT NOT NULL,
	kind     TEXT NOT NULL,
	severity TEXT NOT NULL,
	message  TEXT NOT NULL,
	page_url TEXT NOT NULL,
	detail   TEXT NOT NULL DEFAULT '',
	at       INTEGER NOT NULL
);
`

// Store persists the bounded alert history. Every append trims the table
// back to capacity, newest first, so the history survives restarts at a
// fixed size.
type Store struct {
	db       *sql.DB
	capacity int
}

// NewStore wraps an open database. The schema must be applied already
// (dbopen.WithSchema(coordinator.Schema)).
func NewStore(db *sql.DB, capacity int) *Store {
	if capacity <= 0 {
		capacity = 50
	}
	return &Store{db: db, capacity: capacity}
}

// Append inserts an alert and trims the history to capacity.
func (s *Store) Append(ctx context.Context, a wire.Alert) error {
	return dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO alerts (alert_id, kind, severity, message, page_url, detail, at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			a.ID, string(a.Kind), string(a.Severity), a.Message, a.PageURL, a.Detail,
			a.At.UnixMilli())
		if err != nil {
			return fmt.Errorf("history: insert: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
			DELETE FROM alerts WHERE id NOT IN (
				SELECT id FROM alerts ORDER BY id DESC LIMIT ?
			)`, s.capacity)
		if err != nil {
			return fmt.Errorf("history: trim: %w", err)
		}
		return nil
	})
}

// Recent returns up to limit alerts, newest first. limit <= 0 means the
// store capacity.
func (s *Store) Recent(ctx context.Context, limit int) ([]wire.Alert, error) {
	if limit <= 0 || limit > s.capacity {
		limit = s.capacity
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT alert_id, kind, severity, message, page_url, detail, at
		FROM alerts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var alerts []wire.Alert
	for rows.Next() {
		var a wire.Alert
		var kind, severity string
		var atMs int64
		if err := rows.Scan(&a.ID, &kind, &severity, &a.Message, &a.PageURL, &a.Detail, &atMs); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		a.Kind = wire.AlertKind(kind)
		a.Severity = wire.Severity(severity)
		a.At = time.UnixMilli(atMs).UTC()
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Count returns the stored alert count.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("history: count: %w", err)
	}
	return n, nil
}
