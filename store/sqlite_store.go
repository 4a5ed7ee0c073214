package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"maison/api/models"
)

// SQLiteEventStore keeps the dashboard views in a local SQLite file so
// they survive restarts of a single instance.
type SQLiteEventStore struct {
	db   *sql.DB
	opts Options
}

func NewSQLiteEventStore(ctx context.Context, db *sql.DB, opts Options) (*SQLiteEventStore, error) {
	if err := createEventTables(ctx, db); err != nil {
		return nil, err
	}
	return &SQLiteEventStore{db: db, opts: opts.withDefaults()}, nil
}

func createEventTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS notifications(
	  seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	  id        TEXT    NOT NULL UNIQUE,
	  type      TEXT    NOT NULL,
	  data_json TEXT    NOT NULL CHECK (json_valid(data_json)),
	  ts_ms     INTEGER NOT NULL,
	  read      INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS visitors(
	  visitor_id   TEXT    PRIMARY KEY,
	  data_json    TEXT    NOT NULL CHECK (json_valid(data_json)),
	  last_seen_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_visitors_last_seen ON visitors(last_seen_ms);
	`)
	if err != nil {
		return fmt.Errorf("failed to create event tables: %w", err)
	}
	return nil
}

func (s *SQLiteEventStore) Record(ctx context.Context, evt models.VisitorEvent) (*models.Notification, error) {
	now := s.opts.Clock()
	n := newNotification(evt, now)

	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if evt.VisitorID != "" {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO visitors(visitor_id, data_json, last_seen_ms) VALUES(?, json(?), ?)
			ON CONFLICT(visitor_id) DO UPDATE SET data_json = excluded.data_json, last_seen_ms = excluded.last_seen_ms`,
			evt.VisitorID, string(data), now.UnixMilli()); err != nil {
			return nil, fmt.Errorf("failed to upsert visitor: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notifications(id, type, data_json, ts_ms, read) VALUES(?, ?, json(?), ?, 0)`,
		n.ID, n.Type, string(data), now.UnixMilli()); err != nil {
		return nil, fmt.Errorf("failed to insert notification: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM notifications
		WHERE seq NOT IN (SELECT seq FROM notifications ORDER BY seq DESC LIMIT ?)`,
		s.opts.Limit); err != nil {
		return nil, fmt.Errorf("failed to trim notifications: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &n, nil
}

func (s *SQLiteEventStore) ListActive(ctx context.Context, now time.Time) ([]models.ActiveVisitor, error) {
	all, err := s.queryVisitors(ctx,
		`SELECT visitor_id, data_json, last_seen_ms FROM visitors WHERE last_seen_ms >= ?`,
		now.Add(-s.opts.Window).UnixMilli())
	if err != nil {
		return nil, err
	}
	return activeVisitors(all, now, s.opts.Window), nil
}

func (s *SQLiteEventStore) ListNotifications(ctx context.Context) ([]models.Notification, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, type, data_json, ts_ms, read FROM notifications ORDER BY seq DESC LIMIT ?`, s.opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	out := make([]models.Notification, 0, s.opts.Limit)
	for rows.Next() {
		var (
			n    models.Notification
			data string
			ts   int64
		)
		if err := rows.Scan(&n.ID, &n.Type, &data, &ts, &n.Read); err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &n.Data); err != nil {
			log.Printf("ERROR: skipping notification %s with unreadable data: %v", n.ID, err)
			continue
		}
		n.Timestamp = time.UnixMilli(ts).UTC()
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating notifications: %w", err)
	}
	return out, nil
}

func (s *SQLiteEventStore) Stats(ctx context.Context, now time.Time) (models.VisitorStats, error) {
	all, err := s.queryVisitors(ctx, `SELECT visitor_id, data_json, last_seen_ms FROM visitors`)
	if err != nil {
		return models.VisitorStats{}, err
	}
	return computeStats(all, now, s.opts.Location), nil
}

func (s *SQLiteEventStore) MarkRead(ctx context.Context, id string, read bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE notifications SET read = ? WHERE id = ?`, read, id)
	if err != nil {
		return fmt.Errorf("failed to update notification: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

func (s *SQLiteEventStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteEventStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteEventStore) queryVisitors(ctx context.Context, query string, args ...any) ([]models.ActiveVisitor, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query visitors: %w", err)
	}
	defer rows.Close()

	var out []models.ActiveVisitor
	for rows.Next() {
		var (
			id, data string
			lastSeen int64
		)
		if err := rows.Scan(&id, &data, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan visitor: %w", err)
		}
		var evt models.VisitorEvent
		if err := json.Unmarshal([]byte(data), &evt); err != nil {
			log.Printf("ERROR: skipping visitor %s with unreadable data: %v", id, err)
			continue
		}
		out = append(out, models.ActiveVisitor{VisitorEvent: evt, LastSeen: time.UnixMilli(lastSeen).UTC()})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating visitors: %w", err)
	}
	return out, nil
}
