// Package snapshot keeps the most recent raw endpoint response in SQLite so
// operators can inspect it out-of-band. It is a last-value cache, not a log:
// every Save overwrites the previous row.
package snapshot

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"senechal/internal/domain"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements domain.SnapshotStore using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ domain.SnapshotStore = (*SQLiteStore)(nil)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create snapshot directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("cannot open snapshot database: %w", err)
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("snapshot migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Save overwrites the snapshot with snap.
func (s *SQLiteStore) Save(ctx context.Context, snap domain.Snapshot) error {
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now()
	}
	var data any
	if len(snap.Data) > 0 {
		data = string(snap.Data)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO last_response
		   (id, dispatch_id, chat_id, command_set, url, status, message, error_kind, http_status, latency_ms, data, raw, created_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   dispatch_id = excluded.dispatch_id,
		   chat_id     = excluded.chat_id,
		   command_set = excluded.command_set,
		   url         = excluded.url,
		   status      = excluded.status,
		   message     = excluded.message,
		   error_kind  = excluded.error_kind,
		   http_status = excluded.http_status,
		   latency_ms  = excluded.latency_ms,
		   data        = excluded.data,
		   raw         = excluded.raw,
		   created_at  = excluded.created_at`,
		snap.DispatchID, snap.ChatID, snap.CommandSet, snap.URL, snap.Status, snap.Message,
		snap.ErrorKind, snap.HTTPStatus, snap.LatencyMs, data, snap.Raw, snap.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Last returns the stored snapshot, or nil when nothing was dispatched yet.
func (s *SQLiteStore) Last(ctx context.Context) (*domain.Snapshot, error) {
	var (
		snap domain.Snapshot
		data sql.NullString
		raw  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT dispatch_id, chat_id, command_set, url, status, message, error_kind,
		        http_status, latency_ms, data, raw, created_at
		 FROM last_response WHERE id = 1`,
	).Scan(&snap.DispatchID, &snap.ChatID, &snap.CommandSet, &snap.URL, &snap.Status, &snap.Message,
		&snap.ErrorKind, &snap.HTTPStatus, &snap.LatencyMs, &data, &raw, &snap.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	if data.Valid {
		snap.Data = []byte(data.String)
	}
	snap.Raw = raw.String
	return &snap, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
