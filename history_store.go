package main

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// ========================================
// HistoryStore - SQLite 安装历史存储
// ========================================

// HistoryStore persists one row per install outcome so past installs survive
// restarts and are queryable from the frontend.
type HistoryStore struct {
	db     *sql.DB
	dbPath string

	stmtInsert *sql.Stmt
}

const historySchemaSQL = `
PRAGMA journal_mode = WAL;
PRAGMA synchronous = NORMAL;

CREATE TABLE IF NOT EXISTS installs (
    id TEXT PRIMARY KEY,
    file_path TEXT NOT NULL,
    device_id TEXT,
    succeeded INTEGER NOT NULL,
    message TEXT,
    enqueued_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    duration_ms INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_installs_finished ON installs(finished_at DESC);
CREATE INDEX IF NOT EXISTS idx_installs_device ON installs(device_id);
`

// NewHistoryStore opens (creating if needed) the history database under
// dataDir.
func NewHistoryStore(dataDir string) (*HistoryStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "history.db")

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite 单写入
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &HistoryStore{
		db:     db,
		dbPath: dbPath,
	}

	if _, err := db.Exec(historySchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	store.stmtInsert, err = db.Prepare(`
		INSERT INTO installs (id, file_path, device_id, succeeded, message, enqueued_at, finished_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return store, nil
}

// RecordOutcome writes one install outcome. Write volume is one row per
// install, so no batching is needed.
func (s *HistoryStore) RecordOutcome(outcome InstallOutcome) error {
	succeeded := 0
	if outcome.Succeeded {
		succeeded = 1
	}
	_, err := s.stmtInsert.Exec(
		outcome.Request.ID,
		outcome.Request.FilePath,
		outcome.Request.DeviceID,
		succeeded,
		outcome.Message,
		outcome.Request.EnqueuedAt.UnixMilli(),
		outcome.FinishedAt.UnixMilli(),
		outcome.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to record install outcome: %w", err)
	}
	return nil
}

// ListRecent returns the most recent install records, newest first.
func (s *HistoryStore) ListRecent(limit int) ([]HistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`
		SELECT id, file_path, device_id, succeeded, message, enqueued_at, finished_at, duration_ms
		FROM installs
		ORDER BY finished_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query install history: %w", err)
	}
	defer rows.Close()

	entries := make([]HistoryEntry, 0, limit)
	for rows.Next() {
		var e HistoryEntry
		var succeeded int
		if err := rows.Scan(&e.ID, &e.FilePath, &e.DeviceID, &succeeded, &e.Message, &e.EnqueuedAt, &e.FinishedAt, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("failed to scan install row: %w", err)
		}
		e.Succeeded = succeeded != 0
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ClearHistory deletes all install records.
func (s *HistoryStore) ClearHistory() error {
	_, err := s.db.Exec(`DELETE FROM installs`)
	return err
}

// Close closes the database.
func (s *HistoryStore) Close() error {
	if s.stmtInsert != nil {
		s.stmtInsert.Close()
	}
	return s.db.Close()
}
