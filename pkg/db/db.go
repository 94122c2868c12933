// Package db pkg/db/db.go provides SQLite storage for the cleanup audit
// history. Usage snapshots are deliberately not persisted; only cleanup
// attempts are recorded.
package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

const createTablesSQL = `
	-- One row per cleanup attempt, successful or not
	CREATE TABLE IF NOT EXISTS cleanup_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		triggered_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
		window_start TIMESTAMP NOT NULL,
		window_end TIMESTAMP NOT NULL,
		query TEXT NOT NULL,
		success BOOLEAN NOT NULL DEFAULT 0,
		detail TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_cleanup_history_time
		ON cleanup_history(triggered_at);
	`

// CleanupRecord is a single cleanup attempt as stored in the history table.
type CleanupRecord struct {
	ID          int64     `json:"id"`
	TriggeredAt time.Time `json:"triggered_at"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	Query       string    `json:"query"`
	Success     bool      `json:"success"`
	Detail      string    `json:"detail,omitempty"`
}

// Store is the cleanup history database.
type Store struct {
	*sql.DB
}

// New opens (or creates) the history database at dbPath and initializes the
// schema.
func New(dbPath string) (*Store, error) {
	sqlDB, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedOpenDB, err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: %w", ErrFailedToEnableWAL, err)
	}

	if _, err := sqlDB.Exec(createTablesSQL); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("%w: %w", ErrFailedToInit, err)
	}

	return &Store{DB: sqlDB}, nil
}

// RecordCleanup inserts a cleanup attempt and fills in its assigned ID.
func (s *Store) RecordCleanup(rec *CleanupRecord) error {
	result, err := s.Exec(`
		INSERT INTO cleanup_history (triggered_at, window_start, window_end, query, success, detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.TriggeredAt, rec.WindowStart, rec.WindowEnd, rec.Query, rec.Success, rec.Detail,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToInsert, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToInsert, err)
	}

	rec.ID = id

	return nil
}

// History returns the most recent cleanup attempts, newest first.
func (s *Store) History(limit int) ([]CleanupRecord, error) {
	rows, err := s.Query(`
		SELECT id, triggered_at, window_start, window_end, query, success, detail
		FROM cleanup_history
		ORDER BY triggered_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	records := make([]CleanupRecord, 0, limit)

	for rows.Next() {
		var rec CleanupRecord
		if err := rows.Scan(
			&rec.ID, &rec.TriggeredAt, &rec.WindowStart, &rec.WindowEnd,
			&rec.Query, &rec.Success, &rec.Detail,
		); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToScan, err)
		}

		records = append(records, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToQuery, err)
	}

	return records, nil
}

// Prune deletes history rows older than the given cutoff and returns how
// many were removed.
func (s *Store) Prune(olderThan time.Time) (int64, error) {
	result, err := s.Exec(`DELETE FROM cleanup_history WHERE triggered_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFailedToClean, err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFailedToClean, err)
	}

	return removed, nil
}
