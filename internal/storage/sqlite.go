// Package storage provides data persistence for the crawler.
// It implements SQLite-based storage for result slots, the robots.txt
// cache and the run history.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/performa-app/courtside/internal/crawler"
	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements the crawler.Store interface using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

var _ crawler.Store = (*SQLiteStorage)(nil)

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool - single connection prevents lock conflicts
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(30 * time.Minute)

	storage := &SQLiteStorage{db: db}

	if err := storage.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return storage, nil
}

// initSchema creates the database schema.
func (s *SQLiteStorage) initSchema() error {
	// Enable WAL mode for better performance
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 30000", // 30 second timeout for locks
	}

	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// PutSlot serializes payload as JSON and stores it under id, replacing
// any previous payload.
func (s *SQLiteStorage) PutSlot(id string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slot %s: %w", id, err)
	}

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO slots (id, payload, updated_at) VALUES (?, ?, ?)",
		id, string(data), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to store slot %s: %w", id, err)
	}
	return nil
}

// GetSlot returns the raw JSON payload stored under id.
func (s *SQLiteStorage) GetSlot(id string) ([]byte, error) {
	var payload string
	err := s.db.QueryRow("SELECT payload FROM slots WHERE id = ?", id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", crawler.ErrSlotNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slot %s: %w", id, err)
	}
	return []byte(payload), nil
}

// SaveRobotsEntry stores the parsed robots.txt rules for an origin.
func (s *SQLiteStorage) SaveRobotsEntry(origin string, entry crawler.RobotsEntry) error {
	rules, err := json.Marshal(entry.Rules)
	if err != nil {
		return fmt.Errorf("failed to marshal robots rules: %w", err)
	}

	_, err = s.db.Exec(
		"INSERT OR REPLACE INTO robots_cache (origin, rules, fetched_at) VALUES (?, ?, ?)",
		origin, string(rules), entry.FetchedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save robots entry for %s: %w", origin, err)
	}
	return nil
}

// LoadRobotsCache returns every stored robots.txt entry keyed by
// origin. Rows that no longer parse are skipped.
func (s *SQLiteStorage) LoadRobotsCache() (map[string]crawler.RobotsEntry, error) {
	rows, err := s.db.Query("SELECT origin, rules, fetched_at FROM robots_cache")
	if err != nil {
		return nil, fmt.Errorf("failed to query robots cache: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make(map[string]crawler.RobotsEntry)
	for rows.Next() {
		var origin, rules, fetchedAt string
		if err := rows.Scan(&origin, &rules, &fetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan robots entry: %w", err)
		}

		var entry crawler.RobotsEntry
		if err := json.Unmarshal([]byte(rules), &entry.Rules); err != nil {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, fetchedAt)
		if err != nil {
			continue
		}
		entry.FetchedAt = ts
		entries[origin] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read robots cache: %w", err)
	}

	return entries, nil
}

// SaveRun records one finished crawl run.
func (s *SQLiteStorage) SaveRun(rec crawler.RunRecord) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO runs (id, status, teams, players, message, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Status,
		rec.Teams,
		rec.Players,
		rec.Message,
		rec.StartedAt.UTC().Format(time.RFC3339Nano),
		rec.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", rec.ID, err)
	}
	return nil
}

// LatestRun returns the most recently started run.
func (s *SQLiteStorage) LatestRun() (*crawler.RunRecord, error) {
	var rec crawler.RunRecord
	var startedAt, finishedAt string

	err := s.db.QueryRow(`
		SELECT id, status, teams, players, message, started_at, finished_at
		FROM runs
		ORDER BY started_at DESC
		LIMIT 1
	`).Scan(&rec.ID, &rec.Status, &rec.Teams, &rec.Players, &rec.Message, &startedAt, &finishedAt)

	if err == sql.ErrNoRows {
		return nil, crawler.ErrNoRuns
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest run: %w", err)
	}

	if rec.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse run start time: %w", err)
	}
	if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, finishedAt); err != nil {
		return nil, fmt.Errorf("failed to parse run finish time: %w", err)
	}

	return &rec, nil
}
