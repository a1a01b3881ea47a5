package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements SnapshotStore using SQLite.
// The snapshot is kept as a JSON document in a single keyed row, so every
// Put is one upsert and readers never observe a partial graph.
type SQLiteStore struct {
	db  *sql.DB
	key string
}

// NewSQLiteStore creates a new SQLiteStore connected to the given database path.
// The path should be a file path (e.g., "./clair.db") or ":memory:" for an in-memory database.
// key selects the snapshot slot; an empty key uses DefaultSnapshotKey.
func NewSQLiteStore(ctx context.Context, dbPath, key string) (*SQLiteStore, error) {
	// Enable WAL mode for better concurrent read performance
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps ":memory:" databases alive across calls
	// and serializes snapshot writes.
	db.SetMaxOpenConns(1)

	// Verify connection
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if key == "" {
		key = DefaultSnapshotKey
	}
	return &SQLiteStore{db: db, key: key}, nil
}

// InitSchema creates the snapshot table if it doesn't exist.
// This should be called after creating a new SQLiteStore.
func (s *SQLiteStore) InitSchema(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS memory_snapshots (
			key TEXT PRIMARY KEY,
			data TEXT NOT NULL,
			updated_at TEXT DEFAULT CURRENT_TIMESTAMP
		);
	`

	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Get loads the snapshot stored under the store's key.
// A missing row yields an empty snapshot rather than an error.
func (s *SQLiteStore) Get(ctx context.Context) (Memory, error) {
	query := `SELECT data FROM memory_snapshots WHERE key = ?`

	var data string
	err := s.db.QueryRowContext(ctx, query, s.key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return Empty(time.Now().UTC()), nil
	}
	if err != nil {
		return Memory{}, fmt.Errorf("failed to query snapshot: %w", err)
	}

	return decodeSnapshot([]byte(data))
}

// Put overwrites the snapshot stored under the store's key.
func (s *SQLiteStore) Put(ctx context.Context, m Memory) error {
	data, err := encodeSnapshot(m)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO memory_snapshots (key, data, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at
	`

	_, err = s.db.ExecContext(ctx, query, s.key, string(data), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}

	return nil
}

// UpdatedAt reports when the snapshot was last written.
// The zero time is returned when no snapshot exists.
func (s *SQLiteStore) UpdatedAt(ctx context.Context) (time.Time, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT updated_at FROM memory_snapshots WHERE key = ?`, s.key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query snapshot timestamp: %w", err)
	}
	return parseTimestamp(raw)
}

// Close releases the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// parseTimestamp parses a SQLite timestamp string to time.Time.
// SQLite stores timestamps as TEXT in ISO8601/RFC3339 format.
func parseTimestamp(s string) (time.Time, error) {
	// Try various formats that SQLite might use
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05.000",
		"2006-01-02T15:04:05.000",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse timestamp: %s", s)
}

var _ SnapshotStore = (*SQLiteStore)(nil)
