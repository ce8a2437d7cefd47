package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	// SQLite database driver (CGO-free)
	_ "modernc.org/sqlite"
)

// SQLiteStorage implements Storage against an embedded SQLite database.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens dbPath, applies the WAL/cache pragmas, and
// creates the pages table if it is missing.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Single connection prevents lock conflicts on the SQLite file.
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

func (s *SQLiteStorage) initSchema() error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000", // 64MB cache
		"PRAGMA temp_store = MEMORY",
		"PRAGMA busy_timeout = 30000",  // 30 second timeout for locks
		"PRAGMA locking_mode = NORMAL", // allow external monitoring processes
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

// Save inserts one PageRecord row. ExtractionPayload is marshalled to
// JSON; a nil payload stores an empty column.
func (s *SQLiteStorage) Save(ctx context.Context, record PageRecord) (Result, error) {
	payloadJSON, err := marshalPayload(record.ExtractionPayload)
	if err != nil {
		return Result{}, fmt.Errorf("failed to marshal extraction payload: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pages (
			url, final_url, domain, depth, parent_url, fetched_at,
			status, rendered, fingerprint_exact, fingerprint_sim, extraction_payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url, fetched_at) DO NOTHING
	`,
		record.URL,
		record.FinalURL,
		record.Domain,
		record.Depth,
		nullableString(record.ParentURL),
		record.FetchedAt,
		record.Status,
		record.Rendered,
		nullableString(record.Fingerprint.Exact),
		nullableUint64(record.Fingerprint.Sim),
		payloadJSON,
	)
	if err != nil {
		return Result{}, fmt.Errorf("failed to save page record: %w", err)
	}

	return Result{Stored: true}, nil
}

// Flush is a no-op: every Save commits its own statement immediately.
func (s *SQLiteStorage) Flush(_ context.Context) error {
	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func marshalPayload(payload any) (any, error) {
	if payload == nil {
		return nil, nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableUint64(v uint64) any {
	if v == 0 {
		return nil
	}
	return v
}
