package config

import "errors"

var (
	// ErrNoSeedURLs is returned when no seed URLs are provided
	ErrNoSeedURLs = errors.New("no seed URLs provided")
	// ErrInvalidWorkers is returned when the worker count is not greater than 0
	ErrInvalidWorkers = errors.New("workers must be greater than 0")
	// ErrInvalidTimeout is returned when page timeout is not greater than 0
	ErrInvalidTimeout = errors.New("page_timeout must be greater than 0")
	// ErrInvalidDepth is returned when max_depth is negative
	ErrInvalidDepth = errors.New("max_depth must not be negative")
	// ErrInvalidSimilarity is returned when similarity_threshold is outside (0,1]
	ErrInvalidSimilarity = errors.New("similarity_threshold must be in (0, 1]")
	// ErrEmptyDatabasePath is returned when the sqlite backend has no database path
	ErrEmptyDatabasePath = errors.New("database_path cannot be empty")
	// ErrEmptyPostgresDSN is returned when the postgres backend has no DSN
	ErrEmptyPostgresDSN = errors.New("postgres_dsn cannot be empty")
	// ErrUnknownStorageBackend is returned for an unrecognised storage_backend value
	ErrUnknownStorageBackend = errors.New("unknown storage_backend")
	// ErrUnknownRenderMode is returned for an unrecognised render_mode value
	ErrUnknownRenderMode = errors.New("unknown render_mode")
)
