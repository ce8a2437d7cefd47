package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig controls the pgxpool connection used for the pages table.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// PostgresStorage implements Storage against a Postgres pages table.
type PostgresStorage struct {
	pool execCloser
}

// NewPostgresStorage connects to cfg.DSN and creates the pages table if
// it is missing.
func NewPostgresStorage(ctx context.Context, cfg PostgresConfig) (*PostgresStorage, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres storage: dsn is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &PostgresStorage{pool: pool}, nil
}

// NewPostgresStorageWithPool builds a store from an existing pool,
// primarily for testing against a mock.
func NewPostgresStorageWithPool(pool execCloser) (*PostgresStorage, error) {
	if pool == nil {
		return nil, fmt.Errorf("postgres storage: pool is required")
	}
	return &PostgresStorage{pool: pool}, nil
}

// Save inserts one PageRecord row, ignoring a duplicate (url, fetched_at) pair.
func (s *PostgresStorage) Save(ctx context.Context, record PageRecord) (Result, error) {
	payloadJSON, err := marshalPayload(record.ExtractionPayload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal extraction payload: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO pages (
			url, final_url, domain, depth, parent_url, fetched_at,
			status, rendered, fingerprint_exact, fingerprint_sim, extraction_payload
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (url, fetched_at) DO NOTHING
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
		jsonbOrNil(payloadJSON),
	)
	if err != nil {
		return Result{}, fmt.Errorf("insert page record: %w", err)
	}

	return Result{Stored: true}, nil
}

// Flush is a no-op: every Save commits through the pool immediately.
func (s *PostgresStorage) Flush(_ context.Context) error {
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStorage) Close() error {
	s.pool.Close()
	return nil
}

func jsonbOrNil(payload any) []byte {
	if payload == nil {
		return nil
	}
	s, ok := payload.(string)
	if !ok {
		return nil
	}
	return json.RawMessage(s)
}
