package storage

// schemaSQL defines the pages table SQLite and (in adapted form)
// Postgres use to persist the PageRecord stream. There is no queue
// table: the frontier owns admission and scheduling entirely in
// memory, so storage is a pure write sink for completed,
// non-duplicate pages.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS pages (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    url                 TEXT NOT NULL,
    final_url           TEXT NOT NULL,
    domain              TEXT NOT NULL,
    depth               INTEGER NOT NULL,
    parent_url          TEXT,
    fetched_at          DATETIME NOT NULL,
    status              INTEGER NOT NULL,
    rendered            BOOLEAN NOT NULL DEFAULT 0,
    fingerprint_exact   TEXT,
    fingerprint_sim     INTEGER,
    extraction_payload  TEXT,
    UNIQUE(url, fetched_at)
);

CREATE INDEX IF NOT EXISTS idx_pages_domain ON pages(domain);
CREATE INDEX IF NOT EXISTS idx_pages_fetched_at ON pages(fetched_at);
CREATE INDEX IF NOT EXISTS idx_pages_fingerprint_exact ON pages(fingerprint_exact) WHERE fingerprint_exact IS NOT NULL;
`

// postgresSchemaSQL is schemaSQL's Postgres dialect: SERIAL instead of
// AUTOINCREMENT, native BOOLEAN/TIMESTAMPTZ/BIGINT types, and a
// partial index predicate Postgres accepts identically.
const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS pages (
    id                  SERIAL PRIMARY KEY,
    url                 TEXT NOT NULL,
    final_url           TEXT NOT NULL,
    domain              TEXT NOT NULL,
    depth               INTEGER NOT NULL,
    parent_url          TEXT,
    fetched_at          TIMESTAMPTZ NOT NULL,
    status              INTEGER NOT NULL,
    rendered            BOOLEAN NOT NULL DEFAULT FALSE,
    fingerprint_exact   TEXT,
    fingerprint_sim     BIGINT,
    extraction_payload  JSONB,
    UNIQUE(url, fetched_at)
);

CREATE INDEX IF NOT EXISTS idx_pages_domain ON pages(domain);
CREATE INDEX IF NOT EXISTS idx_pages_fetched_at ON pages(fetched_at);
CREATE INDEX IF NOT EXISTS idx_pages_fingerprint_exact ON pages(fingerprint_exact) WHERE fingerprint_exact IS NOT NULL;
`
