package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestSQLiteStorageSave(t *testing.T) {
	tempDir := t.TempDir()
	dbFile := filepath.Join(tempDir, "test.db")

	s, err := NewSQLiteStorage(dbFile)
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	record := PageRecord{
		URL:       "https://example.com/page",
		FinalURL:  "https://example.com/page",
		Domain:    "example.com",
		Depth:     1,
		ParentURL: "https://example.com/",
		FetchedAt: time.Now(),
		Status:    200,
		Rendered:  false,
		Fingerprint: Fingerprint{
			Exact: "abc123",
			Sim:   0xdeadbeef,
		},
		ExtractionPayload: map[string]any{"title": "Example Page"},
	}

	result, err := s.Save(ctx, record)
	if err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !result.Stored {
		t.Error("expected Stored = true")
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM pages WHERE url = ?", record.URL).Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 row, got %d", count)
	}

	if err := s.Flush(ctx); err != nil {
		t.Errorf("Flush failed: %v", err)
	}
}

func TestSQLiteStorageSaveDuplicateIgnored(t *testing.T) {
	tempDir := t.TempDir()
	dbFile := filepath.Join(tempDir, "test.db")

	s, err := NewSQLiteStorage(dbFile)
	if err != nil {
		t.Fatalf("NewSQLiteStorage failed: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	fetchedAt := time.Now()
	record := PageRecord{
		URL:       "https://example.com/dup",
		FinalURL:  "https://example.com/dup",
		Domain:    "example.com",
		FetchedAt: fetchedAt,
		Status:    200,
	}

	if _, err := s.Save(ctx, record); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}
	if _, err := s.Save(ctx, record); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM pages WHERE url = ?", record.URL).Scan(&count); err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected duplicate (url, fetched_at) pair to be ignored, got %d rows", count)
	}
}
