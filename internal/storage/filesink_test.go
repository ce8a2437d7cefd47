package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileSinkFlushesOnBatchSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	sink, err := NewFileSink(FileSinkConfig{Path: path, BatchSize: 2})
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := sink.Save(ctx, PageRecord{URL: "https://example.com", FetchedAt: time.Now()}); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	lines := readLines(t, path)
	if len(lines) != 2 {
		t.Fatalf("expected batch to flush after 2 records, got %d lines", len(lines))
	}

	if err := sink.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func TestFileSinkFlushWritesPendingRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.jsonl")
	sink, err := NewFileSink(FileSinkConfig{Path: path, BatchSize: 100})
	if err != nil {
		t.Fatalf("NewFileSink failed: %v", err)
	}

	ctx := context.Background()
	if _, err := sink.Save(ctx, PageRecord{URL: "https://example.com/a", FetchedAt: time.Now()}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if len(readLines(t, path)) != 0 {
		t.Fatal("expected no data on disk before Flush")
	}

	if err := sink.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}

	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line after flush, got %d", len(lines))
	}

	var record fileRecord
	if err := json.Unmarshal([]byte(lines[0]), &record); err != nil {
		t.Fatalf("failed to unmarshal record: %v", err)
	}
	if record.URL != "https://example.com/a" {
		t.Errorf("url = %q", record.URL)
	}

	if err := sink.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		t.Fatalf("open failed: %v", err)
	}
	defer func() { _ = f.Close() }()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines
}
