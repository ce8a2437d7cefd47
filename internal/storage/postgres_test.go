package storage

import (
	"context"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
)

func TestPostgresStorageSaveInsertsRow(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("pgxmock.NewPool() error = %v", err)
	}
	defer mock.Close()

	store, err := NewPostgresStorageWithPool(mock)
	if err != nil {
		t.Fatalf("NewPostgresStorageWithPool() error = %v", err)
	}

	fetchedAt := time.Unix(1700000000, 0).UTC()
	record := PageRecord{
		URL:       "https://example.com",
		FinalURL:  "https://example.com",
		Domain:    "example.com",
		Depth:     2,
		ParentURL: "https://example.com/",
		FetchedAt: fetchedAt,
		Status:    200,
		Rendered:  true,
		Fingerprint: Fingerprint{
			Exact: "abc123",
			Sim:   42,
		},
	}

	mock.ExpectExec("INSERT INTO pages").
		WithArgs(
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
			jsonbOrNil(nil),
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	result, err := store.Save(context.Background(), record)
	if err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if !result.Stored {
		t.Error("Save() result.Stored = false, want true")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestNewPostgresStorageWithPoolRejectsNil(t *testing.T) {
	if _, err := NewPostgresStorageWithPool(nil); err == nil {
		t.Error("NewPostgresStorageWithPool(nil) should fail")
	}
}
