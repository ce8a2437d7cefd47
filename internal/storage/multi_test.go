package storage

import (
	"context"
	"errors"
	"testing"
)

type fakeBackend struct {
	saveErr  error
	stored   bool
	flushErr error
	closeErr error
	saved    int
}

func (f *fakeBackend) Save(_ context.Context, _ PageRecord) (Result, error) {
	if f.saveErr != nil {
		return Result{}, f.saveErr
	}
	f.saved++
	return Result{Stored: f.stored}, nil
}

func (f *fakeBackend) Flush(_ context.Context) error { return f.flushErr }
func (f *fakeBackend) Close() error                   { return f.closeErr }

func TestMultiSaveAggregatesErrors(t *testing.T) {
	ok := &fakeBackend{stored: true}
	failing := &fakeBackend{saveErr: errors.New("disk full")}

	m := NewMulti(ok, failing)
	result, err := m.Save(context.Background(), PageRecord{URL: "https://example.com"})

	if !result.Stored {
		t.Error("expected Stored = true when at least one backend succeeds")
	}
	if err == nil {
		t.Fatal("expected aggregated error from failing backend")
	}
	if ok.saved != 1 {
		t.Errorf("expected working backend to still receive the save, got %d calls", ok.saved)
	}
}

func TestMultiFlushAndClose(t *testing.T) {
	a := &fakeBackend{}
	b := &fakeBackend{flushErr: errors.New("flush failed"), closeErr: errors.New("close failed")}

	m := NewMulti(a, b)
	if err := m.Flush(context.Background()); err == nil {
		t.Error("expected flush error to propagate")
	}
	if err := m.Close(); err == nil {
		t.Error("expected close error to propagate")
	}
}
