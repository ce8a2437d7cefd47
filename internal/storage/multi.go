package storage

import (
	"context"
	"errors"
	"fmt"
)

// Multi fans one PageRecord stream out to several backends. A failure
// in one backend is joined into the returned error but never stops
// the others from being tried.
type Multi struct {
	backends []Storage
}

// NewMulti wraps backends behind a single Storage facade.
func NewMulti(backends ...Storage) *Multi {
	return &Multi{backends: backends}
}

// Save writes record to every backend, collecting per-backend errors.
// Result.Stored is true if at least one backend stored the record.
func (m *Multi) Save(ctx context.Context, record PageRecord) (Result, error) {
	var errs []error
	stored := false
	for _, backend := range m.backends {
		result, err := backend.Save(ctx, record)
		if err != nil {
			errs = append(errs, fmt.Errorf("backend save failed: %w", err))
			continue
		}
		if result.Stored {
			stored = true
		}
	}
	return Result{Stored: stored}, errors.Join(errs...)
}

// Flush flushes every backend, collecting per-backend errors.
func (m *Multi) Flush(ctx context.Context) error {
	var errs []error
	for _, backend := range m.backends {
		if err := backend.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("backend flush failed: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close closes every backend, collecting per-backend errors.
func (m *Multi) Close() error {
	var errs []error
	for _, backend := range m.backends {
		if err := backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("backend close failed: %w", err))
		}
	}
	return errors.Join(errs...)
}
