package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// fileRecord is the JSON shape written per line, mirroring PageRecord
// but with the fingerprint flattened for readability on disk.
type fileRecord struct {
	URL               string    `json:"url"`
	FinalURL          string    `json:"final_url"`
	Domain            string    `json:"domain"`
	Depth             uint      `json:"depth"`
	ParentURL         string    `json:"parent_url,omitempty"`
	FetchedAt         time.Time `json:"fetched_at"`
	Status            int       `json:"status"`
	Rendered          bool      `json:"rendered"`
	FingerprintExact  string    `json:"fingerprint_exact,omitempty"`
	FingerprintSim    uint64    `json:"fingerprint_sim,omitempty"`
	ExtractionPayload any      `json:"extraction_payload,omitempty"`
}

// FileSinkConfig controls the batched JSONL writer.
type FileSinkConfig struct {
	Path      string
	BatchSize int
}

// FileSink appends PageRecords as newline-delimited JSON, buffering
// writes and flushing every BatchSize records.
type FileSink struct {
	mu        sync.Mutex
	file      *os.File
	writer    *bufio.Writer
	batchSize int
	pending   int
}

// NewFileSink opens (creating if necessary) the file at cfg.Path for
// append and wraps it in a buffered writer.
func NewFileSink(cfg FileSinkConfig) (*FileSink, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("file sink: path is required")
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file sink: %w", err)
	}

	return &FileSink{
		file:      f,
		writer:    bufio.NewWriter(f),
		batchSize: batchSize,
	}, nil
}

// Save appends one JSON line and flushes once the batch fills.
func (s *FileSink) Save(_ context.Context, record PageRecord) (Result, error) {
	line := fileRecord{
		URL:               record.URL,
		FinalURL:          record.FinalURL,
		Domain:            record.Domain,
		Depth:             record.Depth,
		ParentURL:         record.ParentURL,
		FetchedAt:         record.FetchedAt,
		Status:            record.Status,
		Rendered:          record.Rendered,
		FingerprintExact:  record.Fingerprint.Exact,
		FingerprintSim:    record.Fingerprint.Sim,
		ExtractionPayload: record.ExtractionPayload,
	}

	b, err := json.Marshal(line)
	if err != nil {
		return Result{}, fmt.Errorf("marshal page record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.writer.Write(b); err != nil {
		return Result{}, fmt.Errorf("write page record: %w", err)
	}
	if err := s.writer.WriteByte('\n'); err != nil {
		return Result{}, fmt.Errorf("write newline: %w", err)
	}

	s.pending++
	if s.pending >= s.batchSize {
		if err := s.flushLocked(); err != nil {
			return Result{}, err
		}
	}

	return Result{Stored: true}, nil
}

// Flush forces any buffered records to disk.
func (s *FileSink) Flush(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked()
}

func (s *FileSink) flushLocked() error {
	if err := s.writer.Flush(); err != nil {
		return fmt.Errorf("flush file sink: %w", err)
	}
	s.pending = 0
	return nil
}

// Close flushes remaining records and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.flushLocked(); err != nil {
		_ = s.file.Close()
		return err
	}
	return s.file.Close()
}
