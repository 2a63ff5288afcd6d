package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bdougie/visionstream/internal/models"
)

const batchSize = 10 // Number of entries to batch write

// Storage defines the interface for recording job log entries
type Storage interface {
	// AddEntry records a single log entry
	AddEntry(ctx context.Context, entry models.LogEntry) error

	// Flush ensures all pending entries are saved
	Flush() error
}

// storageImpl batches log entries into a JSON file
type storageImpl struct {
	entries   []models.LogEntry
	mu        sync.Mutex
	outputDir string
	name      string
}

// NewStorage creates a JSON file storage writing to outputDir/name/job_logs.json
func NewStorage(outputDir, name string) *storageImpl {
	return &storageImpl{
		entries:   []models.LogEntry{},
		outputDir: outputDir,
		name:      name,
	}
}

// Path returns the file entries are written to
func (s *storageImpl) Path() string {
	return filepath.Join(s.outputDir, s.name, "job_logs.json")
}

// AddEntry adds an entry to the batch and flushes if the batch is full
func (s *storageImpl) AddEntry(ctx context.Context, entry models.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)

	// Write to disk when batch is full
	if len(s.entries) >= batchSize {
		if err := s.flush(); err != nil {
			return fmt.Errorf("failed to flush log entries: %w", err)
		}
	}
	return nil
}

// Flush writes all pending entries to disk
func (s *storageImpl) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flush()
}

func (s *storageImpl) flush() error {
	if len(s.entries) == 0 {
		return nil
	}

	logsFilePath := s.Path()

	var existing []models.LogEntry
	if data, err := os.ReadFile(logsFilePath); err == nil {
		if err := json.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("failed to unmarshal existing entries: %w", err)
		}
	}

	all := append(existing, s.entries...)

	if err := os.MkdirAll(filepath.Dir(logsFilePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory for log entries: %w", err)
	}

	file, err := os.Create(logsFilePath)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := json.NewEncoder(file).Encode(all); err != nil {
		return err
	}

	s.entries = nil // Clear the batch
	return nil
}
