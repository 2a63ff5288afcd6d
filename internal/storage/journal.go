package storage

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/bdougie/visionstream/internal/models"
)

// Journal is the job log. It keeps entries in memory for display, mirrors
// them to the structured logger and forwards them to any storage backends.
type Journal struct {
	mu       sync.Mutex
	entries  []models.LogEntry
	backends []Storage
	logger   *slog.Logger
	now      func() time.Time
}

// NewJournal creates a journal writing through logger and backends.
func NewJournal(logger *slog.Logger, backends ...Storage) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		backends: backends,
		logger:   logger,
		now:      time.Now,
	}
}

// AddLog records a message. Backend failures are logged and otherwise
// ignored.
func (j *Journal) AddLog(message string, severity models.Severity) {
	entry := models.LogEntry{
		Time:     j.now().Format("15:04:05"),
		Message:  message,
		Severity: severity,
	}

	j.mu.Lock()
	j.entries = append(j.entries, entry)
	j.mu.Unlock()

	switch severity {
	case models.SeverityWarning:
		j.logger.Warn(message)
	case models.SeveritySuccess:
		j.logger.Info(message, "severity", string(severity))
	default:
		j.logger.Info(message)
	}

	for _, b := range j.backends {
		if err := b.AddEntry(context.Background(), entry); err != nil {
			j.logger.Warn("failed to record log entry", "error", err)
		}
	}
}

// Entries returns a copy of the recorded entries in order.
func (j *Journal) Entries() []models.LogEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]models.LogEntry, len(j.entries))
	copy(out, j.entries)
	return out
}

// Clear drops the in-memory entries. Backends keep what they recorded.
func (j *Journal) Clear() {
	j.mu.Lock()
	j.entries = nil
	j.mu.Unlock()
}

// Close flushes every backend.
func (j *Journal) Close() error {
	var errs []error
	for _, b := range j.backends {
		if err := b.Flush(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
