package dlq

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	ErrDLQClosed = errors.New("DLQ is closed")
	ErrDLQFull   = errors.New("DLQ is full")
)

// FileName is the queue file inside the configured directory
const FileName = "dead-letter.ndjson"

// DLQConfig holds configuration for the Dead Letter Queue
type DLQConfig struct {
	Dir     string
	MaxSize int64         // Maximum number of entries
	MaxAge  time.Duration // Older entries are dropped when the queue is loaded
}

// DeadLetterQueue keeps alerts and reports that a sink could not accept so
// they can be inspected or replayed after the run. Entries from earlier
// runs are loaded on open and written back, with the new ones, on Close.
type DeadLetterQueue struct {
	config DLQConfig

	mu      sync.Mutex
	entries []*DLQEntry
	closed  bool

	enqueued uint64
	dropped  uint64
	expired  uint64
}

// DLQEntry is one undeliverable record
type DLQEntry struct {
	Sink      string          `json:"sink"`
	Kind      string          `json:"kind"`
	Record    json.RawMessage `json:"record"`
	Error     string          `json:"error"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewDeadLetterQueue opens the queue in config.Dir, creating the directory
// when needed
func NewDeadLetterQueue(config DLQConfig) (*DeadLetterQueue, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("DLQ directory is required")
	}

	if config.MaxSize == 0 {
		config.MaxSize = 10000
	}

	if config.MaxAge == 0 {
		config.MaxAge = 7 * 24 * time.Hour
	}

	if err := os.MkdirAll(config.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create DLQ directory: %w", err)
	}

	dlq := &DeadLetterQueue{
		config:  config,
		entries: make([]*DLQEntry, 0),
	}

	if err := dlq.load(); err != nil {
		return nil, fmt.Errorf("failed to load DLQ: %w", err)
	}

	return dlq, nil
}

// Path returns the file the queue is persisted to
func (dlq *DeadLetterQueue) Path() string {
	return filepath.Join(dlq.config.Dir, FileName)
}

// Enqueue stores a record that sink failed to deliver with cause
func (dlq *DeadLetterQueue) Enqueue(sink, kind string, record any, cause error) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	if dlq.closed {
		return ErrDLQClosed
	}

	if int64(len(dlq.entries)) >= dlq.config.MaxSize {
		dlq.dropped++
		return ErrDLQFull
	}

	entry := &DLQEntry{
		Sink:      sink,
		Kind:      kind,
		Record:    data,
		Timestamp: time.Now().UTC(),
	}
	if cause != nil {
		entry.Error = cause.Error()
	}

	dlq.entries = append(dlq.entries, entry)
	dlq.enqueued++

	return nil
}

// Entries returns a copy of the queued entries, oldest first
func (dlq *DeadLetterQueue) Entries() []*DLQEntry {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	entries := make([]*DLQEntry, len(dlq.entries))
	copy(entries, dlq.entries)
	return entries
}

// Size returns the number of entries in the DLQ
func (dlq *DeadLetterQueue) Size() int {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	return len(dlq.entries)
}

// Flush persists all entries to disk
func (dlq *DeadLetterQueue) Flush() error {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	if dlq.closed {
		return ErrDLQClosed
	}
	return dlq.flush()
}

// Close flushes the queue. Later calls return ErrDLQClosed.
func (dlq *DeadLetterQueue) Close() error {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	if dlq.closed {
		return ErrDLQClosed
	}

	dlq.closed = true
	return dlq.flush()
}

// Metrics returns DLQ statistics
func (dlq *DeadLetterQueue) Metrics() DLQMetrics {
	dlq.mu.Lock()
	defer dlq.mu.Unlock()

	return DLQMetrics{
		Enqueued:    dlq.enqueued,
		Dropped:     dlq.dropped,
		Expired:     dlq.expired,
		CurrentSize: len(dlq.entries),
		MaxSize:     dlq.config.MaxSize,
	}
}

// flush rewrites the queue file atomically (must be called with lock held).
// An empty queue removes the file.
func (dlq *DeadLetterQueue) flush() error {
	filename := dlq.Path()

	if len(dlq.entries) == 0 {
		if err := os.Remove(filename); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove empty DLQ file: %w", err)
		}
		return nil
	}

	tempFile := filename + ".tmp"
	file, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	encoder := json.NewEncoder(file)
	for _, entry := range dlq.entries {
		if err := encoder.Encode(entry); err != nil {
			file.Close()
			os.Remove(tempFile)
			return fmt.Errorf("failed to encode entry: %w", err)
		}
	}

	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempFile)
		return fmt.Errorf("failed to sync file: %w", err)
	}

	file.Close()

	if err := os.Rename(tempFile, filename); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// load reads entries left by earlier runs, skipping expired ones
func (dlq *DeadLetterQueue) load() error {
	file, err := os.Open(dlq.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open DLQ file: %w", err)
	}
	defer file.Close()

	cutoff := time.Now().Add(-dlq.config.MaxAge)
	decoder := json.NewDecoder(file)
	for {
		var entry DLQEntry
		if err := decoder.Decode(&entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to decode entry: %w", err)
		}
		if entry.Timestamp.Before(cutoff) {
			dlq.expired++
			continue
		}
		dlq.entries = append(dlq.entries, &entry)
	}

	return nil
}

// DLQMetrics holds DLQ statistics
type DLQMetrics struct {
	Enqueued    uint64
	Dropped     uint64
	Expired     uint64
	CurrentSize int
	MaxSize     int64
}

// Utilization returns the DLQ utilization percentage (0-100)
func (m DLQMetrics) Utilization() float64 {
	if m.MaxSize == 0 {
		return 0
	}
	return (float64(m.CurrentSize) / float64(m.MaxSize)) * 100.0
}
