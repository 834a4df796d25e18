package output

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/authlog/pkg/types"
)

// JSONConfig holds configuration for the NDJSON sink
type JSONConfig struct {
	// Path of the output file, empty or "-" for the sink's writer
	Path string
}

// JSONSink writes one JSON object per line for every alert and report
type JSONSink struct {
	name    string
	w       io.Writer
	file    *os.File
	run     RunInfo
	metrics metricsTracker
	now     func() time.Time

	mu     sync.Mutex
	closed bool
}

// NewJSONSink creates an NDJSON sink. When cfg.Path names a file it is
// created or truncated, otherwise records go to w.
func NewJSONSink(name string, w io.Writer, cfg JSONConfig) (*JSONSink, error) {
	if name == "" {
		name = "json"
	}

	sink := &JSONSink{name: name, w: w, now: time.Now}

	if cfg.Path != "" && cfg.Path != "-" {
		f, err := os.Create(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to create json output %s: %w", cfg.Path, err)
		}
		sink.file = f
		sink.w = f
	}

	return sink, nil
}

// Start records the run metadata stamped on every record
func (j *JSONSink) Start(ctx context.Context, run RunInfo) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.run = run
	return nil
}

// Alert writes an alert record
func (j *JSONSink) Alert(ctx context.Context, alert types.AlertSignal) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.encodeLocked(KindAlert, NewAlertRecord(j.run, alert, j.now()))
}

// Report writes the report record
func (j *JSONSink) Report(ctx context.Context, report *types.Report) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.encodeLocked(KindReport, NewReportRecord(j.run, report, j.now()))
}

func (j *JSONSink) encodeLocked(kind string, record interface{}) error {
	if j.closed {
		return ErrSinkClosed
	}

	data, err := json.Marshal(record)
	if err != nil {
		j.metrics.recordFailure(kind, err)
		return fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	data = append(data, '\n')

	if _, err := j.w.Write(data); err != nil {
		j.metrics.recordFailure(kind, err)
		return fmt.Errorf("failed to write %s: %w", kind, err)
	}

	j.metrics.recordSuccess(kind, len(data))
	return nil
}

// Close closes the output file, if the sink owns one
func (j *JSONSink) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true

	if j.file != nil {
		if err := j.file.Close(); err != nil {
			return fmt.Errorf("failed to close json output: %w", err)
		}
	}
	return nil
}

// Name returns the sink name
func (j *JSONSink) Name() string {
	return j.name
}

// Metrics returns the sink metrics
func (j *JSONSink) Metrics() *SinkMetrics {
	return j.metrics.snapshot()
}
