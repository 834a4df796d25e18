package output

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"sync"
	"time"

	"github.com/therealutkarshpriyadarshi/authlog/pkg/types"
)

var (
	// ErrSinkClosed is returned when a sink is used after Close
	ErrSinkClosed = errors.New("sink is closed")

	// ErrAlertsPending is returned when a batch send failed. The sink still
	// holds the alert and resends it with the next batch, so the call must
	// not be repeated.
	ErrAlertsPending = errors.New("alerts pending after failed batch send")
)

// Sink receives the alerts of one run as they are raised and the final
// report once the input is exhausted or the run is cancelled
type Sink interface {
	// Start announces a new run before any alert is delivered
	Start(ctx context.Context, run RunInfo) error

	// Alert delivers one threshold-crossing signal
	Alert(ctx context.Context, alert types.AlertSignal) error

	// Report delivers the end-of-run summary
	Report(ctx context.Context, report *types.Report) error

	// Close flushes buffered data and releases resources
	Close() error

	// Name returns the name of the sink
	Name() string

	// Metrics returns the current metrics for this sink
	Metrics() *SinkMetrics
}

// AlertBuffer is implemented by sinks that hold accepted alerts until a
// later send. DrainAlerts removes and returns the alerts that were not
// delivered yet.
type AlertBuffer interface {
	DrainAlerts() []AlertRecord
}

// RunInfo identifies one analysis run
type RunInfo struct {
	ID        string    `json:"run_id"`
	Source    string    `json:"source"`
	Threshold int       `json:"threshold"`
	StartedAt time.Time `json:"started_at"`
}

// NewRunInfo creates run metadata with a fresh random id
func NewRunInfo(source string, threshold int) RunInfo {
	return RunInfo{
		ID:        newRunID(),
		Source:    source,
		Threshold: threshold,
		StartedAt: time.Now().UTC(),
	}
}

func newRunID() string {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return time.Now().UTC().Format("20060102T150405.000000000")
	}
	return hex.EncodeToString(b[:])
}

// Delivery kinds, used as metric labels
const (
	KindAlert  = "alert"
	KindReport = "report"
)

// SinkMetrics tracks delivery counts for a sink
type SinkMetrics struct {
	AlertsSent    int64     `json:"alerts_sent"`
	AlertsFailed  int64     `json:"alerts_failed"`
	ReportsSent   int64     `json:"reports_sent"`
	ReportsFailed int64     `json:"reports_failed"`
	BytesSent     int64     `json:"bytes_sent"`
	LastSendTime  time.Time `json:"last_send_time"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorTime time.Time `json:"last_error_time,omitempty"`
}

// metricsTracker records SinkMetrics under a lock
type metricsTracker struct {
	mu      sync.Mutex
	metrics SinkMetrics
}

func (m *metricsTracker) recordSuccess(kind string, bytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if kind == KindReport {
		m.metrics.ReportsSent++
	} else {
		m.metrics.AlertsSent++
	}
	m.metrics.BytesSent += int64(bytes)
	m.metrics.LastSendTime = time.Now()
}

func (m *metricsTracker) recordFailure(kind string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if kind == KindReport {
		m.metrics.ReportsFailed++
	} else {
		m.metrics.AlertsFailed++
	}
	if err != nil {
		m.metrics.LastError = err.Error()
	}
	m.metrics.LastErrorTime = time.Now()
}

func (m *metricsTracker) snapshot() *SinkMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.metrics
	return &out
}

// AlertRecord is the serialized form of an alert shared by the structured
// sinks
type AlertRecord struct {
	Type          string    `json:"type"`
	RunID         string    `json:"run_id,omitempty"`
	Time          time.Time `json:"@timestamp"`
	SourceAddress string    `json:"source_address"`
	Threshold     int       `json:"threshold"`
	Message       string    `json:"message"`
}

// ReportRecord is the serialized form of a report shared by the structured
// sinks
type ReportRecord struct {
	Type             string         `json:"type"`
	RunID            string         `json:"run_id,omitempty"`
	Time             time.Time      `json:"@timestamp"`
	Source           string         `json:"source,omitempty"`
	Threshold        int            `json:"threshold"`
	Partial          bool           `json:"partial"`
	TotalEvents      int            `json:"total_events"`
	AcceptedEvents   int            `json:"accepted_events"`
	FailedEvents     int            `json:"failed_events"`
	SkippedLines     int            `json:"skipped_lines"`
	FailuresBySource map[string]int `json:"failures_by_source"`
	TargetedAccounts map[string]int `json:"targeted_accounts"`
	Flagged          []types.Count  `json:"flagged"`
}

// AlertMessage is the human-readable text of an alert
func AlertMessage(alert types.AlertSignal) string {
	return "High failure rate detected from " + alert.SourceAddress + "!"
}

// NewAlertRecord builds the serialized form of an alert
func NewAlertRecord(run RunInfo, alert types.AlertSignal, now time.Time) AlertRecord {
	return AlertRecord{
		Type:          KindAlert,
		RunID:         run.ID,
		Time:          now.UTC(),
		SourceAddress: alert.SourceAddress,
		Threshold:     alert.Threshold,
		Message:       AlertMessage(alert),
	}
}

// NewReportRecord builds the serialized form of a report
func NewReportRecord(run RunInfo, report *types.Report, now time.Time) ReportRecord {
	flagged := report.Flagged()
	if flagged == nil {
		flagged = []types.Count{}
	}
	return ReportRecord{
		Type:             KindReport,
		RunID:            run.ID,
		Time:             now.UTC(),
		Source:           run.Source,
		Threshold:        report.Threshold,
		Partial:          report.Partial,
		TotalEvents:      report.TotalEvents(),
		AcceptedEvents:   report.AcceptedEvents,
		FailedEvents:     report.FailedEvents,
		SkippedLines:     report.SkippedLines,
		FailuresBySource: nonNil(report.FailuresBySource),
		TargetedAccounts: nonNil(report.TargetedAccounts),
		Flagged:          flagged,
	}
}

func nonNil(m map[string]int) map[string]int {
	if m == nil {
		return map[string]int{}
	}
	return m
}

// CompressionType defines the compression algorithm to use
type CompressionType string

const (
	CompressionNone   CompressionType = "none"
	CompressionGzip   CompressionType = "gzip"
	CompressionSnappy CompressionType = "snappy"
)
