package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"

	"github.com/therealutkarshpriyadarshi/authlog/internal/security"
	"github.com/therealutkarshpriyadarshi/authlog/pkg/types"
)

// ElasticsearchConfig contains Elasticsearch-specific configuration
type ElasticsearchConfig struct {
	// Addresses is the list of Elasticsearch node URLs
	Addresses []string

	// Index is the index name or pattern (supports %{+YYYY.MM.dd} patterns)
	Index string

	// IndexRotation appends a date suffix (daily, weekly, monthly, yearly, none)
	IndexRotation string

	// Pipeline is the ingest pipeline to use
	Pipeline string

	Username string
	Password string
	CloudID  string
	APIKey   string

	// BatchSize buffers alerts for the Bulk API, 1 indexes each alert as it
	// is raised
	BatchSize int

	TLS *security.TLSConfig
}

// DefaultElasticsearchConfig returns default Elasticsearch configuration
func DefaultElasticsearchConfig() ElasticsearchConfig {
	return ElasticsearchConfig{
		Addresses:     []string{"http://localhost:9200"},
		Index:         "authlog",
		IndexRotation: "none",
		BatchSize:     1,
	}
}

// ElasticsearchSink indexes alerts and the report as documents
type ElasticsearchSink struct {
	name    string
	config  ElasticsearchConfig
	client  *elasticsearch.Client
	batcher *Batcher[esAlert]
	metrics metricsTracker
	now     func() time.Time

	mu     sync.RWMutex
	run    RunInfo
	closed atomic.Bool
}

// esAlert is one buffered alert document
type esAlert struct {
	record AlertRecord
	doc    []byte
}

// NewElasticsearchSink creates a new Elasticsearch sink and checks that the
// cluster is reachable
func NewElasticsearchSink(name string, config ElasticsearchConfig) (*ElasticsearchSink, error) {
	if len(config.Addresses) == 0 && config.CloudID == "" {
		return nil, fmt.Errorf("no addresses or cloud ID specified")
	}

	if config.Index == "" {
		return nil, fmt.Errorf("no index specified")
	}

	esConfig := elasticsearch.Config{
		Addresses: config.Addresses,
		CloudID:   config.CloudID,
		Username:  config.Username,
		Password:  config.Password,
		APIKey:    config.APIKey,
	}

	tlsConfig, err := security.LoadTLSConfig(config.TLS)
	if err != nil {
		return nil, fmt.Errorf("invalid Elasticsearch TLS configuration: %w", err)
	}
	if tlsConfig != nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = tlsConfig
		esConfig.Transport = transport
	}

	client, err := elasticsearch.NewClient(esConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}

	// Test connection
	res, err := client.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch returned error: %s", res.Status())
	}

	if name == "" {
		name = "elasticsearch"
	}

	sink := &ElasticsearchSink{
		name:   name,
		config: config,
		client: client,
		now:    time.Now,
	}

	if config.BatchSize > 1 {
		sink.batcher = NewBatcher(BatcherConfig{
			MaxBatchSize:  config.BatchSize,
			MaxBatchBytes: 10 * 1024 * 1024, // 10MB default bulk size
		}, func(a esAlert) int { return len(a.doc) }, sink.bulkIndex)
	}

	return sink, nil
}

// Start records the run metadata stamped on every document
func (e *ElasticsearchSink) Start(ctx context.Context, run RunInfo) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.run = run
	return nil
}

// Alert indexes an alert document
func (e *ElasticsearchSink) Alert(ctx context.Context, alert types.AlertSignal) error {
	if e.closed.Load() {
		return ErrSinkClosed
	}

	e.mu.RLock()
	record := NewAlertRecord(e.run, alert, e.now())
	e.mu.RUnlock()

	doc, err := json.Marshal(record)
	if err != nil {
		e.metrics.recordFailure(KindAlert, err)
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	if e.batcher != nil {
		if err := e.batcher.Add(ctx, esAlert{record: record, doc: doc}); err != nil {
			if errors.Is(err, ErrSinkClosed) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrAlertsPending, err)
		}
		return nil
	}

	return e.index(ctx, KindAlert, "", doc)
}

// Report flushes buffered alerts and indexes the report. The report
// document id is derived from the run id so a retried report replaces the
// earlier attempt.
func (e *ElasticsearchSink) Report(ctx context.Context, report *types.Report) error {
	if e.closed.Load() {
		return ErrSinkClosed
	}

	if e.batcher != nil {
		if err := e.batcher.Flush(ctx); err != nil {
			return err
		}
	}

	e.mu.RLock()
	record := NewReportRecord(e.run, report, e.now())
	e.mu.RUnlock()

	doc, err := json.Marshal(record)
	if err != nil {
		e.metrics.recordFailure(KindReport, err)
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	var docID string
	if record.RunID != "" {
		docID = record.RunID + "-report"
	}
	return e.index(ctx, KindReport, docID, doc)
}

func (e *ElasticsearchSink) index(ctx context.Context, kind, docID string, doc []byte) error {
	req := esapi.IndexRequest{
		Index:      e.indexName(e.now()),
		DocumentID: docID,
		Body:       bytes.NewReader(doc),
		Refresh:    "false",
	}

	if e.config.Pipeline != "" {
		req.Pipeline = e.config.Pipeline
	}

	res, err := req.Do(ctx, e.client)
	if err != nil {
		e.metrics.recordFailure(kind, err)
		return fmt.Errorf("failed to index %s: %w", kind, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		err := fmt.Errorf("elasticsearch returned error: %s", res.Status())
		e.metrics.recordFailure(kind, err)
		return err
	}

	e.metrics.recordSuccess(kind, len(doc))
	return nil
}

// bulkIndex sends a batch of alert documents using the Bulk API. A source
// address alerts at most once per run, so run id and address make a stable
// document id and a resent batch replaces the documents that already
// made it.
func (e *ElasticsearchSink) bulkIndex(ctx context.Context, alerts []esAlert) error {
	if len(alerts) == 0 {
		return nil
	}

	index := e.indexName(e.now())

	var buf bytes.Buffer
	for _, alert := range alerts {
		meta := map[string]interface{}{
			"_index": index,
		}
		if alert.record.RunID != "" {
			meta["_id"] = alert.record.RunID + "-" + alert.record.SourceAddress
		}
		if e.config.Pipeline != "" {
			meta["pipeline"] = e.config.Pipeline
		}
		metaJSON, err := json.Marshal(map[string]interface{}{"index": meta})
		if err != nil {
			return fmt.Errorf("failed to marshal bulk metadata: %w", err)
		}

		buf.Write(metaJSON)
		buf.WriteByte('\n')
		buf.Write(alert.doc)
		buf.WriteByte('\n')
	}

	res, err := e.client.Bulk(bytes.NewReader(buf.Bytes()), e.client.Bulk.WithContext(ctx))
	if err != nil {
		e.recordBulkFailure(len(alerts), err)
		return fmt.Errorf("bulk request failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		err := fmt.Errorf("bulk request returned error: %s", res.Status())
		e.recordBulkFailure(len(alerts), err)
		return err
	}

	var bulkResp struct {
		Errors bool `json:"errors"`
		Items  []map[string]struct {
			Status int             `json:"status"`
			Error  json.RawMessage `json:"error"`
		} `json:"items"`
	}

	if err := json.NewDecoder(res.Body).Decode(&bulkResp); err != nil {
		e.recordBulkFailure(len(alerts), err)
		return fmt.Errorf("failed to parse bulk response: %w", err)
	}

	failed := make([]bool, len(alerts))
	var failedCount int
	if bulkResp.Errors {
		for i, item := range bulkResp.Items {
			for _, result := range item {
				if result.Status >= 400 && i < len(alerts) {
					failed[i] = true
					failedCount++
					e.metrics.recordFailure(KindAlert, fmt.Errorf("bulk item %d: %s", i, strings.TrimSpace(string(result.Error))))
				}
			}
		}
	}

	for i, alert := range alerts {
		if !failed[i] {
			e.metrics.recordSuccess(KindAlert, len(alert.doc))
		}
	}

	if failedCount > 0 {
		return fmt.Errorf("%d out of %d alerts failed to index", failedCount, len(alerts))
	}

	return nil
}

// DrainAlerts returns the buffered alerts that were never indexed
func (e *ElasticsearchSink) DrainAlerts() []AlertRecord {
	if e.batcher == nil {
		return nil
	}

	pending := e.batcher.Drain()
	records := make([]AlertRecord, len(pending))
	for i, alert := range pending {
		records[i] = alert.record
	}
	return records
}

func (e *ElasticsearchSink) recordBulkFailure(n int, err error) {
	for i := 0; i < n; i++ {
		e.metrics.recordFailure(KindAlert, err)
	}
}

// indexName returns the index name, with optional time-based rotation
func (e *ElasticsearchSink) indexName(timestamp time.Time) string {
	index := e.config.Index

	if strings.Contains(index, "%{") {
		index = strings.ReplaceAll(index, "%{+YYYY.MM.dd}", timestamp.Format("2006.01.02"))
		index = strings.ReplaceAll(index, "%{+YYYY.MM}", timestamp.Format("2006.01"))
		index = strings.ReplaceAll(index, "%{+YYYY}", timestamp.Format("2006"))
		return index
	}

	var suffix string
	switch e.config.IndexRotation {
	case "daily":
		suffix = timestamp.Format("2006.01.02")
	case "weekly":
		year, week := timestamp.ISOWeek()
		suffix = fmt.Sprintf("%d.%02d", year, week)
	case "monthly":
		suffix = timestamp.Format("2006.01")
	case "yearly":
		suffix = timestamp.Format("2006")
	default:
		return index
	}

	return fmt.Sprintf("%s-%s", index, suffix)
}

// Close flushes pending alerts
func (e *ElasticsearchSink) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	if e.batcher != nil {
		return e.batcher.Stop(context.Background())
	}

	return nil
}

// Name returns the sink name
func (e *ElasticsearchSink) Name() string {
	return e.name
}

// Metrics returns the current metrics
func (e *ElasticsearchSink) Metrics() *SinkMetrics {
	return e.metrics.snapshot()
}
