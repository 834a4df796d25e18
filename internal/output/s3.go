package output

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/therealutkarshpriyadarshi/authlog/pkg/types"
)

// DefaultS3KeyTemplate groups the objects of a run by date and run id
const DefaultS3KeyTemplate = "{{.Year}}/{{.Month}}/{{.Day}}/{{.RunID}}"

// S3Config contains S3-specific configuration
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string

	// Region is the AWS region
	Region string

	// Prefix is the key prefix for objects
	Prefix string

	// KeyTemplate is the template for the run's key (supports time patterns
	// and {{.RunID}})
	KeyTemplate string

	// StorageClass is the S3 storage class (STANDARD, GLACIER, etc.)
	StorageClass string

	// ServerSideEncryption specifies encryption (AES256, aws:kms)
	ServerSideEncryption string

	// Compression applied to every object
	Compression CompressionType

	// AccessKeyID for authentication (optional, uses default credentials if not set)
	AccessKeyID string

	// SecretAccessKey for authentication
	SecretAccessKey string

	// Endpoint for S3-compatible services (e.g., MinIO)
	Endpoint string

	// UsePathStyle forces path-style addressing
	UsePathStyle bool
}

// DefaultS3Config returns default S3 configuration
func DefaultS3Config() S3Config {
	return S3Config{
		Region:       "us-east-1",
		Prefix:       "authlog/",
		KeyTemplate:  DefaultS3KeyTemplate,
		StorageClass: "STANDARD",
		Compression:  CompressionGzip,
	}
}

// S3API is the subset of the S3 client used by the sink
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Sink archives a run in S3: the report as JSON and the alerts as NDJSON
type S3Sink struct {
	name       string
	config     S3Config
	client     S3API
	compressor Compressor
	metrics    metricsTracker
	now        func() time.Time

	mu       sync.Mutex
	run      RunInfo
	alerts   []AlertRecord
	uploaded int
	closed   bool
}

// NewS3Sink creates a sink using the default AWS credential chain, or
// static credentials when an access key is configured
func NewS3Sink(ctx context.Context, name string, s3Config S3Config) (*S3Sink, error) {
	if s3Config.Bucket == "" {
		return nil, fmt.Errorf("no bucket specified")
	}

	if s3Config.Region == "" {
		return nil, fmt.Errorf("no region specified")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(s3Config.Region),
	}
	if s3Config.AccessKeyID != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s3Config.AccessKeyID, s3Config.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var opts []func(*s3.Options)
	if s3Config.Endpoint != "" {
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(s3Config.Endpoint)
			o.UsePathStyle = s3Config.UsePathStyle
		})
	}

	return NewS3SinkWithClient(name, s3Config, s3.NewFromConfig(cfg, opts...))
}

// NewS3SinkWithClient creates a sink around an existing client
func NewS3SinkWithClient(name string, s3Config S3Config, client S3API) (*S3Sink, error) {
	if s3Config.Bucket == "" {
		return nil, fmt.Errorf("no bucket specified")
	}

	compressor, err := GetCompressor(s3Config.Compression)
	if err != nil {
		return nil, err
	}

	if name == "" {
		name = "s3"
	}

	return &S3Sink{
		name:       name,
		config:     s3Config,
		client:     client,
		compressor: compressor,
		now:        time.Now,
	}, nil
}

// Start records the run metadata used for object keys
func (s *S3Sink) Start(ctx context.Context, run RunInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run = run
	return nil
}

// Alert buffers an alert until the report is uploaded
func (s *S3Sink) Alert(ctx context.Context, alert types.AlertSignal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	s.alerts = append(s.alerts, NewAlertRecord(s.run, alert, s.now()))
	return nil
}

// Report uploads the buffered alerts and the report. Keys depend only on
// the run, so a retried upload overwrites the same objects.
func (s *S3Sink) Report(ctx context.Context, report *types.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}

	if err := s.uploadAlertsLocked(ctx); err != nil {
		return err
	}

	data, err := json.Marshal(NewReportRecord(s.run, report, s.now()))
	if err != nil {
		s.metrics.recordFailure(KindReport, err)
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	n, err := s.upload(ctx, s.objectKey("report.json"), "application/json", data)
	if err != nil {
		s.metrics.recordFailure(KindReport, err)
		return err
	}

	s.metrics.recordSuccess(KindReport, n)
	return nil
}

// uploadAlertsLocked writes every buffered alert as one NDJSON object
func (s *S3Sink) uploadAlertsLocked(ctx context.Context) error {
	if len(s.alerts) == s.uploaded {
		return nil
	}

	var buf bytes.Buffer
	for _, alert := range s.alerts {
		data, err := json.Marshal(alert)
		if err != nil {
			return fmt.Errorf("failed to marshal alert: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	pending := len(s.alerts) - s.uploaded
	n, err := s.upload(ctx, s.objectKey("alerts.ndjson"), "application/x-ndjson", buf.Bytes())
	if err != nil {
		for i := 0; i < pending; i++ {
			s.metrics.recordFailure(KindAlert, err)
		}
		return err
	}

	for i := 0; i < pending; i++ {
		s.metrics.recordSuccess(KindAlert, n/pending)
	}
	s.uploaded = len(s.alerts)
	return nil
}

// DrainAlerts returns the buffered alerts that no upload has stored yet
func (s *S3Sink) DrainAlerts() []AlertRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]AlertRecord, len(s.alerts)-s.uploaded)
	copy(pending, s.alerts[s.uploaded:])
	s.uploaded = len(s.alerts)
	return pending
}

// upload compresses and uploads one object, returning the uploaded size
func (s *S3Sink) upload(ctx context.Context, key, contentType string, data []byte) (int, error) {
	compressed, err := s.compressor.Compress(data)
	if err != nil {
		return 0, fmt.Errorf("failed to compress data: %w", err)
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(compressed),
		ContentType: aws.String(contentType),
	}

	if s.config.StorageClass != "" {
		input.StorageClass = s3types.StorageClass(s.config.StorageClass)
	}

	if s.config.ServerSideEncryption != "" {
		input.ServerSideEncryption = s3types.ServerSideEncryption(s.config.ServerSideEncryption)
	}

	if encoding := s.compressor.ContentEncoding(); encoding != "" {
		input.ContentEncoding = aws.String(encoding)
	}

	if _, err := s.client.PutObject(ctx, input); err != nil {
		return 0, fmt.Errorf("failed to upload %s to S3: %w", key, err)
	}

	return len(compressed), nil
}

// objectKey builds the key of one object of the current run
func (s *S3Sink) objectKey(object string) string {
	timestamp := s.run.StartedAt
	if timestamp.IsZero() {
		timestamp = s.now()
	}
	timestamp = timestamp.UTC()

	runID := s.run.ID
	if runID == "" {
		runID = fmt.Sprintf("%d", timestamp.Unix())
	}

	key := s.config.KeyTemplate
	if key == "" {
		key = DefaultS3KeyTemplate
	}

	replacements := map[string]string{
		"{{.Year}}":      fmt.Sprintf("%04d", timestamp.Year()),
		"{{.Month}}":     fmt.Sprintf("%02d", timestamp.Month()),
		"{{.Day}}":       fmt.Sprintf("%02d", timestamp.Day()),
		"{{.Hour}}":      fmt.Sprintf("%02d", timestamp.Hour()),
		"{{.Minute}}":    fmt.Sprintf("%02d", timestamp.Minute()),
		"{{.Second}}":    fmt.Sprintf("%02d", timestamp.Second()),
		"{{.Timestamp}}": fmt.Sprintf("%d", timestamp.Unix()),
		"{{.RunID}}":     runID,
	}

	for placeholder, value := range replacements {
		key = strings.ReplaceAll(key, placeholder, value)
	}

	return s.config.Prefix + strings.TrimSuffix(key, "/") + "/" + object + s.compressor.Extension()
}

// Close uploads alerts that never made it into a report upload
func (s *S3Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.uploadAlertsLocked(context.Background())
}

// Name returns the sink name
func (s *S3Sink) Name() string {
	return s.name
}

// Metrics returns the current metrics
func (s *S3Sink) Metrics() *SinkMetrics {
	return s.metrics.snapshot()
}
