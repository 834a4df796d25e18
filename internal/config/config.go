package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/therealutkarshpriyadarshi/authlog/internal/security"
)

// Config represents the main configuration
type Config struct {
	Analysis        AnalysisConfig     `yaml:"analysis"`
	Input           InputConfig        `yaml:"input"`
	Logging         LoggingConfig      `yaml:"logging"`
	Output          OutputConfig       `yaml:"output"`
	Reliability     *ReliabilityConfig `yaml:"reliability,omitempty"`
	Metrics         *MetricsConfig     `yaml:"metrics,omitempty"`
	Tracing         *TracingConfig     `yaml:"tracing,omitempty"`
	Profiling       *ProfilingConfig   `yaml:"profiling,omitempty"`
	ShutdownTimeout time.Duration      `yaml:"shutdown_timeout,omitempty"`
}

// AnalysisConfig controls the parse/aggregate pass
type AnalysisConfig struct {
	Threshold    int `yaml:"threshold"`
	MaxLineBytes int `yaml:"max_line_bytes,omitempty"`
}

// InputConfig selects where log lines come from
type InputConfig struct {
	Type       string                 `yaml:"type"` // file, kubernetes
	Path       string                 `yaml:"path,omitempty"`
	Kubernetes *KubernetesInputConfig `yaml:"kubernetes,omitempty"`
}

// KubernetesInputConfig defines Kubernetes pod log input configuration
type KubernetesInputConfig struct {
	Kubeconfig       string `yaml:"kubeconfig,omitempty"`
	Namespace        string `yaml:"namespace,omitempty"`
	LabelSelector    string `yaml:"label_selector,omitempty"`
	FieldSelector    string `yaml:"field_selector,omitempty"`
	ContainerPattern string `yaml:"container_pattern,omitempty"`
	IncludePrevious  bool   `yaml:"include_previous,omitempty"`
	TailLines        int64  `yaml:"tail_lines,omitempty"`
	SinceSeconds     int64  `yaml:"since_seconds,omitempty"`
}

// LoggingConfig defines logging configuration
type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"` // json or console
	NoColor bool   `yaml:"no_color,omitempty"`
}

// OutputConfig defines where alerts and the final report are delivered
type OutputConfig struct {
	Sinks           []SinkConfig `yaml:"sinks"`
	FailureStrategy string       `yaml:"failure_strategy,omitempty"` // continue, stop
	Parallel        bool         `yaml:"parallel,omitempty"`
	AlertRateLimit  float64      `yaml:"alert_rate_limit,omitempty"` // alerts per second for remote sinks, 0 = unlimited
	AlertBurst      int          `yaml:"alert_burst,omitempty"`
}

// SinkConfig defines a single sink
type SinkConfig struct {
	Name          string                     `yaml:"name"`
	Type          string                     `yaml:"type"` // console, json, kafka, elasticsearch, s3
	Console       *ConsoleOutputConfig       `yaml:"console,omitempty"`
	JSON          *JSONOutputConfig          `yaml:"json,omitempty"`
	Kafka         *KafkaOutputConfig         `yaml:"kafka,omitempty"`
	Elasticsearch *ElasticsearchOutputConfig `yaml:"elasticsearch,omitempty"`
	S3            *S3OutputConfig            `yaml:"s3,omitempty"`
}

// ConsoleOutputConfig holds terminal rendering options
type ConsoleOutputConfig struct {
	NoColor     bool `yaml:"no_color,omitempty"`
	TopAccounts int  `yaml:"top_accounts,omitempty"`
}

// JSONOutputConfig holds newline-delimited JSON options
type JSONOutputConfig struct {
	Path string `yaml:"path,omitempty"` // empty or "-" writes to stdout
}

// TLSConfig holds client TLS settings for remote sinks
type TLSConfig struct {
	Enabled            bool   `yaml:"enabled"`
	CAFile             string `yaml:"ca_file,omitempty"`
	CertFile           string `yaml:"cert_file,omitempty"`
	KeyFile            string `yaml:"key_file,omitempty"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify,omitempty"`
}

// KafkaOutputConfig holds Kafka-specific configuration
type KafkaOutputConfig struct {
	Brokers          []string   `yaml:"brokers"`
	Topic            string     `yaml:"topic"`
	ReportTopic      string     `yaml:"report_topic,omitempty"`
	RequiredAcks     int16      `yaml:"required_acks,omitempty"`
	CompressionCodec string     `yaml:"compression_codec,omitempty"`
	MaxMessageBytes  int        `yaml:"max_message_bytes,omitempty"`
	BatchSize        int        `yaml:"batch_size,omitempty"`
	SASLEnabled      bool       `yaml:"sasl_enabled,omitempty"`
	SASLMechanism    string     `yaml:"sasl_mechanism,omitempty"`
	SASLUsername     string     `yaml:"sasl_username,omitempty"`
	SASLPassword     string     `yaml:"sasl_password,omitempty"`
	TLS              *TLSConfig `yaml:"tls,omitempty"`
}

// ElasticsearchOutputConfig holds Elasticsearch-specific configuration
type ElasticsearchOutputConfig struct {
	Addresses     []string   `yaml:"addresses"`
	Index         string     `yaml:"index"`
	IndexRotation string     `yaml:"index_rotation,omitempty"` // none, daily, weekly, monthly, yearly
	Pipeline      string     `yaml:"pipeline,omitempty"`
	Username      string     `yaml:"username,omitempty"`
	Password      string     `yaml:"password,omitempty"`
	CloudID       string     `yaml:"cloud_id,omitempty"`
	APIKey        string     `yaml:"api_key,omitempty"`
	BatchSize     int        `yaml:"batch_size,omitempty"`
	TLS           *TLSConfig `yaml:"tls,omitempty"`
}

// S3OutputConfig holds S3-specific configuration
type S3OutputConfig struct {
	Bucket               string `yaml:"bucket"`
	Region               string `yaml:"region"`
	Prefix               string `yaml:"prefix,omitempty"`
	KeyTemplate          string `yaml:"key_template,omitempty"`
	StorageClass         string `yaml:"storage_class,omitempty"`
	ServerSideEncryption string `yaml:"server_side_encryption,omitempty"`
	Compression          string `yaml:"compression,omitempty"` // none, gzip, snappy
	Endpoint             string `yaml:"endpoint,omitempty"`
	UsePathStyle         bool   `yaml:"use_path_style,omitempty"`
	AccessKeyID          string `yaml:"access_key_id,omitempty"`
	SecretAccessKey      string `yaml:"secret_access_key,omitempty"`
}

// ReliabilityConfig holds retry and circuit breaker configuration for
// remote sinks
type ReliabilityConfig struct {
	Retry          *RetryConfig          `yaml:"retry,omitempty"`
	CircuitBreaker *CircuitBreakerConfig `yaml:"circuit_breaker,omitempty"`
	DeadLetter     *DeadLetterConfig     `yaml:"dead_letter,omitempty"`
}

// DeadLetterConfig keeps records that remote sinks could not accept
type DeadLetterConfig struct {
	Dir        string        `yaml:"dir"`
	MaxEntries int64         `yaml:"max_entries,omitempty"`
	MaxAge     time.Duration `yaml:"max_age,omitempty"`
}

// RetryConfig holds retry configuration
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff,omitempty"`
	MaxBackoff     time.Duration `yaml:"max_backoff,omitempty"`
	Multiplier     float64       `yaml:"multiplier,omitempty"`
	Jitter         bool          `yaml:"jitter,omitempty"`
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	FailureThreshold uint32        `yaml:"failure_threshold,omitempty"`
	Timeout          time.Duration `yaml:"timeout,omitempty"`
}

// MetricsConfig controls how run metrics are exported at the end of a run
type MetricsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	TextfilePath   string `yaml:"textfile_path,omitempty"`
	PushgatewayURL string `yaml:"pushgateway_url,omitempty"`
	Job            string `yaml:"job,omitempty"`
}

// TracingConfig holds tracing configuration
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint,omitempty"`
	Insecure   bool    `yaml:"insecure,omitempty"`
	SampleRate float64 `yaml:"sample_rate,omitempty"`
}

// ProfilingConfig names the pprof files written for a run. Empty paths
// disable the matching profile.
type ProfilingConfig struct {
	CPUProfile   string `yaml:"cpu_profile,omitempty"`
	MemProfile   string `yaml:"mem_profile,omitempty"`
	BlockProfile string `yaml:"block_profile,omitempty"`
	MutexProfile string `yaml:"mutex_profile,omitempty"`
}

// Default values
const (
	DefaultThreshold       = 5
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
	DefaultInputType       = "file"
	DefaultFailureStrategy = "continue"
	DefaultMetricsJob      = "authscan"
	DefaultIndex           = "authlog"
	DefaultS3Compression   = "gzip"
	DefaultShutdownTimeout = 10 * time.Second
)

// Sink types
const (
	SinkConsole       = "console"
	SinkJSON          = "json"
	SinkKafka         = "kafka"
	SinkElasticsearch = "elasticsearch"
	SinkS3            = "s3"
)

// Load loads configuration from a YAML file with environment variable overrides
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes YAML configuration, expanding ${VAR} references first
func Parse(data []byte) (*Config, error) {
	expandedData := []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(expandedData, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration
func (c *Config) applyDefaults() {
	if c.Analysis.Threshold == 0 {
		c.Analysis.Threshold = DefaultThreshold
	}
	if c.Input.Type == "" {
		c.Input.Type = DefaultInputType
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
	if len(c.Output.Sinks) == 0 {
		c.Output.Sinks = []SinkConfig{{Name: SinkConsole, Type: SinkConsole}}
	}
	if c.Output.FailureStrategy == "" {
		c.Output.FailureStrategy = DefaultFailureStrategy
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}

	for i := range c.Output.Sinks {
		sink := &c.Output.Sinks[i]
		if sink.Name == "" {
			sink.Name = sink.Type
		}
		if sink.Kafka != nil && sink.Kafka.ReportTopic == "" {
			sink.Kafka.ReportTopic = sink.Kafka.Topic
		}
		if sink.Elasticsearch != nil && sink.Elasticsearch.Index == "" {
			sink.Elasticsearch.Index = DefaultIndex
		}
		if sink.S3 != nil && sink.S3.Compression == "" {
			sink.S3.Compression = DefaultS3Compression
		}
	}

	if c.Metrics != nil && c.Metrics.Job == "" {
		c.Metrics.Job = DefaultMetricsJob
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Analysis.Threshold < 1 {
		return fmt.Errorf("threshold must be at least 1, got %d", c.Analysis.Threshold)
	}
	if c.Analysis.MaxLineBytes < 0 {
		return fmt.Errorf("max_line_bytes must not be negative")
	}

	switch c.Input.Type {
	case "file":
	case "kubernetes":
		if c.Input.Kubernetes == nil {
			return fmt.Errorf("kubernetes input has no kubernetes section")
		}
	default:
		return fmt.Errorf("invalid input type: %s", c.Input.Type)
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "disabled": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	validLogFormats := map[string]bool{
		"json": true, "console": true,
	}
	if !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}

	if err := c.Output.validate(); err != nil {
		return err
	}

	if c.Metrics != nil && c.Metrics.Enabled && c.Metrics.TextfilePath == "" && c.Metrics.PushgatewayURL == "" {
		return fmt.Errorf("metrics enabled without textfile_path or pushgateway_url")
	}

	if c.Reliability != nil && c.Reliability.DeadLetter != nil && c.Reliability.DeadLetter.Dir == "" {
		return fmt.Errorf("dead_letter requires a dir")
	}

	if c.Tracing != nil && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing sample_rate must be between 0 and 1")
	}

	return nil
}

func (o *OutputConfig) validate() error {
	if o.FailureStrategy != "continue" && o.FailureStrategy != "stop" {
		return fmt.Errorf("invalid failure strategy: %s", o.FailureStrategy)
	}
	if o.AlertRateLimit < 0 {
		return fmt.Errorf("alert_rate_limit must not be negative")
	}

	validator := security.NewValidator()
	names := make(map[string]bool, len(o.Sinks))

	for i, sink := range o.Sinks {
		if names[sink.Name] {
			return fmt.Errorf("sink %d: duplicate name %q", i, sink.Name)
		}
		names[sink.Name] = true

		switch sink.Type {
		case SinkConsole, SinkJSON:
		case SinkKafka:
			if sink.Kafka == nil {
				return fmt.Errorf("sink %q: missing kafka section", sink.Name)
			}
			if len(sink.Kafka.Brokers) == 0 {
				return fmt.Errorf("sink %q: kafka brokers are required", sink.Name)
			}
			for _, broker := range sink.Kafka.Brokers {
				if !validator.ValidateHostPort(broker) {
					return fmt.Errorf("sink %q: invalid kafka broker address %q", sink.Name, broker)
				}
			}
			if sink.Kafka.Topic == "" {
				return fmt.Errorf("sink %q: kafka topic is required", sink.Name)
			}
			if sink.Kafka.SASLEnabled && sink.Kafka.SASLMechanism != "" && sink.Kafka.SASLMechanism != "PLAIN" {
				return fmt.Errorf("sink %q: unsupported sasl_mechanism: %s", sink.Name, sink.Kafka.SASLMechanism)
			}
		case SinkElasticsearch:
			if sink.Elasticsearch == nil {
				return fmt.Errorf("sink %q: missing elasticsearch section", sink.Name)
			}
			if len(sink.Elasticsearch.Addresses) == 0 && sink.Elasticsearch.CloudID == "" {
				return fmt.Errorf("sink %q: elasticsearch addresses or cloud_id are required", sink.Name)
			}
			switch sink.Elasticsearch.IndexRotation {
			case "", "none", "daily", "weekly", "monthly", "yearly":
			default:
				return fmt.Errorf("sink %q: invalid index_rotation: %s", sink.Name, sink.Elasticsearch.IndexRotation)
			}
		case SinkS3:
			if sink.S3 == nil {
				return fmt.Errorf("sink %q: missing s3 section", sink.Name)
			}
			if sink.S3.Bucket == "" {
				return fmt.Errorf("sink %q: s3 bucket is required", sink.Name)
			}
			if sink.S3.Region == "" {
				return fmt.Errorf("sink %q: s3 region is required", sink.Name)
			}
			switch sink.S3.Compression {
			case "none", "gzip", "snappy":
			default:
				return fmt.Errorf("sink %q: invalid s3 compression: %s", sink.Name, sink.S3.Compression)
			}
		default:
			return fmt.Errorf("sink %d: invalid type: %q", i, sink.Type)
		}
	}

	return nil
}

// ResolveSecrets replaces env: and file: references in credential fields
// with their values
func (c *Config) ResolveSecrets(sm *security.SecretManager) error {
	for i := range c.Output.Sinks {
		sink := &c.Output.Sinks[i]
		var err error
		switch {
		case sink.Kafka != nil:
			err = sm.Resolve(&sink.Kafka.SASLPassword)
		case sink.Elasticsearch != nil:
			err = sm.Resolve(&sink.Elasticsearch.Password, &sink.Elasticsearch.APIKey)
		case sink.S3 != nil:
			err = sm.Resolve(&sink.S3.AccessKeyID, &sink.S3.SecretAccessKey)
		}
		if err != nil {
			return fmt.Errorf("sink %q: %w", sink.Name, err)
		}
	}
	return nil
}

// LoadOrDefault loads configuration from path, or returns the default
// configuration when path is empty
func LoadOrDefault(path string) (*Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}
	return Load(path)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
