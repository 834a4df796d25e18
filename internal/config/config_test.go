package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/authlog/internal/security"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return configPath
}

func TestLoadConfig(t *testing.T) {
	configPath := writeConfig(t, `
analysis:
  threshold: 3

input:
  type: file
  path: /var/log/auth.log

logging:
  level: debug
  format: json

output:
  failure_strategy: stop
  alert_rate_limit: 10
  sinks:
    - type: console
      console:
        no_color: true
        top_accounts: 3
    - name: siem
      type: kafka
      kafka:
        brokers: ["kafka-1:9092", "kafka-2:9092"]
        topic: auth-alerts

reliability:
  retry:
    max_retries: 4
    initial_backoff: 200ms
  dead_letter:
    dir: /var/lib/authscan/dlq
    max_entries: 500

shutdown_timeout: 5s
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Analysis.Threshold != 3 {
		t.Errorf("Expected threshold 3, got %d", cfg.Analysis.Threshold)
	}
	if cfg.Input.Path != "/var/log/auth.log" {
		t.Errorf("Expected input path /var/log/auth.log, got %s", cfg.Input.Path)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected log level debug, got %s", cfg.Logging.Level)
	}
	if len(cfg.Output.Sinks) != 2 {
		t.Fatalf("Expected 2 sinks, got %d", len(cfg.Output.Sinks))
	}
	if cfg.Output.Sinks[0].Name != "console" {
		t.Errorf("Expected unnamed sink to take its type as name, got %q", cfg.Output.Sinks[0].Name)
	}
	if !cfg.Output.Sinks[0].Console.NoColor || cfg.Output.Sinks[0].Console.TopAccounts != 3 {
		t.Errorf("Unexpected console options: %+v", cfg.Output.Sinks[0].Console)
	}
	if cfg.Output.Sinks[1].Kafka.ReportTopic != "auth-alerts" {
		t.Errorf("Expected report topic to default to topic, got %q", cfg.Output.Sinks[1].Kafka.ReportTopic)
	}
	if cfg.Reliability.Retry.InitialBackoff != 200*time.Millisecond {
		t.Errorf("Expected initial backoff 200ms, got %v", cfg.Reliability.Retry.InitialBackoff)
	}
	if dl := cfg.Reliability.DeadLetter; dl == nil || dl.Dir != "/var/lib/authscan/dlq" || dl.MaxEntries != 500 {
		t.Errorf("Unexpected dead letter config: %+v", cfg.Reliability.DeadLetter)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("Expected shutdown timeout 5s, got %v", cfg.ShutdownTimeout)
	}
}

func TestLoadConfigWithEnvVars(t *testing.T) {
	t.Setenv("AUTHLOG_LOG_LEVEL", "warn")
	t.Setenv("AUTHLOG_THRESHOLD", "7")

	configPath := writeConfig(t, `
analysis:
  threshold: ${AUTHLOG_THRESHOLD}
logging:
  level: ${AUTHLOG_LOG_LEVEL}
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "warn" {
		t.Errorf("Expected log level warn, got %s", cfg.Logging.Level)
	}
	if cfg.Analysis.Threshold != 7 {
		t.Errorf("Expected threshold 7, got %d", cfg.Analysis.Threshold)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestParse_InvalidYAML(t *testing.T) {
	if _, err := Parse([]byte("analysis: [")); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Analysis.Threshold != DefaultThreshold {
		t.Errorf("Expected threshold %d, got %d", DefaultThreshold, cfg.Analysis.Threshold)
	}
	if cfg.Input.Type != "file" {
		t.Errorf("Expected input type file, got %s", cfg.Input.Type)
	}
	if cfg.Logging.Format != "console" {
		t.Errorf("Expected log format console, got %s", cfg.Logging.Format)
	}
	if len(cfg.Output.Sinks) != 1 || cfg.Output.Sinks[0].Type != SinkConsole {
		t.Errorf("Expected a single console sink, got %+v", cfg.Output.Sinks)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig() does not validate: %v", err)
	}
}

func TestLoadOrDefault(t *testing.T) {
	cfg, err := LoadOrDefault("")
	if err != nil {
		t.Fatalf("LoadOrDefault(\"\") error = %v", err)
	}
	if cfg.Analysis.Threshold != DefaultThreshold {
		t.Errorf("Expected default threshold, got %d", cfg.Analysis.Threshold)
	}

	if _, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "negative threshold",
			yaml:    "analysis:\n  threshold: -1\n",
			wantErr: "threshold",
		},
		{
			name:    "unknown input type",
			yaml:    "input:\n  type: syslog\n",
			wantErr: "invalid input type",
		},
		{
			name:    "kubernetes without section",
			yaml:    "input:\n  type: kubernetes\n",
			wantErr: "kubernetes section",
		},
		{
			name:    "bad log level",
			yaml:    "logging:\n  level: loud\n",
			wantErr: "invalid log level",
		},
		{
			name:    "bad log format",
			yaml:    "logging:\n  format: xml\n",
			wantErr: "invalid log format",
		},
		{
			name:    "bad failure strategy",
			yaml:    "output:\n  failure_strategy: retry\n",
			wantErr: "invalid failure strategy",
		},
		{
			name:    "negative rate limit",
			yaml:    "output:\n  alert_rate_limit: -1\n",
			wantErr: "alert_rate_limit",
		},
		{
			name:    "unknown sink type",
			yaml:    "output:\n  sinks:\n    - type: splunk\n",
			wantErr: "invalid type",
		},
		{
			name:    "duplicate sink names",
			yaml:    "output:\n  sinks:\n    - type: console\n    - type: console\n",
			wantErr: "duplicate name",
		},
		{
			name:    "kafka without brokers",
			yaml:    "output:\n  sinks:\n    - type: kafka\n      kafka:\n        topic: t\n",
			wantErr: "brokers are required",
		},
		{
			name:    "kafka with bad broker",
			yaml:    "output:\n  sinks:\n    - type: kafka\n      kafka:\n        brokers: [localhost]\n        topic: t\n",
			wantErr: "invalid kafka broker",
		},
		{
			name:    "kafka without topic",
			yaml:    "output:\n  sinks:\n    - type: kafka\n      kafka:\n        brokers: [localhost:9092]\n",
			wantErr: "topic is required",
		},
		{
			name:    "elasticsearch without addresses",
			yaml:    "output:\n  sinks:\n    - type: elasticsearch\n      elasticsearch:\n        index: x\n",
			wantErr: "addresses or cloud_id",
		},
		{
			name:    "elasticsearch bad rotation",
			yaml:    "output:\n  sinks:\n    - type: elasticsearch\n      elasticsearch:\n        addresses: [\"http://es:9200\"]\n        index_rotation: hourly\n",
			wantErr: "invalid index_rotation",
		},
		{
			name:    "kafka scram mechanism",
			yaml:    "output:\n  sinks:\n    - type: kafka\n      kafka:\n        brokers: [kafka:9092]\n        topic: t\n        sasl_enabled: true\n        sasl_mechanism: SCRAM-SHA-512\n",
			wantErr: "unsupported sasl_mechanism",
		},
		{
			name:    "dead letter without dir",
			yaml:    "reliability:\n  dead_letter:\n    max_entries: 10\n",
			wantErr: "dead_letter requires a dir",
		},
		{
			name:    "s3 without bucket",
			yaml:    "output:\n  sinks:\n    - type: s3\n      s3:\n        region: us-east-1\n",
			wantErr: "bucket is required",
		},
		{
			name:    "s3 bad compression",
			yaml:    "output:\n  sinks:\n    - type: s3\n      s3:\n        bucket: b\n        region: us-east-1\n        compression: lz4\n",
			wantErr: "invalid s3 compression",
		},
		{
			name:    "metrics without destination",
			yaml:    "metrics:\n  enabled: true\n",
			wantErr: "textfile_path or pushgateway_url",
		},
		{
			name:    "tracing sample rate out of range",
			yaml:    "tracing:\n  enabled: true\n  sample_rate: 2\n",
			wantErr: "sample_rate",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestValidate_ZeroThresholdOverride(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Analysis.Threshold = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for threshold 0 set after defaults")
	}
}

func TestApplyDefaults_SinkSections(t *testing.T) {
	cfg, err := Parse([]byte(`
metrics:
  enabled: true
  textfile_path: /tmp/authlog.prom
output:
  sinks:
    - type: elasticsearch
      elasticsearch:
        addresses: ["http://localhost:9200"]
    - type: s3
      s3:
        bucket: audit
        region: eu-west-1
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Output.Sinks[0].Elasticsearch.Index != DefaultIndex {
		t.Errorf("Expected default index, got %q", cfg.Output.Sinks[0].Elasticsearch.Index)
	}
	if cfg.Output.Sinks[1].S3.Compression != "gzip" {
		t.Errorf("Expected default gzip compression, got %q", cfg.Output.Sinks[1].S3.Compression)
	}
	if cfg.Metrics.Job != DefaultMetricsJob {
		t.Errorf("Expected default job, got %q", cfg.Metrics.Job)
	}
}

func TestResolveSecrets(t *testing.T) {
	t.Setenv("ES_PASS", "hunter2")
	secretFile := filepath.Join(t.TempDir(), "kafka.secret")
	if err := os.WriteFile(secretFile, []byte("sasl-pass\n"), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Parse([]byte(`
output:
  sinks:
    - type: elasticsearch
      elasticsearch:
        addresses: ["http://localhost:9200"]
        username: elastic
        password: env:ES_PASS
    - type: kafka
      kafka:
        brokers: ["localhost:9092"]
        topic: alerts
        sasl_password: file:` + secretFile + `
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if err := cfg.ResolveSecrets(security.NewSecretManager()); err != nil {
		t.Fatalf("ResolveSecrets() error = %v", err)
	}

	if cfg.Output.Sinks[0].Elasticsearch.Password != "hunter2" {
		t.Errorf("password = %q, want hunter2", cfg.Output.Sinks[0].Elasticsearch.Password)
	}
	if cfg.Output.Sinks[1].Kafka.SASLPassword != "sasl-pass" {
		t.Errorf("sasl_password = %q, want sasl-pass", cfg.Output.Sinks[1].Kafka.SASLPassword)
	}
}

func TestResolveSecrets_Missing(t *testing.T) {
	cfg, err := Parse([]byte(`
output:
  sinks:
    - type: s3
      s3:
        bucket: audit
        region: eu-west-1
        secret_access_key: env:AUTHLOG_MISSING_SECRET
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if err := cfg.ResolveSecrets(security.NewSecretManager()); err == nil {
		t.Error("Expected error for unresolvable secret")
	}
}
