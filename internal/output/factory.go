package output

import (
	"context"
	"errors"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/trace"

	"github.com/therealutkarshpriyadarshi/authlog/internal/config"
	"github.com/therealutkarshpriyadarshi/authlog/internal/dlq"
	"github.com/therealutkarshpriyadarshi/authlog/internal/logging"
	"github.com/therealutkarshpriyadarshi/authlog/internal/metrics"
	"github.com/therealutkarshpriyadarshi/authlog/internal/reliability"
	"github.com/therealutkarshpriyadarshi/authlog/internal/security"
)

// Options carries the collaborators shared by every sink
type Options struct {
	// Stdout receives console and json output without a path
	Stdout io.Writer
	// NoColor disables console styling for every console sink
	NoColor   bool
	Logger    *logging.Logger
	Collector *metrics.Collector
	Tracer    trace.Tracer
}

// NewRouterFromConfig builds a router with every configured sink
func NewRouterFromConfig(ctx context.Context, cfg *config.Config, opts Options) (*Router, error) {
	routerConfig := RouterConfig{
		FailureStrategy: cfg.Output.FailureStrategy,
		Parallel:        cfg.Output.Parallel,
		AlertRateLimit:  cfg.Output.AlertRateLimit,
		AlertBurst:      cfg.Output.AlertBurst,
	}

	if rel := cfg.Reliability; rel != nil {
		if rel.Retry != nil {
			routerConfig.Retry = &reliability.RetryConfig{
				MaxRetries:     rel.Retry.MaxRetries,
				InitialBackoff: rel.Retry.InitialBackoff,
				MaxBackoff:     rel.Retry.MaxBackoff,
				Multiplier:     rel.Retry.Multiplier,
				Jitter:         rel.Retry.Jitter,
			}
		}
		if rel.CircuitBreaker != nil {
			routerConfig.CircuitBreaker = &reliability.CircuitBreakerConfig{
				FailureThreshold: rel.CircuitBreaker.FailureThreshold,
				Timeout:          rel.CircuitBreaker.Timeout,
			}
		}
	}

	router := NewRouter(routerConfig, opts.Logger, opts.Collector, opts.Tracer)

	if rel := cfg.Reliability; rel != nil && rel.DeadLetter != nil {
		q, err := dlq.NewDeadLetterQueue(dlq.DLQConfig{
			Dir:     rel.DeadLetter.Dir,
			MaxSize: rel.DeadLetter.MaxEntries,
			MaxAge:  rel.DeadLetter.MaxAge,
		})
		if err != nil {
			return nil, fmt.Errorf("dead letter queue: %w", err)
		}
		router.SetDeadLetterQueue(q)
	}

	for _, sc := range cfg.Output.Sinks {
		sink, err := NewSink(ctx, sc, opts)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("sink %q: %w", sc.Name, err), router.Close())
		}
		router.AddSink(sink, IsRemote(sc.Type))
	}

	return router, nil
}

// IsRemote reports whether a sink type talks to a remote service
func IsRemote(sinkType string) bool {
	switch sinkType {
	case config.SinkKafka, config.SinkElasticsearch, config.SinkS3:
		return true
	default:
		return false
	}
}

// NewSink builds one sink from its configuration
func NewSink(ctx context.Context, sc config.SinkConfig, opts Options) (Sink, error) {
	switch sc.Type {
	case config.SinkConsole:
		cc := ConsoleConfig{NoColor: opts.NoColor}
		if sc.Console != nil {
			cc.NoColor = cc.NoColor || sc.Console.NoColor
			cc.TopAccounts = sc.Console.TopAccounts
		}
		return NewConsoleSink(sc.Name, opts.Stdout, cc), nil

	case config.SinkJSON:
		var jc JSONConfig
		if sc.JSON != nil {
			jc.Path = sc.JSON.Path
		}
		return NewJSONSink(sc.Name, opts.Stdout, jc)

	case config.SinkKafka:
		if sc.Kafka == nil {
			return nil, fmt.Errorf("missing kafka section")
		}
		k := sc.Kafka
		kc := DefaultKafkaConfig()
		kc.Brokers = k.Brokers
		kc.Topic = k.Topic
		kc.ReportTopic = k.ReportTopic
		if k.RequiredAcks != 0 {
			kc.RequiredAcks = k.RequiredAcks
		}
		if k.CompressionCodec != "" {
			kc.CompressionCodec = k.CompressionCodec
		}
		if k.MaxMessageBytes > 0 {
			kc.MaxMessageBytes = k.MaxMessageBytes
		}
		if k.BatchSize > 0 {
			kc.BatchSize = k.BatchSize
		}
		kc.SASLEnabled = k.SASLEnabled
		kc.SASLMechanism = k.SASLMechanism
		kc.SASLUsername = k.SASLUsername
		kc.SASLPassword = k.SASLPassword
		kc.TLS = toSecurityTLS(k.TLS)
		return NewKafkaSink(sc.Name, kc)

	case config.SinkElasticsearch:
		if sc.Elasticsearch == nil {
			return nil, fmt.Errorf("missing elasticsearch section")
		}
		e := sc.Elasticsearch
		ec := DefaultElasticsearchConfig()
		ec.Addresses = e.Addresses
		if e.Index != "" {
			ec.Index = e.Index
		}
		if e.IndexRotation != "" {
			ec.IndexRotation = e.IndexRotation
		}
		ec.Pipeline = e.Pipeline
		ec.Username = e.Username
		ec.Password = e.Password
		ec.CloudID = e.CloudID
		ec.APIKey = e.APIKey
		if e.BatchSize > 0 {
			ec.BatchSize = e.BatchSize
		}
		ec.TLS = toSecurityTLS(e.TLS)
		return NewElasticsearchSink(sc.Name, ec)

	case config.SinkS3:
		if sc.S3 == nil {
			return nil, fmt.Errorf("missing s3 section")
		}
		s := sc.S3
		s3c := DefaultS3Config()
		s3c.Bucket = s.Bucket
		s3c.Region = s.Region
		if s.Prefix != "" {
			s3c.Prefix = s.Prefix
		}
		if s.KeyTemplate != "" {
			s3c.KeyTemplate = s.KeyTemplate
		}
		if s.StorageClass != "" {
			s3c.StorageClass = s.StorageClass
		}
		if s.Compression != "" {
			s3c.Compression = CompressionType(s.Compression)
		}
		s3c.ServerSideEncryption = s.ServerSideEncryption
		s3c.Endpoint = s.Endpoint
		s3c.UsePathStyle = s.UsePathStyle
		s3c.AccessKeyID = s.AccessKeyID
		s3c.SecretAccessKey = s.SecretAccessKey
		return NewS3Sink(ctx, sc.Name, s3c)

	default:
		return nil, fmt.Errorf("unsupported sink type: %s", sc.Type)
	}
}

func toSecurityTLS(t *config.TLSConfig) *security.TLSConfig {
	if t == nil {
		return nil
	}
	return &security.TLSConfig{
		Enabled:            t.Enabled,
		CAFile:             t.CAFile,
		CertFile:           t.CertFile,
		KeyFile:            t.KeyFile,
		InsecureSkipVerify: t.InsecureSkipVerify,
	}
}
