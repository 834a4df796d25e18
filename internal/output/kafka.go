package output

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/therealutkarshpriyadarshi/authlog/internal/security"
	"github.com/therealutkarshpriyadarshi/authlog/pkg/types"
)

// KafkaConfig contains Kafka-specific configuration
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses
	Brokers []string

	// Topic receives alerts, keyed by source address
	Topic string

	// ReportTopic receives the end-of-run report, defaults to Topic
	ReportTopic string

	// RequiredAcks specifies the number of acknowledgments required (0, 1, -1)
	RequiredAcks int16

	// CompressionCodec specifies the compression codec (none, gzip, snappy, lz4, zstd)
	CompressionCodec string

	// MaxMessageBytes is the maximum size of a single message
	MaxMessageBytes int

	// BatchSize buffers alerts and sends them together, 1 sends each alert
	// as it is raised
	BatchSize int

	// SASL configuration
	SASLEnabled   bool
	SASLMechanism string // PLAIN
	SASLUsername  string
	SASLPassword  string

	TLS *security.TLSConfig

	// ClientID is the client identifier
	ClientID string
}

// DefaultKafkaConfig returns default Kafka configuration
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		Brokers:          []string{"localhost:9092"},
		Topic:            "auth-alerts",
		RequiredAcks:     1,
		CompressionCodec: "none",
		MaxMessageBytes:  1000000, // 1MB
		BatchSize:        1,
		ClientID:         "authscan",
	}
}

// KafkaSink publishes alerts and the report to Kafka
type KafkaSink struct {
	name     string
	config   KafkaConfig
	producer sarama.SyncProducer
	batcher  *Batcher[kafkaAlert]
	metrics  metricsTracker
	now      func() time.Time

	mu     sync.RWMutex
	run    RunInfo
	closed atomic.Bool
}

// kafkaAlert is one buffered alert. The message is built again for every
// send since sarama owns a message until the send returns.
type kafkaAlert struct {
	record AlertRecord
	size   int
}

// NewKafkaSink creates a sink backed by a sarama SyncProducer
func NewKafkaSink(name string, config KafkaConfig) (*KafkaSink, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("no brokers specified")
	}

	if config.Topic == "" {
		return nil, fmt.Errorf("no topic specified")
	}

	saramaConfig, err := newSaramaConfig(config)
	if err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(config.Brokers, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return NewKafkaSinkWithProducer(name, config, producer), nil
}

func newSaramaConfig(config KafkaConfig) (*sarama.Config, error) {
	saramaConfig := sarama.NewConfig()
	saramaConfig.Producer.Return.Successes = true
	saramaConfig.Producer.Return.Errors = true
	saramaConfig.Producer.RequiredAcks = sarama.RequiredAcks(config.RequiredAcks)
	saramaConfig.Producer.Partitioner = sarama.NewHashPartitioner
	if config.ClientID != "" {
		saramaConfig.ClientID = config.ClientID
	}

	switch config.CompressionCodec {
	case "gzip":
		saramaConfig.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		saramaConfig.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		saramaConfig.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		saramaConfig.Producer.Compression = sarama.CompressionZSTD
	default:
		saramaConfig.Producer.Compression = sarama.CompressionNone
	}

	if config.MaxMessageBytes > 0 {
		saramaConfig.Producer.MaxMessageBytes = config.MaxMessageBytes
	}

	if config.SASLEnabled {
		saramaConfig.Net.SASL.Enable = true
		saramaConfig.Net.SASL.User = config.SASLUsername
		saramaConfig.Net.SASL.Password = config.SASLPassword

		switch config.SASLMechanism {
		case "", sarama.SASLTypePlaintext:
			saramaConfig.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		default:
			// SCRAM needs a client generator, which this build does not ship
			return nil, fmt.Errorf("unsupported SASL mechanism: %s", config.SASLMechanism)
		}
	}

	tlsConfig, err := security.LoadTLSConfig(config.TLS)
	if err != nil {
		return nil, fmt.Errorf("invalid Kafka TLS configuration: %w", err)
	}
	if tlsConfig != nil {
		saramaConfig.Net.TLS.Enable = true
		saramaConfig.Net.TLS.Config = tlsConfig
	}

	if err := saramaConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid Kafka configuration: %w", err)
	}

	return saramaConfig, nil
}

// NewKafkaSinkWithProducer creates a sink around an existing producer
func NewKafkaSinkWithProducer(name string, config KafkaConfig, producer sarama.SyncProducer) *KafkaSink {
	if name == "" {
		name = "kafka"
	}
	if config.ReportTopic == "" {
		config.ReportTopic = config.Topic
	}

	sink := &KafkaSink{
		name:     name,
		config:   config,
		producer: producer,
		now:      time.Now,
	}

	if config.BatchSize > 1 {
		sink.batcher = NewBatcher(BatcherConfig{
			MaxBatchSize:  config.BatchSize,
			MaxBatchBytes: config.MaxMessageBytes * config.BatchSize,
		}, func(a kafkaAlert) int {
			return a.size
		}, sink.sendBatch)
	}

	return sink
}

// Start records the run metadata stamped on every message
func (k *KafkaSink) Start(ctx context.Context, run RunInfo) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.run = run
	return nil
}

// Alert publishes an alert keyed by its source address
func (k *KafkaSink) Alert(ctx context.Context, alert types.AlertSignal) error {
	if k.closed.Load() {
		return ErrSinkClosed
	}

	k.mu.RLock()
	record := NewAlertRecord(k.run, alert, k.now())
	k.mu.RUnlock()

	msg, err := k.buildMessage(k.config.Topic, alert.SourceAddress, record)
	if err != nil {
		k.metrics.recordFailure(KindAlert, err)
		return err
	}

	if k.batcher != nil {
		if err := k.batcher.Add(ctx, kafkaAlert{record: record, size: msg.Value.Length()}); err != nil {
			if errors.Is(err, ErrSinkClosed) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrAlertsPending, err)
		}
		return nil
	}

	return k.sendAlerts(ctx, []*sarama.ProducerMessage{msg})
}

// sendBatch sends buffered alerts. A partly failed batch is sent again in
// full, so consumers must tolerate duplicate alerts keyed by address.
func (k *KafkaSink) sendBatch(ctx context.Context, alerts []kafkaAlert) error {
	msgs := make([]*sarama.ProducerMessage, len(alerts))
	for i, alert := range alerts {
		msg, err := k.buildMessage(k.config.Topic, alert.record.SourceAddress, alert.record)
		if err != nil {
			return err
		}
		msgs[i] = msg
	}
	return k.sendAlerts(ctx, msgs)
}

// DrainAlerts returns the buffered alerts that were never sent
func (k *KafkaSink) DrainAlerts() []AlertRecord {
	if k.batcher == nil {
		return nil
	}

	pending := k.batcher.Drain()
	records := make([]AlertRecord, len(pending))
	for i, alert := range pending {
		records[i] = alert.record
	}
	return records
}

// sendAlerts sends a batch of alert messages
func (k *KafkaSink) sendAlerts(ctx context.Context, msgs []*sarama.ProducerMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	var err error
	if len(msgs) == 1 {
		_, _, err = k.producer.SendMessage(msgs[0])
	} else {
		err = k.producer.SendMessages(msgs)
	}

	if err != nil {
		failed := len(msgs)
		var perrs sarama.ProducerErrors
		if errors.As(err, &perrs) {
			failed = len(perrs)
		}
		for i := 0; i < failed; i++ {
			k.metrics.recordFailure(KindAlert, err)
		}
		for i := failed; i < len(msgs); i++ {
			k.metrics.recordSuccess(KindAlert, msgs[i].Value.Length())
		}
		return fmt.Errorf("failed to send %d of %d alerts to Kafka: %w", failed, len(msgs), err)
	}

	for _, msg := range msgs {
		k.metrics.recordSuccess(KindAlert, msg.Value.Length())
	}
	return nil
}

// Report flushes buffered alerts and then publishes the report
func (k *KafkaSink) Report(ctx context.Context, report *types.Report) error {
	if k.closed.Load() {
		return ErrSinkClosed
	}

	if k.batcher != nil {
		if err := k.batcher.Flush(ctx); err != nil {
			return err
		}
	}

	k.mu.RLock()
	record := NewReportRecord(k.run, report, k.now())
	runID := k.run.ID
	k.mu.RUnlock()

	msg, err := k.buildMessage(k.config.ReportTopic, runID, record)
	if err != nil {
		k.metrics.recordFailure(KindReport, err)
		return err
	}

	if _, _, err := k.producer.SendMessage(msg); err != nil {
		k.metrics.recordFailure(KindReport, err)
		return fmt.Errorf("failed to send report to Kafka: %w", err)
	}

	k.metrics.recordSuccess(KindReport, msg.Value.Length())
	return nil
}

// buildMessage creates a Kafka producer message from a record
func (k *KafkaSink) buildMessage(topic, key string, record interface{}) (*sarama.ProducerMessage, error) {
	value, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}
	if key != "" {
		msg.Key = sarama.StringEncoder(key)
	}

	return msg, nil
}

// Close flushes pending alerts and closes the producer
func (k *KafkaSink) Close() error {
	if !k.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	var flushErr error
	if k.batcher != nil {
		flushErr = k.batcher.Stop(context.Background())
	}

	if k.producer != nil {
		if err := k.producer.Close(); err != nil {
			return fmt.Errorf("failed to close Kafka producer: %w", err)
		}
	}

	return flushErr
}

// Name returns the sink name
func (k *KafkaSink) Name() string {
	return k.name
}

// Metrics returns the current metrics
func (k *KafkaSink) Metrics() *SinkMetrics {
	return k.metrics.snapshot()
}
