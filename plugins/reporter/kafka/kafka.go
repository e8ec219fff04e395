// Package kafka publishes buff events to a Kafka topic as JSON.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"firestige.xyz/buffwatch/internal/core"
	"firestige.xyz/buffwatch/internal/metrics"
	"firestige.xyz/buffwatch/pkg/plugin"
)

const (
	pluginName = "kafka"

	defaultBatchSize    = 100
	defaultBatchTimeout = 100 * time.Millisecond
	defaultCompression  = "snappy"
	defaultMaxAttempts  = 3
)

// KafkaReporter sends buff events to Kafka.
type KafkaReporter struct {
	writer *kafka.Writer
	config Config

	delivered atomic.Uint64
	failed    atomic.Uint64
}

// Config represents Kafka reporter configuration.
type Config struct {
	Brokers      []string      `mapstructure:"brokers"`       // required
	Topic        string        `mapstructure:"topic"`         // required
	BatchSize    int           `mapstructure:"batch_size"`    // default 100
	BatchTimeout time.Duration `mapstructure:"batch_timeout"` // default 100ms
	Compression  string        `mapstructure:"compression"`   // none|gzip|snappy|lz4|zstd, default snappy
	MaxAttempts  int           `mapstructure:"max_attempts"`  // default 3
}

// NewKafkaReporter creates a new Kafka reporter.
func NewKafkaReporter() plugin.Reporter {
	return &KafkaReporter{}
}

// Name returns the plugin name.
func (r *KafkaReporter) Name() string {
	return pluginName
}

// Init initializes the reporter with configuration.
func (r *KafkaReporter) Init(config map[string]any) error {
	if config == nil {
		return fmt.Errorf("kafka: %w: brokers and topic are required", core.ErrConfigInvalid)
	}

	cfg := Config{
		BatchSize:    defaultBatchSize,
		BatchTimeout: defaultBatchTimeout,
		Compression:  defaultCompression,
		MaxAttempts:  defaultMaxAttempts,
	}
	if err := plugin.DecodeConfig(config, &cfg); err != nil {
		return fmt.Errorf("kafka: %w", err)
	}
	if len(cfg.Brokers) == 0 {
		return fmt.Errorf("kafka: %w: brokers is required", core.ErrConfigInvalid)
	}
	if cfg.Topic == "" {
		return fmt.Errorf("kafka: %w: topic is required", core.ErrConfigInvalid)
	}

	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return fmt.Errorf("kafka: %w: %v", core.ErrConfigInvalid, err)
	}
	r.config = cfg

	// Report never waits for a batch. Delivery failures surface through Completion.
	r.writer = kafka.NewWriter(kafka.WriterConfig{
		Brokers:          cfg.Brokers,
		Topic:            cfg.Topic,
		Balancer:         &kafka.Hash{},
		BatchSize:        cfg.BatchSize,
		BatchTimeout:     cfg.BatchTimeout,
		MaxAttempts:      cfg.MaxAttempts,
		CompressionCodec: codec,
		Async:            true,
	})
	r.writer.Completion = r.completion
	return nil
}

func compressionCodec(name string) (kafka.CompressionCodec, error) {
	switch name {
	case "none", "":
		return nil, nil
	case "gzip":
		return compress.Gzip.Codec(), nil
	case "snappy":
		return compress.Snappy.Codec(), nil
	case "lz4":
		return compress.Lz4.Codec(), nil
	case "zstd":
		return compress.Zstd.Codec(), nil
	default:
		return nil, fmt.Errorf("invalid compression type: %s", name)
	}
}

func (r *KafkaReporter) completion(messages []kafka.Message, err error) {
	if err == nil {
		r.delivered.Add(uint64(len(messages)))
		return
	}
	r.failed.Add(uint64(len(messages)))
	metrics.ReporterErrorsTotal.WithLabelValues(pluginName).Add(float64(len(messages)))
	slog.Warn("kafka write failed", "topic", r.config.Topic, "messages", len(messages), "error", err)
}

// Start logs the writer settings. Connections are opened lazily by the writer.
func (r *KafkaReporter) Start(ctx context.Context) error {
	slog.Info("publishing buff events to kafka",
		"topic", r.config.Topic, "brokers", r.config.Brokers,
		"compression", r.config.Compression, "batch", r.config.BatchSize)
	return nil
}

// Stop writes pending batches and closes the writer.
func (r *KafkaReporter) Stop(ctx context.Context) error {
	if r.writer == nil {
		return nil
	}
	err := r.writer.Close()
	slog.Info("kafka writer closed",
		"delivered", r.delivered.Load(), "failed", r.failed.Load(), "error", err)
	if err != nil {
		return fmt.Errorf("kafka: close writer: %w", err)
	}
	return nil
}

// Report queues one event for publishing.
func (r *KafkaReporter) Report(ctx context.Context, evt *core.BuffEvent) error {
	if evt == nil {
		return fmt.Errorf("nil event")
	}

	msg, err := buildMessage(evt)
	if err != nil {
		r.failed.Add(1)
		return err
	}

	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		r.failed.Add(1)
		return fmt.Errorf("kafka: enqueue: %w", err)
	}
	return nil
}

// buildMessage encodes evt as JSON keyed by entity uuid, so events of one
// entity stay on one partition. Labels become headers.
func buildMessage(evt *core.BuffEvent) (kafka.Message, error) {
	value, err := json.Marshal(evt)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("kafka: encode event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatUint(evt.EntityUUID, 10)),
		Value: value,
		Time:  evt.Timestamp,
	}

	labels := core.EventLabels(evt)
	msg.Headers = make([]kafka.Header, 0, len(labels))
	for k, v := range labels {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	return msg, nil
}

// Flush is a no-op; pending batches are written by the writer on its own
// schedule and on Stop.
func (r *KafkaReporter) Flush(ctx context.Context) error {
	return nil
}
