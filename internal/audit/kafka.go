package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/valinor-ai/kycgate/internal/platform/telemetry"
)

// producer is the subset of *kgo.Client the Kafka sink uses.
type producer interface {
	TryProduce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

// KafkaLogger publishes each event as one JSON record keyed by resource id.
// TryProduce never blocks: a full client buffer fails the record, which is
// logged and dropped.
type KafkaLogger struct {
	client  producer
	topic   string
	logger  *slog.Logger
	metrics *telemetry.Metrics
}

// NewKafkaLogger connects a franz-go client to brokers.
func NewKafkaLogger(brokers []string, topic string, logger *slog.Logger, metrics *telemetry.Metrics) (*KafkaLogger, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerLinger(10*time.Millisecond),
		kgo.MaxBufferedRecords(10_000),
	)
	if err != nil {
		return nil, fmt.Errorf("creating kafka client: %w", err)
	}
	return newKafkaLogger(client, topic, logger, metrics), nil
}

func newKafkaLogger(client producer, topic string, logger *slog.Logger, metrics *telemetry.Metrics) *KafkaLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaLogger{client: client, topic: topic, logger: logger, metrics: metrics}
}

func (l *KafkaLogger) Log(ctx context.Context, event Event) {
	event = stamp(event, time.Now())
	value, err := json.Marshal(event)
	if err != nil {
		l.logger.Error("encoding audit event", "action", event.Action, "error", err)
		return
	}

	record := &kgo.Record{
		Topic: l.topic,
		Key:   []byte(event.ResourceID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "action", Value: []byte(event.Action)},
		},
	}
	// The produce must outlive the request that emitted the event.
	l.client.TryProduce(context.WithoutCancel(ctx), record, func(r *kgo.Record, err error) {
		if err != nil {
			l.metrics.IncEventsDropped()
			l.logger.Warn("publishing audit event failed", "action", event.Action, "error", err)
		}
	})
}

// Close flushes buffered records and closes the client.
func (l *KafkaLogger) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := l.client.Flush(ctx)
	l.client.Close()
	if err != nil {
		return fmt.Errorf("flushing kafka producer: %w", err)
	}
	return nil
}
