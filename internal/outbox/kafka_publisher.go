package outbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	auditTopic        = "task-sync.outcomes"
	kafkaWriteTimeout = 5 * time.Second
)

// KafkaAuditPublisher mirrors completed outbox outcomes to a Kafka topic for
// external observability. It is the optional AuditPublisher implementation
// wired in when KAFKA_BROKERS is configured; Publish never blocks delivery
// semantics — failures are logged and dropped.
type KafkaAuditPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaAuditPublisher builds a publisher writing to auditTopic on the
// brokers named by a comma-separated brokers string.
func NewKafkaAuditPublisher(brokers string, logger *slog.Logger) *KafkaAuditPublisher {
	if logger == nil {
		logger = slog.Default()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(strings.Split(brokers, ",")...),
		Topic:        auditTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}

	return &KafkaAuditPublisher{writer: writer, logger: logger}
}

// Publish writes outcome to the audit topic, keyed by TaskID so a
// consumer can order a task's outcomes. Marshal/write failures are logged,
// never surfaced — the outbox commit they describe already succeeded.
func (p *KafkaAuditPublisher) Publish(ctx context.Context, outcome SyncOutcome) {
	payload, err := json.Marshal(outcome)
	if err != nil {
		p.logger.Error("outbox: failed to marshal audit outcome",
			slog.String("event_id", outcome.EventID), slog.String("error", err.Error()))

		return
	}

	writeCtx, cancel := context.WithTimeout(ctx, kafkaWriteTimeout)
	defer cancel()

	err = p.writer.WriteMessages(writeCtx, kafka.Message{
		Key:   []byte(outcome.TaskID),
		Value: payload,
		Time:  outcome.At,
	})
	if err != nil {
		p.logger.Error("outbox: failed to publish audit outcome",
			slog.String("event_id", outcome.EventID), slog.String("error", err.Error()))
	}
}

// Close flushes and closes the underlying Kafka writer.
func (p *KafkaAuditPublisher) Close() error {
	return p.writer.Close()
}

var _ AuditPublisher = (*KafkaAuditPublisher)(nil)
