package producers

import (
	"context"

	"github.com/segmentio/kafka-go"

	"github.com/boliseva-loan-ledger/internal/domain/shared"
)

// EventPublisher publishes ledger events. Publishing is best effort: callers log failures
// and never undo the ledger change that produced the event.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event shared.LedgerEvent) error
	Close() error
}

// DeadLetterPublisher handles publishing messages to a Dead Letter Queue
type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, key string, originalMessageValue []byte, reason string) error
	Close() error
}

// KafkaWriter wraps kafka.Writer methods for testing
type KafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// topicAdmin is the part of kafka.Conn used to provision topics
type topicAdmin interface {
	ReadPartitions(topics ...string) ([]kafka.Partition, error)
	CreateTopics(topics ...kafka.TopicConfig) error
}
