package producers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/boliseva-loan-ledger/internal/config"
	"github.com/boliseva-loan-ledger/internal/domain/shared"
)

// LedgerEventProducer writes ledger events to the events topic
type LedgerEventProducer struct {
	logger *slog.Logger
	writer KafkaWriter // Interface for testability
	topic  string
}

// NewLedgerEventProducer creates the producer and ensures the events topic exists
func NewLedgerEventProducer(_ context.Context, logger *slog.Logger, cfg *config.KafkaConfig) (*LedgerEventProducer, error) {
	if cfg.EventsTopic == "" {
		return nil, fmt.Errorf("kafka events topic is not configured")
	}

	if err := dialAndEnsureTopic(cfg.Brokers, cfg.EventsTopic, cfg.NumPartitions, cfg.ReplicationFactor, logger); err != nil {
		return nil, fmt.Errorf("failed to ensure events topic %s exists: %w", cfg.EventsTopic, err)
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers),
		Topic:        cfg.EventsTopic,
		Balancer:     &kafka.Hash{}, // Keyed by loan so a loan's events stay in order
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		WriteTimeout: cfg.MaxWait,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				logger.Error("Failed to write ledger events", "topic", cfg.EventsTopic, "error", err, "count", len(messages))
			}
		},
	}

	return &LedgerEventProducer{
		logger: logger,
		writer: writer,
		topic:  cfg.EventsTopic,
	}, nil
}

// PublishEvent writes event keyed by its loan id
func (p *LedgerEventProducer) PublishEvent(ctx context.Context, event shared.LedgerEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal ledger event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.Key()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish ledger event",
			"topic", p.topic,
			"type", event.Type,
			"loan_id", event.LoanID.String(),
			"error", err,
		)
		return fmt.Errorf("failed to publish %s to %s: %w", event.Type, p.topic, err)
	}

	p.logger.Debug("Published ledger event", "topic", p.topic, "type", event.Type, "loan_id", event.LoanID.String())
	return nil
}

func (p *LedgerEventProducer) Close() error {
	p.logger.Info("Closing ledger event producer", "topic", p.topic)
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka writer for topic %s: %w", p.topic, err)
	}
	return nil
}

// NopPublisher drops events; it stands in when Kafka is disabled or unreachable
type NopPublisher struct{}

func (NopPublisher) PublishEvent(context.Context, shared.LedgerEvent) error { return nil }

func (NopPublisher) PublishToDLQ(context.Context, string, []byte, string) error { return nil }

func (NopPublisher) Close() error { return nil }
