package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/trogers1052/bot-copy-service/internal/models"
)

// messageWriter is the subset of *kafka.Writer the producer uses
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// TradeProducer publishes executed trades
type TradeProducer struct {
	writer messageWriter
	source string
}

// NewTradeProducer creates a producer writing to topic. Messages are keyed
// by user id so one user's trades stay ordered on a partition.
func NewTradeProducer(brokers []string, topic string) *TradeProducer {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		BatchTimeout:           10 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &TradeProducer{writer: writer, source: "bot-copy-service"}
}

// PublishTrade writes a TRADE_EXECUTED event
func (p *TradeProducer) PublishTrade(ctx context.Context, t *models.Trade) error {
	event := models.TradeEvent{
		EventType: models.TradeExecutedEventType,
		Source:    p.source,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Data:      *t,
	}
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal trade event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(t.UserID.String()),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Close flushes and closes the writer
func (p *TradeProducer) Close() error {
	return p.writer.Close()
}
