package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/trogers1052/bot-copy-service/internal/apperrors"
	"github.com/trogers1052/bot-copy-service/internal/metrics"
	"github.com/trogers1052/bot-copy-service/internal/models"
)

// SignalIntake accepts decoded signals
type SignalIntake interface {
	Accept(ctx context.Context, sig *models.Signal) (bool, error)
}

// messageReader is the subset of *kafka.Reader the consumer uses
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Config() kafka.ReaderConfig
	Close() error
}

const (
	defaultRetryBackoff = 500 * time.Millisecond
	maxRetryBackoff     = 30 * time.Second
)

// SignalConsumer consumes bot signal events from Kafka. An offset is
// committed only once its message was accepted or found to be invalid; a
// message failing for any other reason is retried in place.
type SignalConsumer struct {
	reader       messageReader
	intake       SignalIntake
	logger       *zap.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
	retryBackoff time.Duration
}

// NewSignalConsumer creates a new Kafka consumer for bot signals
func NewSignalConsumer(brokers []string, topic, groupID string, intake SignalIntake, logger *zap.Logger, m *metrics.Metrics) *SignalConsumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID + "-signals",
		MinBytes:       1,
		MaxBytes:       10e6, // 10MB
		MaxWait:        500 * time.Millisecond,
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second,
	})
	return newSignalConsumer(reader, intake, logger, m)
}

func newSignalConsumer(reader messageReader, intake SignalIntake, logger *zap.Logger, m *metrics.Metrics) *SignalConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SignalConsumer{
		reader:       reader,
		intake:       intake,
		logger:       logger,
		metrics:      m,
		now:          time.Now,
		retryBackoff: defaultRetryBackoff,
	}
}

// Start consumes until ctx is cancelled
func (c *SignalConsumer) Start(ctx context.Context) error {
	c.logger.Info("starting signal consumer", zap.String("topic", c.reader.Config().Topic))

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("signal consumer shutting down")
			return nil
		default:
			msg, err := c.reader.FetchMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("failed to fetch signal message", zap.Error(err))
				continue
			}

			if !c.handle(ctx, msg) {
				// Left uncommitted; the group redelivers it after restart.
				return nil
			}
			if err := c.reader.CommitMessages(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				c.logger.Error("failed to commit signal message",
					zap.Int("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(err),
				)
			}
		}
	}
}

// handle processes msg until it is done with it. It returns false only when
// ctx ends before msg could be processed.
func (c *SignalConsumer) handle(ctx context.Context, msg kafka.Message) bool {
	backoff := c.retryBackoff
	for {
		err := c.processMessage(ctx, msg)
		if err == nil {
			return true
		}
		if permanent(err) {
			c.logger.Warn("skipping invalid signal message",
				zap.Int("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
				zap.Error(err),
			)
			return true
		}

		c.logger.Error("failed to process signal message, retrying",
			zap.Int("partition", msg.Partition),
			zap.Int64("offset", msg.Offset),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

// permanent reports whether redelivering the message cannot succeed
func permanent(err error) bool {
	return errors.Is(err, apperrors.ErrInvalidSignal) || errors.Is(err, apperrors.ErrNotFound)
}

// processMessage decodes one event and hands the signal to intake
func (c *SignalConsumer) processMessage(ctx context.Context, msg kafka.Message) error {
	var event models.SignalEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		c.metrics.SignalReceived(metrics.SignalInvalid)
		return fmt.Errorf("failed to unmarshal signal event: %w: %w", apperrors.ErrInvalidSignal, err)
	}

	if event.EventType != models.SignalEventType {
		c.logger.Debug("ignoring event", zap.String("event_type", event.EventType))
		return nil
	}

	sig, err := event.Data.ToSignal(c.now())
	if err != nil {
		c.metrics.SignalReceived(metrics.SignalInvalid)
		return fmt.Errorf("invalid signal event: %w: %w", apperrors.ErrInvalidSignal, err)
	}

	if _, err := c.intake.Accept(ctx, sig); err != nil {
		return err
	}
	return nil
}

// Close closes the Kafka reader
func (c *SignalConsumer) Close() error {
	return c.reader.Close()
}
