// Package intake is the ingestion boundary shared by the Kafka consumer and
// the signal webhook: it records a signal once and hands it to the dispatch
// queue without waiting for the fan-out.
package intake

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trogers1052/bot-copy-service/internal/apperrors"
	"github.com/trogers1052/bot-copy-service/internal/metrics"
	"github.com/trogers1052/bot-copy-service/internal/models"
)

// Repository stores signals and resolves their bots
type Repository interface {
	GetBot(ctx context.Context, id uuid.UUID) (*models.Bot, error)
	SaveSignal(ctx context.Context, sig *models.Signal) (bool, error)
	DeleteSignal(ctx context.Context, id uuid.UUID) error
}

// Publisher enqueues signals for fan-out
type Publisher interface {
	Publish(ctx context.Context, sig *models.Signal) error
}

// Intake accepts signals from producers
type Intake struct {
	repo    Repository
	pub     Publisher
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates an Intake
func New(repo Repository, pub Publisher, logger *zap.Logger, m *metrics.Metrics) *Intake {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Intake{repo: repo, pub: pub, logger: logger, metrics: m}
}

// Accept records sig and enqueues it. It returns false, with no error, when
// a signal with the same id was already accepted. If the signal cannot be
// enqueued its record is removed so a redelivery is processed again.
//
// Signals with a non-positive price fail with ErrInvalidSignal and signals
// for an unknown bot with ErrNotFound; neither is stored.
func (i *Intake) Accept(ctx context.Context, sig *models.Signal) (bool, error) {
	if !sig.Price.IsPositive() {
		i.metrics.SignalReceived(metrics.SignalInvalid)
		return false, fmt.Errorf("%w: price must be positive, got %s", apperrors.ErrInvalidSignal, sig.Price)
	}
	if _, err := i.repo.GetBot(ctx, sig.BotID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			i.metrics.SignalReceived(metrics.SignalInvalid)
			return false, err
		}
		return false, fmt.Errorf("failed to load bot %s: %w", sig.BotID, err)
	}

	created, err := i.repo.SaveSignal(ctx, sig)
	if err != nil {
		return false, fmt.Errorf("failed to store signal %s: %w", sig.ID, err)
	}
	if !created {
		i.metrics.SignalReceived(metrics.SignalDuplicate)
		i.logger.Info("duplicate signal ignored", zap.String("signal_id", sig.ID.String()))
		return false, nil
	}

	if err := i.pub.Publish(ctx, sig); err != nil {
		i.metrics.SignalReceived(metrics.SignalDropped)
		if delErr := i.repo.DeleteSignal(context.WithoutCancel(ctx), sig.ID); delErr != nil {
			i.logger.Error("failed to remove undispatched signal",
				zap.String("signal_id", sig.ID.String()),
				zap.Error(delErr),
			)
		}
		return false, fmt.Errorf("failed to enqueue signal %s: %w", sig.ID, err)
	}

	i.metrics.SignalReceived(metrics.SignalAccepted)
	i.logger.Info("signal accepted",
		zap.String("signal_id", sig.ID.String()),
		zap.String("bot_id", sig.BotID.String()),
		zap.String("action", string(sig.Action)),
		zap.String("price", sig.Price.String()),
		zap.Float64("confidence", sig.Confidence),
	)
	return true, nil
}
