// Package dispatch fans a bot signal out to every active subscription of the
// bot and runs the fan-outs on a fixed pool of queue workers.
package dispatch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trogers1052/bot-copy-service/internal/engine"
	"github.com/trogers1052/bot-copy-service/internal/metrics"
	"github.com/trogers1052/bot-copy-service/internal/models"
)

// BotSource loads bots
type BotSource interface {
	GetBot(ctx context.Context, id uuid.UUID) (*models.Bot, error)
}

// SubscriptionSource loads the active subscriptions of a bot
type SubscriptionSource interface {
	ListActiveSubscriptionsByBot(ctx context.Context, botID uuid.UUID) ([]*models.Subscription, error)
}

// Executor runs one subscription's execution
type Executor interface {
	Execute(ctx context.Context, req engine.Request) (*models.Trade, error)
}

// TradeNotifier is told about every committed trade
type TradeNotifier interface {
	PublishTrade(ctx context.Context, t *models.Trade) error
}

const defaultParallelism = 8

// Dispatcher applies one signal to all active subscriptions of its bot.
// Subscriptions succeed or fail independently; there is no fan-out-wide
// transaction.
type Dispatcher struct {
	bots     BotSource
	subs     SubscriptionSource
	exec     Executor
	notifier TradeNotifier
	logger   *zap.Logger
	metrics  *metrics.Metrics

	parallelism  int
	maxSignalAge time.Duration
	now          func() time.Time
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithParallelism bounds how many subscriptions of one fan-out run at once
func WithParallelism(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.parallelism = n
		}
	}
}

// WithMaxSignalAge rejects signals emitted longer ago than age. Zero disables.
func WithMaxSignalAge(age time.Duration) Option {
	return func(d *Dispatcher) { d.maxSignalAge = age }
}

// WithNotifier publishes committed trades
func WithNotifier(n TradeNotifier) Option {
	return func(d *Dispatcher) { d.notifier = n }
}

// WithMetrics records fan-out and execution metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Dispatcher) { d.metrics = m }
}

// NewDispatcher creates a Dispatcher
func NewDispatcher(bots BotSource, subs SubscriptionSource, exec Executor, logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		bots:        bots,
		subs:        subs,
		exec:        exec,
		logger:      logger,
		parallelism: defaultParallelism,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch fans sig out. A malformed or stale signal is reported through
// FanOutResult.Rejected with no side effects. An error is returned only when
// the bot or its subscriptions cannot be loaded, in which case no
// subscription was touched.
func (d *Dispatcher) Dispatch(ctx context.Context, sig *models.Signal) (models.FanOutResult, error) {
	result := models.FanOutResult{SignalID: sig.ID, BotID: sig.BotID}
	log := d.logger.With(
		zap.String("signal_id", sig.ID.String()),
		zap.String("bot_id", sig.BotID.String()),
	)

	if reason := d.rejectReason(sig); reason != "" {
		result.Rejected = reason
		d.metrics.FanOut(metrics.FanOutRejected)
		log.Warn("signal ignored", zap.String("reason", reason))
		return result, nil
	}

	bot, err := d.bots.GetBot(ctx, sig.BotID)
	if err != nil {
		d.metrics.FanOut(metrics.FanOutAborted)
		return result, fmt.Errorf("failed to load bot for signal %s: %w", sig.ID, err)
	}

	subs, err := d.subs.ListActiveSubscriptionsByBot(ctx, bot.ID)
	if err != nil {
		d.metrics.FanOut(metrics.FanOutAborted)
		return result, fmt.Errorf("failed to load subscriptions for bot %s: %w", bot.ID, err)
	}
	if len(subs) == 0 {
		d.metrics.FanOut(metrics.FanOutCompleted)
		log.Info("no active subscribers", zap.String("bot", bot.Name))
		return result, nil
	}

	log.Info("starting fan-out",
		zap.String("bot", bot.Name),
		zap.String("action", string(sig.Action)),
		zap.String("price", sig.Price.String()),
		zap.Int("subscriptions", len(subs)),
	)

	// In-flight executions are never cancelled; each one finishes or fails
	// on its own.
	execCtx := context.WithoutCancel(ctx)
	signalID := uuid.NullUUID{UUID: sig.ID, Valid: true}

	var succeeded, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(d.parallelism)
	for _, sub := range subs {
		g.Go(func() error {
			if err := d.executeOne(execCtx, log, bot, sub, sig, signalID); err != nil {
				failed.Add(1)
			} else {
				succeeded.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	result.Succeeded = int(succeeded.Load())
	result.Failed = int(failed.Load())
	d.metrics.FanOut(metrics.FanOutCompleted)
	log.Info("fan-out complete",
		zap.Int("succeeded", result.Succeeded),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (d *Dispatcher) executeOne(ctx context.Context, log *zap.Logger, bot *models.Bot, sub *models.Subscription, sig *models.Signal, signalID uuid.NullUUID) error {
	start := time.Now()
	trade, err := d.exec.Execute(ctx, engine.Request{
		Subscription: sub,
		Bot:          bot,
		Action:       sig.Action,
		Price:        sig.Price,
		SignalID:     signalID,
	})
	d.metrics.Execution(string(sig.Action), err, time.Since(start))
	if err != nil {
		log.Error("copy trade failed",
			zap.String("user_id", sub.UserID.String()),
			zap.String("subscription_id", sub.ID.String()),
			zap.Error(err),
		)
		return err
	}

	if d.notifier != nil {
		if err := d.notifier.PublishTrade(ctx, trade); err != nil {
			log.Warn("failed to publish trade event",
				zap.String("trade_id", trade.ID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func (d *Dispatcher) rejectReason(sig *models.Signal) string {
	if !sig.Price.IsPositive() {
		return fmt.Sprintf("non-positive price %s", sig.Price)
	}
	if sig.Action != models.ActionBuy && sig.Action != models.ActionSell {
		return fmt.Sprintf("unknown action %q", sig.Action)
	}
	if d.maxSignalAge > 0 {
		if age := d.now().Sub(sig.EmittedAt); age > d.maxSignalAge {
			return fmt.Sprintf("signal expired: age %s exceeds %s", age.Round(time.Second), d.maxSignalAge)
		}
	}
	return ""
}
