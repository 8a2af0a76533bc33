// Package analytics derives per-bot performance from recorded trades.
// It only reads; results may lag trades that are still committing.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/trogers1052/bot-copy-service/internal/models"
)

// Window is the lookback of every metric
const Window = 24 * time.Hour

// RoiPlaces is the number of decimal places the pnl/capital ratio keeps
const RoiPlaces = 4

// Repository provides the read queries analytics needs
type Repository interface {
	GetBot(ctx context.Context, id uuid.UUID) (*models.Bot, error)
	ListTradesSince(ctx context.Context, botID uuid.UUID, since time.Time) ([]*models.Trade, error)
	CountActiveSubscribers(ctx context.Context, botID uuid.UUID) (int64, error)
	SumAllocatedCapital(ctx context.Context, botID uuid.UUID) (decimal.Decimal, error)
	LastSignalTime(ctx context.Context, botID uuid.UUID) (*time.Time, error)
}

// Cache stores computed snapshots
type Cache interface {
	GetBotMetrics(ctx context.Context, botID uuid.UUID) (*models.BotMetrics, error)
	SetBotMetrics(ctx context.Context, m *models.BotMetrics, ttl time.Duration) error
}

// Engine computes bot metrics
type Engine struct {
	repo   Repository
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// New creates an Engine. A nil cache or zero ttl disables caching.
func New(repo Repository, cache Cache, ttl time.Duration, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{repo: repo, cache: cache, ttl: ttl, logger: logger, now: time.Now}
}

// Metrics returns the 24h snapshot of a bot. Cache failures are logged and
// the snapshot is computed from the database.
func (e *Engine) Metrics(ctx context.Context, botID uuid.UUID) (*models.BotMetrics, error) {
	if e.caching() {
		cached, err := e.cache.GetBotMetrics(ctx, botID)
		if err != nil {
			e.logger.Warn("metrics cache read failed", zap.String("bot_id", botID.String()), zap.Error(err))
		} else if cached != nil {
			return cached, nil
		}
	}

	m, err := e.compute(ctx, botID)
	if err != nil {
		return nil, err
	}

	if e.caching() {
		if err := e.cache.SetBotMetrics(ctx, m, e.ttl); err != nil {
			e.logger.Warn("metrics cache write failed", zap.String("bot_id", botID.String()), zap.Error(err))
		}
	}
	return m, nil
}

func (e *Engine) caching() bool {
	return e.cache != nil && e.ttl > 0
}

func (e *Engine) compute(ctx context.Context, botID uuid.UUID) (*models.BotMetrics, error) {
	if _, err := e.repo.GetBot(ctx, botID); err != nil {
		return nil, err
	}

	now := e.now().UTC()
	trades, err := e.repo.ListTradesSince(ctx, botID, now.Add(-Window))
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	capital, err := e.repo.SumAllocatedCapital(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to sum allocated capital: %w", err)
	}
	subscribers, err := e.repo.CountActiveSubscribers(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to count subscribers: %w", err)
	}
	lastSignal, err := e.repo.LastSignalTime(ctx, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to load last signal time: %w", err)
	}

	series := CumulativeSeries(trades)
	pnl := decimal.Zero
	if len(series) > 0 {
		pnl = series[len(series)-1].CumulativePnl
	}

	return &models.BotMetrics{
		BotID:                 botID,
		Pnl24h:                pnl,
		Roi24h:                ROI(pnl, capital),
		ActiveSubscriberCount: subscribers,
		LastSignalTime:        lastSignal,
		PnlSeries24h:          series,
		GeneratedAt:           now,
	}, nil
}

var hundred = decimal.NewFromInt(100)

// ROI is pnl/capital rounded half away from zero to RoiPlaces, then scaled
// to a percentage, so 1/3 gives 33.33. It is zero when capital is not
// positive.
func ROI(pnl, capital decimal.Decimal) decimal.Decimal {
	if !capital.IsPositive() {
		return decimal.Zero
	}
	return pnl.DivRound(capital, RoiPlaces).Mul(hundred)
}

// CumulativeSeries returns one point per trade, in chronological order, each
// carrying the running sum of realized PnL up to and including that trade.
func CumulativeSeries(trades []*models.Trade) []models.PnlPoint {
	ordered := make([]*models.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].CreatedAt.Before(ordered[j].CreatedAt) })

	series := make([]models.PnlPoint, 0, len(ordered))
	running := decimal.Zero
	for _, t := range ordered {
		running = running.Add(t.RealizedPnl)
		series = append(series, models.PnlPoint{Timestamp: t.CreatedAt, CumulativePnl: running})
	}
	return series
}
