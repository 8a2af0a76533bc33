package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/bot-copy-service/internal/metrics"
	"github.com/trogers1052/bot-copy-service/internal/models"
	"github.com/trogers1052/bot-copy-service/internal/store/memstore"
)

func TestSignalRetention_DeletesOnlyExpiredSignals(t *testing.T) {
	s := memstore.New()
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	botID := uuid.New()
	ctx := context.Background()

	old := &models.Signal{ID: uuid.New(), BotID: botID, Action: models.ActionBuy, Price: decimal.NewFromInt(1), EmittedAt: now.Add(-8 * 24 * time.Hour)}
	recent := &models.Signal{ID: uuid.New(), BotID: botID, Action: models.ActionSell, Price: decimal.NewFromInt(1), EmittedAt: now.Add(-time.Hour)}
	_, err := s.SaveSignal(ctx, old)
	require.NoError(t, err)
	_, err = s.SaveSignal(ctx, recent)
	require.NoError(t, err)

	job := signalRetention(s, 7*24*time.Hour, nil, metrics.New(prometheus.NewRegistry()), func() time.Time { return now })
	job(ctx)

	last, err := s.LastSignalTime(ctx, botID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, recent.EmittedAt.Equal(*last))

	n, err := s.DeleteSignalsBefore(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "only the recent signal was left")
}

func TestSignalRetention_KeepsSignalsReferencedByTrades(t *testing.T) {
	s := memstore.New()
	now := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	botID := uuid.New()
	ctx := context.Background()

	traded := &models.Signal{ID: uuid.New(), BotID: botID, Action: models.ActionBuy, Price: decimal.NewFromInt(1), EmittedAt: now.Add(-9 * 24 * time.Hour)}
	_, err := s.SaveSignal(ctx, traded)
	require.NoError(t, err)
	trade := &models.Trade{ID: uuid.New(), BotID: botID, SignalID: uuid.NullUUID{UUID: traded.ID, Valid: true}, CreatedAt: traded.EmittedAt}
	s.AddTrade(trade)

	signalRetention(s, 7*24*time.Hour, nil, nil, func() time.Time { return now })(ctx)

	last, err := s.LastSignalTime(ctx, botID)
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, traded.EmittedAt.Equal(*last))

	trades := s.Trades()
	require.Len(t, trades, 1)
	assert.Equal(t, *trade, trades[0])
}

type failingPurger struct{ calls atomic.Int32 }

func (f *failingPurger) DeleteSignalsBefore(context.Context, time.Time) (int64, error) {
	f.calls.Add(1)
	return 0, errors.New("db down")
}

func TestSignalRetention_ErrorIsSwallowed(t *testing.T) {
	p := &failingPurger{}
	SignalRetention(p, time.Hour, nil, nil)(context.Background())
	assert.Equal(t, int32(1), p.calls.Load())
}

func TestRunner_RunsScheduledJob(t *testing.T) {
	r := New(context.Background(), nil)
	var runs atomic.Int32
	_, err := r.Add("@every 1s", func(context.Context) { runs.Add(1) })
	require.NoError(t, err)

	r.Start()
	defer r.Stop()

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 50*time.Millisecond)
}

func TestRunner_RejectsBadSpec(t *testing.T) {
	r := New(context.Background(), nil)
	_, err := r.Add("every now and then", func(context.Context) {})
	assert.Error(t, err)
}
