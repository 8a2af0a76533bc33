package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/bot-copy-service/internal/models"
)

type mockWriter struct {
	mu   sync.Mutex
	msgs []kafkago.Message
	err  error
}

func (w *mockWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *mockWriter) Close() error { return nil }

func TestTradeProducer_PublishTrade(t *testing.T) {
	w := &mockWriter{}
	p := &TradeProducer{writer: w, source: "test"}
	trade := &models.Trade{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		BotID:       uuid.New(),
		Action:      models.ActionSell,
		Price:       decimal.RequireFromString("60"),
		Quantity:    decimal.RequireFromString("0.2"),
		RealizedPnl: decimal.RequireFromString("1.988"),
		CreatedAt:   time.Now().UTC(),
	}

	require.NoError(t, p.PublishTrade(context.Background(), trade))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, trade.UserID.String(), string(w.msgs[0].Key))

	var event models.TradeEvent
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &event))
	assert.Equal(t, models.TradeExecutedEventType, event.EventType)
	assert.Equal(t, trade.ID, event.Data.ID)
	assert.True(t, event.Data.RealizedPnl.Equal(trade.RealizedPnl))
}

func TestTradeProducer_WriteError(t *testing.T) {
	p := &TradeProducer{writer: &mockWriter{err: errors.New("leader not available")}}

	err := p.PublishTrade(context.Background(), &models.Trade{ID: uuid.New()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka write")
}
