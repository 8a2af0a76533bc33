package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Trade is an append-only execution record
type Trade struct {
	ID             uuid.UUID       `json:"id"`
	SubscriptionID uuid.UUID       `json:"subscription_id"`
	BotID          uuid.UUID       `json:"bot_id"`
	UserID         uuid.UUID       `json:"user_id"`
	SignalID       uuid.NullUUID   `json:"signal_id"`
	Action         Action          `json:"action"`
	Price          decimal.Decimal `json:"price"`
	Quantity       decimal.Decimal `json:"quantity"`
	Fee            decimal.Decimal `json:"fee"`
	RealizedPnl    decimal.Decimal `json:"realized_pnl"`
	CreatedAt      time.Time       `json:"created_at"`
}

// TradeExecutedEventType is the event_type of published trade events
const TradeExecutedEventType = "TRADE_EXECUTED"

// TradeEvent is published after a trade commits
type TradeEvent struct {
	EventType string `json:"event_type"`
	Source    string `json:"source"`
	Timestamp string `json:"timestamp"`
	Data      Trade  `json:"data"`
}
