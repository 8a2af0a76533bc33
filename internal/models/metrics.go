package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BotMetrics is the 24h performance snapshot of a bot
type BotMetrics struct {
	BotID                 uuid.UUID       `json:"bot_id"`
	Pnl24h                decimal.Decimal `json:"pnl_24h"`
	Roi24h                decimal.Decimal `json:"roi_24h"`
	ActiveSubscriberCount int64           `json:"active_subscriber_count"`
	LastSignalTime        *time.Time      `json:"last_signal_time"`
	PnlSeries24h          []PnlPoint      `json:"pnl_series_24h"`
	GeneratedAt           time.Time       `json:"generated_at"`
}

// PnlPoint is one point of the cumulative realized PnL curve
type PnlPoint struct {
	Timestamp     time.Time       `json:"timestamp"`
	CumulativePnl decimal.Decimal `json:"cumulative_pnl"`
}
