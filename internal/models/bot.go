package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bot is an automated strategy whose signals subscribers copy
type Bot struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	CoinSymbol string          `json:"coin_symbol"`
	FeeRate    decimal.Decimal `json:"fee_rate"`
	Status     string          `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}
