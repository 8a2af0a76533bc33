package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Subscription is a user's standing instruction to mirror a bot
type Subscription struct {
	ID                     uuid.UUID           `json:"id"`
	UserID                 uuid.UUID           `json:"user_id"`
	BotID                  uuid.UUID           `json:"bot_id"`
	AllocatedAmount        decimal.Decimal     `json:"allocated_amount"`
	AllocatedCoin          decimal.Decimal     `json:"allocated_coin"`
	TradePercentage        decimal.Decimal     `json:"trade_percentage"`
	Active                 bool                `json:"active"`
	StartedAt              time.Time           `json:"started_at"`
	StoppedAt              *time.Time          `json:"stopped_at"`
	MaxDailyLossPercentage decimal.NullDecimal `json:"max_daily_loss_percentage"`
	CreatedAt              time.Time           `json:"created_at"`
	UpdatedAt              time.Time           `json:"updated_at"`
}

// SubscriptionParams are the user-settable fields of a subscription
type SubscriptionParams struct {
	BotID                  uuid.UUID           `json:"bot_id"`
	AllocatedAmount        decimal.Decimal     `json:"allocated_amount"`
	AllocatedCoin          decimal.Decimal     `json:"allocated_coin"`
	TradePercentage        decimal.Decimal     `json:"trade_percentage"`
	MaxDailyLossPercentage decimal.NullDecimal `json:"max_daily_loss_percentage"`
}

var hundred = decimal.NewFromInt(100)

// Validate checks allocation and percentage ranges
func (p SubscriptionParams) Validate() error {
	if p.BotID == uuid.Nil {
		return fmt.Errorf("bot_id is required")
	}
	if p.AllocatedAmount.IsNegative() {
		return fmt.Errorf("allocated_amount must be >= 0, got %s", p.AllocatedAmount)
	}
	if p.AllocatedCoin.IsNegative() {
		return fmt.Errorf("allocated_coin must be >= 0, got %s", p.AllocatedCoin)
	}
	if !p.TradePercentage.IsPositive() || p.TradePercentage.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("trade_percentage must be in (0, 1], got %s", p.TradePercentage)
	}
	if p.AllocatedAmount.IsZero() && p.AllocatedCoin.IsZero() {
		return fmt.Errorf("allocated_amount or allocated_coin must be positive")
	}
	if p.MaxDailyLossPercentage.Valid {
		pct := p.MaxDailyLossPercentage.Decimal
		if !pct.IsPositive() || pct.GreaterThan(hundred) {
			return fmt.Errorf("max_daily_loss_percentage must be in (0, 100], got %s", pct)
		}
	}
	return nil
}

// Apply copies the params onto the subscription
func (p SubscriptionParams) Apply(s *Subscription) {
	s.BotID = p.BotID
	s.AllocatedAmount = p.AllocatedAmount
	s.AllocatedCoin = p.AllocatedCoin
	s.TradePercentage = p.TradePercentage
	s.MaxDailyLossPercentage = p.MaxDailyLossPercentage
}

// SetActive toggles the subscription, stamping or clearing StoppedAt
func (s *Subscription) SetActive(active bool, now time.Time) {
	s.Active = active
	if active {
		s.StoppedAt = nil
		return
	}
	stopped := now
	s.StoppedAt = &stopped
}

// DailyLossLimit returns the absolute loss at which executions stop for
// the day, or false when no limit is configured.
func (s *Subscription) DailyLossLimit() (decimal.Decimal, bool) {
	if !s.MaxDailyLossPercentage.Valid {
		return decimal.Zero, false
	}
	return s.AllocatedAmount.Mul(s.MaxDailyLossPercentage.Decimal).Div(hundred), true
}
