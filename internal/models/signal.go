package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Action is the side of a bot signal or trade
type Action string

const (
	ActionBuy  Action = "BUY"
	ActionSell Action = "SELL"
)

// ParseAction normalizes a producer-supplied action string
func ParseAction(s string) (Action, error) {
	switch a := Action(strings.ToUpper(strings.TrimSpace(s))); a {
	case ActionBuy, ActionSell:
		return a, nil
	default:
		return "", fmt.Errorf("unknown action %q", s)
	}
}

// Signal is a BUY/SELL instruction emitted by a bot. Immutable once stored.
type Signal struct {
	ID         uuid.UUID       `json:"id"`
	BotID      uuid.UUID       `json:"bot_id"`
	Action     Action          `json:"action"`
	Price      decimal.Decimal `json:"price"`
	EmittedAt  time.Time       `json:"emitted_at"`
	Confidence float64         `json:"confidence,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// SignalEventType is the event_type carried by producer signal messages
const SignalEventType = "BOT_SIGNAL"

// SignalEvent is the payload published by the signal producer (Kafka or webhook)
type SignalEvent struct {
	EventType string          `json:"event_type"`
	Source    string          `json:"source"`
	Timestamp string          `json:"timestamp"`
	Data      SignalEventData `json:"data"`
}

// SignalEventData carries a single signal in string form
type SignalEventData struct {
	SignalID   string  `json:"signal_id,omitempty"`
	BotID      string  `json:"bot_id"`
	Action     string  `json:"action"`
	Price      string  `json:"price"`
	EmittedAt  string  `json:"emitted_at,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ToSignal converts the wire payload into a Signal. A missing signal id is
// generated and a missing emission time defaults to now. Price is parsed but
// not range-checked; intake rejects non-positive prices.
func (d SignalEventData) ToSignal(now time.Time) (*Signal, error) {
	botID, err := uuid.Parse(d.BotID)
	if err != nil {
		return nil, fmt.Errorf("invalid bot_id %s: %w", d.BotID, err)
	}

	action, err := ParseAction(d.Action)
	if err != nil {
		return nil, err
	}

	price, err := decimal.NewFromString(d.Price)
	if err != nil {
		return nil, fmt.Errorf("invalid price %s: %w", d.Price, err)
	}

	id := uuid.New()
	if d.SignalID != "" {
		id, err = uuid.Parse(d.SignalID)
		if err != nil {
			return nil, fmt.Errorf("invalid signal_id %s: %w", d.SignalID, err)
		}
	}

	emittedAt := now
	if d.EmittedAt != "" {
		emittedAt, err = time.Parse(time.RFC3339Nano, d.EmittedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid emitted_at %s: %w", d.EmittedAt, err)
		}
	}

	return &Signal{
		ID:         id,
		BotID:      botID,
		Action:     action,
		Price:      price,
		EmittedAt:  emittedAt.UTC(),
		Confidence: d.Confidence,
	}, nil
}

// FanOutResult summarizes one dispatch of a signal across subscriptions
type FanOutResult struct {
	SignalID  uuid.UUID `json:"signal_id"`
	BotID     uuid.UUID `json:"bot_id"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	// Rejected is set when the signal itself was refused before any
	// subscription was touched.
	Rejected string `json:"rejected,omitempty"`
}
