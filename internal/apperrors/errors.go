// Package apperrors defines the error taxonomy shared by the execution
// engine, the subscription service and the HTTP layer.
package apperrors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidSignal         = errors.New("invalid signal")
	ErrNotFound              = errors.New("not found")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrUnauthorized          = errors.New("not the owner of this subscription")
	ErrDuplicateSubscription = errors.New("already subscribed to this bot")
	ErrInvalidInput          = errors.New("invalid input")
	ErrInvalidTradeSize      = errors.New("computed trade size is not positive")
	ErrDailyLossLimit        = errors.New("daily loss limit reached")
)

// NotFoundError names the missing entity
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NotFound builds a NotFoundError
func NotFound(entity string, id fmt.Stringer) error {
	return &NotFoundError{Entity: entity, ID: id.String()}
}

// InsufficientFundsError reports how much was required against what was
// available for a given asset (a fiat currency or a coin symbol).
type InsufficientFundsError struct {
	Asset     string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient %s balance: have %s, need %s (short %s)",
		e.Asset, e.Available, e.Required, e.Shortfall())
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// Shortfall is the missing amount, never negative
func (e *InsufficientFundsError) Shortfall() decimal.Decimal {
	s := e.Required.Sub(e.Available)
	if s.IsNegative() {
		return decimal.Zero
	}
	return s
}

// Insufficient builds an InsufficientFundsError
func Insufficient(asset string, required, available decimal.Decimal) error {
	return &InsufficientFundsError{Asset: asset, Required: required, Available: available}
}

// Invalid wraps a validation failure so it matches ErrInvalidInput
func Invalid(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}
