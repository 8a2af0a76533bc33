package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsufficientFundsError(t *testing.T) {
	err := Insufficient("USDT", decimal.NewFromInt(100), decimal.NewFromInt(40))
	wrapped := fmt.Errorf("execute buy: %w", err)

	assert.True(t, errors.Is(wrapped, ErrInsufficientFunds))
	assert.False(t, errors.Is(wrapped, ErrNotFound))

	var ife *InsufficientFundsError
	require.True(t, errors.As(wrapped, &ife))
	assert.True(t, ife.Shortfall().Equal(decimal.NewFromInt(60)))
	assert.Contains(t, err.Error(), "short 60")
}

func TestInsufficientFundsError_ShortfallNeverNegative(t *testing.T) {
	err := &InsufficientFundsError{Asset: "BTC", Required: decimal.NewFromInt(1), Available: decimal.NewFromInt(2)}
	assert.True(t, err.Shortfall().IsZero())
}

func TestNotFoundError(t *testing.T) {
	id := uuid.New()
	err := fmt.Errorf("load bot: %w", NotFound("bot", id))

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Contains(t, err.Error(), "bot not found: "+id.String())
}

func TestInvalid(t *testing.T) {
	assert.NoError(t, Invalid(nil))

	err := Invalid(errors.New("trade_percentage must be in (0, 1]"))
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Contains(t, err.Error(), "trade_percentage")
}
