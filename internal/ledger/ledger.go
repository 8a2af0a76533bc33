// Package ledger applies wallet and holding mutations with their
// non-negativity and average-cost invariants. Persistence is delegated to a
// Store whose reads lock the returned rows for the enclosing transaction.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/bot-copy-service/internal/apperrors"
	"github.com/trogers1052/bot-copy-service/internal/models"
)

// FiatAsset is the quote currency wallets are denominated in
const FiatAsset = "USDT"

// PriceScale is the number of decimal places kept for average prices and
// derived quantities.
const PriceScale = 18

// Store is the row-level persistence the ledger runs on
type Store interface {
	// GetWalletForUpdate returns the user's wallet or a NotFound error
	GetWalletForUpdate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	UpdateWalletBalance(ctx context.Context, walletID uuid.UUID, balance decimal.Decimal) error
	// GetHoldingForUpdate returns nil, nil when the wallet holds no such coin
	GetHoldingForUpdate(ctx context.Context, walletID uuid.UUID, coin string) (*models.Holding, error)
	// SaveHolding inserts or updates the holding keyed by (wallet, coin)
	SaveHolding(ctx context.Context, h *models.Holding) error
}

// Ledger mutates balances through a Store
type Ledger struct {
	store Store
	now   func() time.Time
}

// New creates a Ledger bound to a store, usually a transaction
func New(store Store) *Ledger {
	return &Ledger{store: store, now: time.Now}
}

// Wallet returns the user's wallet
func (l *Ledger) Wallet(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return l.store.GetWalletForUpdate(ctx, userID)
}

// Holding returns the user's holding of coin, nil when none exists
func (l *Ledger) Holding(ctx context.Context, userID uuid.UUID, coin string) (*models.Holding, error) {
	w, err := l.store.GetWalletForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	return l.store.GetHoldingForUpdate(ctx, w.ID, coin)
}

// DebitWallet removes amount from the user's fiat balance
func (l *Ledger) DebitWallet(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	if err := requirePositive("debit amount", amount); err != nil {
		return nil, err
	}
	w, err := l.store.GetWalletForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	if w.Balance.LessThan(amount) {
		return nil, apperrors.Insufficient(FiatAsset, amount, w.Balance)
	}
	w.Balance = w.Balance.Sub(amount)
	if err := l.store.UpdateWalletBalance(ctx, w.ID, w.Balance); err != nil {
		return nil, fmt.Errorf("failed to debit wallet: %w", err)
	}
	w.UpdatedAt = l.now()
	return w, nil
}

// CreditWallet adds amount to the user's fiat balance
func (l *Ledger) CreditWallet(ctx context.Context, userID uuid.UUID, amount decimal.Decimal) (*models.Wallet, error) {
	if err := requirePositive("credit amount", amount); err != nil {
		return nil, err
	}
	w, err := l.store.GetWalletForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	w.Balance = w.Balance.Add(amount)
	if err := l.store.UpdateWalletBalance(ctx, w.ID, w.Balance); err != nil {
		return nil, fmt.Errorf("failed to credit wallet: %w", err)
	}
	w.UpdatedAt = l.now()
	return w, nil
}

// DebitHolding removes qty of coin. The average buy price is unchanged.
func (l *Ledger) DebitHolding(ctx context.Context, userID uuid.UUID, coin string, qty decimal.Decimal) (*models.Holding, error) {
	if err := requirePositive("debit quantity", qty); err != nil {
		return nil, err
	}
	w, err := l.store.GetWalletForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	h, err := l.store.GetHoldingForUpdate(ctx, w.ID, coin)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, apperrors.Insufficient(coin, qty, decimal.Zero)
	}
	if h.Quantity.LessThan(qty) {
		return nil, apperrors.Insufficient(coin, qty, h.Quantity)
	}
	h.Quantity = h.Quantity.Sub(qty)
	h.UpdatedAt = l.now()
	if err := l.store.SaveHolding(ctx, h); err != nil {
		return nil, fmt.Errorf("failed to debit holding %s: %w", coin, err)
	}
	return h, nil
}

// CreditHolding adds qty of coin bought at price, creating the holding on
// first credit and re-averaging the buy price otherwise.
func (l *Ledger) CreditHolding(ctx context.Context, userID uuid.UUID, coin string, qty, price decimal.Decimal) (*models.Holding, error) {
	if err := requirePositive("credit quantity", qty); err != nil {
		return nil, err
	}
	if err := requirePositive("price", price); err != nil {
		return nil, err
	}
	w, err := l.store.GetWalletForUpdate(ctx, userID)
	if err != nil {
		return nil, err
	}
	h, err := l.store.GetHoldingForUpdate(ctx, w.ID, coin)
	if err != nil {
		return nil, err
	}
	if h == nil {
		h = &models.Holding{
			ID:              uuid.New(),
			WalletID:        w.ID,
			CoinSymbol:      coin,
			Quantity:        decimal.Zero,
			AverageBuyPrice: decimal.Zero,
		}
	}
	h.AverageBuyPrice = WeightedAverage(h.Quantity, h.AverageBuyPrice, qty, price)
	h.Quantity = h.Quantity.Add(qty)
	h.UpdatedAt = l.now()
	if err := l.store.SaveHolding(ctx, h); err != nil {
		return nil, fmt.Errorf("failed to credit holding %s: %w", coin, err)
	}
	return h, nil
}

// WeightedAverage is the quantity-weighted mean of an existing position and
// an incoming fill. With no existing quantity it is the incoming price.
func WeightedAverage(qty, avg, addQty, price decimal.Decimal) decimal.Decimal {
	total := qty.Add(addQty)
	if !qty.IsPositive() || !total.IsPositive() {
		return price
	}
	cost := qty.Mul(avg).Add(addQty.Mul(price))
	return cost.DivRound(total, PriceScale)
}

func requirePositive(name string, v decimal.Decimal) error {
	if !v.IsPositive() {
		return apperrors.Invalid(fmt.Errorf("%s must be positive, got %s", name, v))
	}
	return nil
}
