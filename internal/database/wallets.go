package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trogers1052/bot-copy-service/internal/apperrors"
	"github.com/trogers1052/bot-copy-service/internal/models"
)

const walletColumns = `id, user_id, balance, updated_at`

const holdingColumns = `id, wallet_id, coin_symbol, quantity, average_buy_price, updated_at`

func getWallet(ctx context.Context, q querier, userID uuid.UUID, forUpdate bool) (*models.Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets WHERE user_id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var w models.Wallet
	err := q.QueryRowContext(ctx, query, userID).Scan(&w.ID, &w.UserID, &w.Balance, &w.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("wallet", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &w, nil
}

func getHolding(ctx context.Context, q querier, walletID uuid.UUID, coin string, forUpdate bool) (*models.Holding, error) {
	query := `SELECT ` + holdingColumns + ` FROM holdings WHERE wallet_id = $1 AND coin_symbol = $2`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var h models.Holding
	err := q.QueryRowContext(ctx, query, walletID, coin).Scan(
		&h.ID, &h.WalletID, &h.CoinSymbol, &h.Quantity, &h.AverageBuyPrice, &h.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holding: %w", err)
	}
	return &h, nil
}

// GetWalletByUser returns the user's wallet without locking it
func (db *DB) GetWalletByUser(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return getWallet(ctx, db.conn, userID, false)
}

// GetHolding returns the holding of coin in a wallet, nil when absent
func (db *DB) GetHolding(ctx context.Context, walletID uuid.UUID, coin string) (*models.Holding, error) {
	return getHolding(ctx, db.conn, walletID, coin, false)
}

// GetWalletForUpdate locks and returns the user's wallet
func (tx *Tx) GetWalletForUpdate(ctx context.Context, userID uuid.UUID) (*models.Wallet, error) {
	return getWallet(ctx, tx.q, userID, true)
}

// GetHoldingForUpdate locks and returns the holding, nil when absent
func (tx *Tx) GetHoldingForUpdate(ctx context.Context, walletID uuid.UUID, coin string) (*models.Holding, error) {
	return getHolding(ctx, tx.q, walletID, coin, true)
}

// UpdateWalletBalance sets a wallet's balance
func (tx *Tx) UpdateWalletBalance(ctx context.Context, walletID uuid.UUID, balance decimal.Decimal) error {
	result, err := tx.q.ExecContext(ctx,
		`UPDATE wallets SET balance = $2, updated_at = $3 WHERE id = $1`,
		walletID, balance, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperrors.NotFound("wallet", walletID)
	}
	return nil
}

// SaveHolding inserts the holding or updates the existing (wallet, coin) row
func (tx *Tx) SaveHolding(ctx context.Context, h *models.Holding) error {
	query := `
		INSERT INTO holdings (id, wallet_id, coin_symbol, quantity, average_buy_price, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (wallet_id, coin_symbol) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			average_buy_price = EXCLUDED.average_buy_price,
			updated_at = EXCLUDED.updated_at
		RETURNING id
	`
	if h.ID == uuid.Nil {
		h.ID = uuid.New()
	}
	h.UpdatedAt = time.Now().UTC()
	err := tx.q.QueryRowContext(ctx, query,
		h.ID, h.WalletID, h.CoinSymbol, h.Quantity, h.AverageBuyPrice, h.UpdatedAt,
	).Scan(&h.ID)
	if err != nil {
		return fmt.Errorf("failed to save holding %s: %w", h.CoinSymbol, err)
	}
	return nil
}
