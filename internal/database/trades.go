package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/trogers1052/bot-copy-service/internal/models"
)

// CreateTrade appends a trade record inside the transaction
func (tx *Tx) CreateTrade(ctx context.Context, t *models.Trade) error {
	query := `
		INSERT INTO bot_trades (
			id, subscription_id, bot_id, user_id, signal_id, action,
			price, quantity, fee, realized_pnl, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := tx.q.ExecContext(ctx, query,
		t.ID, t.SubscriptionID, t.BotID, t.UserID, t.SignalID, string(t.Action),
		t.Price, t.Quantity, t.Fee, t.RealizedPnl, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create trade: %w", err)
	}
	return nil
}

// SumSubscriptionPnlSince sums a subscription's realized PnL from since on
func (tx *Tx) SumSubscriptionPnlSince(ctx context.Context, subscriptionID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := tx.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(realized_pnl), 0) FROM bot_trades WHERE subscription_id = $1 AND created_at >= $2`,
		subscriptionID, since,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum subscription pnl: %w", err)
	}
	return sum, nil
}

// ListTradesSince returns a bot's trades created at or after since, oldest first
func (db *DB) ListTradesSince(ctx context.Context, botID uuid.UUID, since time.Time) ([]*models.Trade, error) {
	query := `
		SELECT id, subscription_id, bot_id, user_id, signal_id, action,
		       price, quantity, fee, realized_pnl, created_at
		FROM bot_trades
		WHERE bot_id = $1 AND created_at >= $2
		ORDER BY created_at, id
	`
	rows, err := db.conn.QueryContext(ctx, query, botID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	defer rows.Close()

	var trades []*models.Trade
	for rows.Next() {
		var t models.Trade
		var action string
		err := rows.Scan(
			&t.ID, &t.SubscriptionID, &t.BotID, &t.UserID, &t.SignalID, &action,
			&t.Price, &t.Quantity, &t.Fee, &t.RealizedPnl, &t.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.Action = models.Action(action)
		trades = append(trades, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list trades: %w", err)
	}
	return trades, nil
}
