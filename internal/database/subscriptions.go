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

const subscriptionColumns = `
	id, user_id, bot_id, allocated_amount, allocated_coin, trade_percentage,
	active, started_at, stopped_at, max_daily_loss_percentage, created_at, updated_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	var s models.Subscription
	var stoppedAt sql.NullTime
	err := row.Scan(
		&s.ID, &s.UserID, &s.BotID, &s.AllocatedAmount, &s.AllocatedCoin, &s.TradePercentage,
		&s.Active, &s.StartedAt, &stoppedAt, &s.MaxDailyLossPercentage, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if stoppedAt.Valid {
		t := stoppedAt.Time
		s.StoppedAt = &t
	}
	return &s, nil
}

// CreateSubscription inserts a new subscription. The (user_id, bot_id)
// unique index turns a concurrent duplicate into ErrDuplicateSubscription.
func (db *DB) CreateSubscription(ctx context.Context, s *models.Subscription) error {
	query := `
		INSERT INTO bot_subscriptions (
			id, user_id, bot_id, allocated_amount, allocated_coin, trade_percentage,
			active, started_at, stopped_at, max_daily_loss_percentage, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx, query,
		s.ID, s.UserID, s.BotID, s.AllocatedAmount, s.AllocatedCoin, s.TradePercentage,
		s.Active, s.StartedAt, s.StoppedAt, s.MaxDailyLossPercentage, now, now,
	)
	if isUniqueViolation(err) {
		return apperrors.ErrDuplicateSubscription
	}
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	s.CreatedAt = now
	s.UpdatedAt = now
	return nil
}

// GetSubscription retrieves a subscription by its ID
func (db *DB) GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM bot_subscriptions WHERE id = $1`
	s, err := scanSubscription(db.conn.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("subscription", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	return s, nil
}

// UpdateSubscription writes every mutable field of a subscription
func (db *DB) UpdateSubscription(ctx context.Context, s *models.Subscription) error {
	query := `
		UPDATE bot_subscriptions SET
			bot_id = $2, allocated_amount = $3, allocated_coin = $4, trade_percentage = $5,
			active = $6, stopped_at = $7, max_daily_loss_percentage = $8, updated_at = $9
		WHERE id = $1
	`
	s.UpdatedAt = time.Now().UTC()
	result, err := db.conn.ExecContext(ctx, query,
		s.ID, s.BotID, s.AllocatedAmount, s.AllocatedCoin, s.TradePercentage,
		s.Active, s.StoppedAt, s.MaxDailyLossPercentage, s.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return apperrors.ErrDuplicateSubscription
	}
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return apperrors.NotFound("subscription", s.ID)
	}
	return nil
}

// SubscriptionExists reports whether the user has any subscription, active
// or paused, to the bot.
func (db *DB) SubscriptionExists(ctx context.Context, userID, botID uuid.UUID) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM bot_subscriptions WHERE user_id = $1 AND bot_id = $2)`,
		userID, botID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check subscription: %w", err)
	}
	return exists, nil
}

// ListActiveSubscriptionsByBot returns a bot's active subscriptions, oldest first
func (db *DB) ListActiveSubscriptionsByBot(ctx context.Context, botID uuid.UUID) ([]*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + `
		FROM bot_subscriptions
		WHERE bot_id = $1 AND active = TRUE
		ORDER BY started_at`
	rows, err := db.conn.QueryContext(ctx, query, botID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*models.Subscription
	for rows.Next() {
		s, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan subscription: %w", err)
		}
		subs = append(subs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	return subs, nil
}

// CountActiveSubscribers counts a bot's active subscriptions
func (db *DB) CountActiveSubscribers(ctx context.Context, botID uuid.UUID) (int64, error) {
	var n int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bot_subscriptions WHERE bot_id = $1 AND active = TRUE`, botID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count subscribers: %w", err)
	}
	return n, nil
}

// SumAllocatedCapital sums allocated fiat across a bot's active subscriptions
func (db *DB) SumAllocatedCapital(ctx context.Context, botID uuid.UUID) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := db.conn.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(allocated_amount), 0) FROM bot_subscriptions WHERE bot_id = $1 AND active = TRUE`,
		botID,
	).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum allocated capital: %w", err)
	}
	return sum, nil
}
