package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/trogers1052/bot-copy-service/internal/apperrors"
	"github.com/trogers1052/bot-copy-service/internal/models"
)

// GetBot retrieves a bot by its ID
func (db *DB) GetBot(ctx context.Context, id uuid.UUID) (*models.Bot, error) {
	query := `
		SELECT id, name, coin_symbol, fee_rate, status, created_at
		FROM bots
		WHERE id = $1
	`
	var b models.Bot
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&b.ID, &b.Name, &b.CoinSymbol, &b.FeeRate, &b.Status, &b.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("bot", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get bot: %w", err)
	}
	return &b, nil
}
