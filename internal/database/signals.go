package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trogers1052/bot-copy-service/internal/models"
)

// SaveSignal stores a signal. It returns false when a signal with the same
// id was already stored, leaving the stored row untouched.
func (db *DB) SaveSignal(ctx context.Context, sig *models.Signal) (bool, error) {
	query := `
		INSERT INTO signals (id, bot_id, action, price, emitted_at, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`
	now := time.Now().UTC()
	result, err := db.conn.ExecContext(ctx, query,
		sig.ID, sig.BotID, string(sig.Action), sig.Price, sig.EmittedAt, sig.Confidence, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save signal: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to save signal: %w", err)
	}
	if rowsAffected == 0 {
		return false, nil
	}
	sig.CreatedAt = now
	return true, nil
}

// DeleteSignal removes one signal
func (db *DB) DeleteSignal(ctx context.Context, id uuid.UUID) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM signals WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete signal: %w", err)
	}
	return nil
}

// LastSignalTime returns the latest emission time of a bot's signals, nil
// when the bot has none.
func (db *DB) LastSignalTime(ctx context.Context, botID uuid.UUID) (*time.Time, error) {
	var last sql.NullTime
	err := db.conn.QueryRowContext(ctx,
		`SELECT MAX(emitted_at) FROM signals WHERE bot_id = $1`, botID,
	).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("failed to get last signal time: %w", err)
	}
	if !last.Valid {
		return nil, nil
	}
	t := last.Time.UTC()
	return &t, nil
}

// DeleteSignalsBefore removes signals emitted before cutoff that no trade
// references. Trade rows are never touched.
func (db *DB) DeleteSignalsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM signals s
		WHERE s.emitted_at < $1
		  AND NOT EXISTS (SELECT 1 FROM bot_trades t WHERE t.signal_id = s.id)
	`
	result, err := db.conn.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old signals: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
