// Package store declares the transactional unit of work the execution
// engine commits each subscription's trade through.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/bot-copy-service/internal/ledger"
	"github.com/trogers1052/bot-copy-service/internal/models"
)

// Tx is one subscription's unit of work: ledger rows plus the trade record.
// Everything done through a Tx commits or rolls back together.
type Tx interface {
	ledger.Store
	CreateTrade(ctx context.Context, t *models.Trade) error
	SumSubscriptionPnlSince(ctx context.Context, subscriptionID uuid.UUID, since time.Time) (decimal.Decimal, error)
}

// Transactor runs fn inside a fresh transaction, committing when fn returns
// nil and rolling back otherwise.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
