// Package engine executes one bot signal against one subscription.
//
// Each execution is its own transaction: the wallet debit or credit, the
// holding change and the trade record commit together or not at all.
// Executions for the same user are serialized in-process, and the Postgres
// store additionally takes row locks on the wallet and holding.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/trogers1052/bot-copy-service/internal/apperrors"
	"github.com/trogers1052/bot-copy-service/internal/ledger"
	"github.com/trogers1052/bot-copy-service/internal/models"
	"github.com/trogers1052/bot-copy-service/internal/store"
)

// Request is a single subscription's share of a signal
type Request struct {
	Subscription *models.Subscription
	Bot          *models.Bot
	Action       models.Action
	Price        decimal.Decimal
	SignalID     uuid.NullUUID
}

// Engine applies trades to the ledger
type Engine struct {
	tx     store.Transactor
	locks  *userLocks
	logger *zap.Logger
	now    func() time.Time
}

// New creates an Engine committing through tx
func New(tx store.Transactor, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		tx:     tx,
		locks:  newUserLocks(),
		logger: logger,
		now:    time.Now,
	}
}

// Execute sizes the trade, checks funds, mutates the ledger and records the
// trade. On error nothing has been written.
func (e *Engine) Execute(ctx context.Context, req Request) (*models.Trade, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	sub := req.Subscription

	unlock := e.locks.lock(sub.UserID)
	defer unlock()

	var trade *models.Trade
	err := e.tx.InTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := e.checkDailyLoss(ctx, tx, sub); err != nil {
			return err
		}

		var err error
		switch req.Action {
		case models.ActionBuy:
			trade, err = e.buy(ctx, ledger.New(tx), req)
		case models.ActionSell:
			trade, err = e.sell(ctx, ledger.New(tx), req)
		}
		if err != nil {
			return err
		}

		if err := tx.CreateTrade(ctx, trade); err != nil {
			return fmt.Errorf("failed to record trade: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Debug("trade executed",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("user_id", sub.UserID.String()),
		zap.String("action", string(trade.Action)),
		zap.String("quantity", trade.Quantity.String()),
		zap.String("price", trade.Price.String()),
		zap.String("realized_pnl", trade.RealizedPnl.String()),
	)
	return trade, nil
}

func validate(req Request) error {
	if req.Subscription == nil {
		return apperrors.Invalid(fmt.Errorf("subscription is required"))
	}
	if req.Bot == nil || req.Bot.ID != req.Subscription.BotID {
		return apperrors.NotFound("bot", req.Subscription.BotID)
	}
	if req.Bot.CoinSymbol == "" {
		return &apperrors.NotFoundError{Entity: "coin for bot", ID: req.Bot.ID.String()}
	}
	if !req.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive, got %s", apperrors.ErrInvalidSignal, req.Price)
	}
	if req.Action != models.ActionBuy && req.Action != models.ActionSell {
		return fmt.Errorf("%w: unknown action %q", apperrors.ErrInvalidSignal, req.Action)
	}
	return nil
}

// buy spends tradePercentage of the allocated fiat. The fee is taken out of
// the notional, so the wallet moves by exactly the notional and fewer coins
// are credited.
func (e *Engine) buy(ctx context.Context, l *ledger.Ledger, req Request) (*models.Trade, error) {
	sub, bot := req.Subscription, req.Bot

	notional := sub.TradePercentage.Mul(sub.AllocatedAmount)
	if !notional.IsPositive() {
		return nil, fmt.Errorf("%w: buy notional %s", apperrors.ErrInvalidTradeSize, notional)
	}
	fee := notional.Mul(bot.FeeRate)
	qty := notional.Sub(fee).DivRound(req.Price, ledger.PriceScale)
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: buy quantity %s", apperrors.ErrInvalidTradeSize, qty)
	}

	if _, err := l.DebitWallet(ctx, sub.UserID, notional); err != nil {
		return nil, err
	}
	if _, err := l.CreditHolding(ctx, sub.UserID, bot.CoinSymbol, qty, req.Price); err != nil {
		return nil, err
	}

	return e.newTrade(req, qty, fee, fee.Neg()), nil
}

// sell disposes of a coin-denominated slice of the allocation and books
// PnL against the holding's average buy price.
func (e *Engine) sell(ctx context.Context, l *ledger.Ledger, req Request) (*models.Trade, error) {
	sub, bot := req.Subscription, req.Bot

	qty := SellQuantity(sub, req.Price)
	if !qty.IsPositive() {
		return nil, fmt.Errorf("%w: sell quantity %s", apperrors.ErrInvalidTradeSize, qty)
	}

	h, err := l.DebitHolding(ctx, sub.UserID, bot.CoinSymbol, qty)
	if err != nil {
		return nil, err
	}

	proceeds := qty.Mul(req.Price)
	fee := proceeds.Mul(bot.FeeRate)
	if net := proceeds.Sub(fee); net.IsPositive() {
		if _, err := l.CreditWallet(ctx, sub.UserID, net); err != nil {
			return nil, err
		}
	}

	pnl := req.Price.Sub(h.AverageBuyPrice).Mul(qty).Sub(fee)
	return e.newTrade(req, qty, fee, pnl), nil
}

// SellQuantity is tradePercentage of the allocated coin, or of the allocated
// fiat converted at price when no coin was allocated.
func SellQuantity(sub *models.Subscription, price decimal.Decimal) decimal.Decimal {
	if sub.AllocatedCoin.IsPositive() {
		return sub.TradePercentage.Mul(sub.AllocatedCoin)
	}
	if !price.IsPositive() {
		return decimal.Zero
	}
	return sub.TradePercentage.Mul(sub.AllocatedAmount).DivRound(price, ledger.PriceScale)
}

func (e *Engine) newTrade(req Request, qty, fee, pnl decimal.Decimal) *models.Trade {
	return &models.Trade{
		ID:             uuid.New(),
		SubscriptionID: req.Subscription.ID,
		BotID:          req.Bot.ID,
		UserID:         req.Subscription.UserID,
		SignalID:       req.SignalID,
		Action:         req.Action,
		Price:          req.Price,
		Quantity:       qty,
		Fee:            fee,
		RealizedPnl:    pnl,
		CreatedAt:      e.now().UTC(),
	}
}

func (e *Engine) checkDailyLoss(ctx context.Context, tx store.Tx, sub *models.Subscription) error {
	limit, ok := sub.DailyLossLimit()
	if !ok || !limit.IsPositive() {
		return nil
	}
	now := e.now().UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	pnl, err := tx.SumSubscriptionPnlSince(ctx, sub.ID, midnight)
	if err != nil {
		return fmt.Errorf("failed to load daily pnl: %w", err)
	}
	if pnl.LessThanOrEqual(limit.Neg()) {
		return fmt.Errorf("%w: realized %s today, limit -%s", apperrors.ErrDailyLossLimit, pnl, limit)
	}
	return nil
}
