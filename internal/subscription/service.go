// Package subscription manages users' copy subscriptions to bots.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/trogers1052/bot-copy-service/internal/apperrors"
	"github.com/trogers1052/bot-copy-service/internal/ledger"
	"github.com/trogers1052/bot-copy-service/internal/models"
)

// Repository defines the persistence the service needs
type Repository interface {
	GetBot(ctx context.Context, id uuid.UUID) (*models.Bot, error)
	GetWalletByUser(ctx context.Context, userID uuid.UUID) (*models.Wallet, error)
	GetHolding(ctx context.Context, walletID uuid.UUID, coin string) (*models.Holding, error)
	SubscriptionExists(ctx context.Context, userID, botID uuid.UUID) (bool, error)
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*models.Subscription, error)
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
}

// Service implements copyBot, updateBotSub and toggleSubscription
type Service struct {
	repo   Repository
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a Service
func NewService(repo Repository, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// CopyBot subscribes userID to params.BotID. A user may hold only one
// subscription per bot, active or not.
func (s *Service) CopyBot(ctx context.Context, userID uuid.UUID, params models.SubscriptionParams) (*models.Subscription, error) {
	if err := params.Validate(); err != nil {
		return nil, apperrors.Invalid(err)
	}

	exists, err := s.repo.SubscriptionExists(ctx, userID, params.BotID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing subscription: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("user %s already copies bot %s: %w", userID, params.BotID, apperrors.ErrDuplicateSubscription)
	}

	bot, err := s.repo.GetBot(ctx, params.BotID)
	if err != nil {
		return nil, err
	}
	if err := s.checkAssets(ctx, userID, bot, params); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sub := &models.Subscription{
		ID:        uuid.New(),
		UserID:    userID,
		Active:    true,
		StartedAt: now,
	}
	params.Apply(sub)

	if err := s.repo.CreateSubscription(ctx, sub); err != nil {
		if errors.Is(err, apperrors.ErrDuplicateSubscription) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create subscription: %w", err)
	}

	s.logger.Info("subscription created",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("user_id", userID.String()),
		zap.String("bot_id", bot.ID.String()),
		zap.String("allocated_amount", sub.AllocatedAmount.String()),
		zap.String("allocated_coin", sub.AllocatedCoin.String()),
		zap.String("trade_percentage", sub.TradePercentage.String()),
	)
	return sub, nil
}

// UpdateBotSub replaces the user-settable fields of a subscription owned by
// userID. A zero params.BotID keeps the current bot.
func (s *Service) UpdateBotSub(ctx context.Context, subscriptionID, userID uuid.UUID, params models.SubscriptionParams) (*models.Subscription, error) {
	sub, err := s.owned(ctx, subscriptionID, userID)
	if err != nil {
		return nil, err
	}

	if params.BotID == uuid.Nil {
		params.BotID = sub.BotID
	}
	if err := params.Validate(); err != nil {
		return nil, apperrors.Invalid(err)
	}

	if params.BotID != sub.BotID {
		exists, err := s.repo.SubscriptionExists(ctx, userID, params.BotID)
		if err != nil {
			return nil, fmt.Errorf("failed to check existing subscription: %w", err)
		}
		if exists {
			return nil, fmt.Errorf("user %s already copies bot %s: %w", userID, params.BotID, apperrors.ErrDuplicateSubscription)
		}
	}

	bot, err := s.repo.GetBot(ctx, params.BotID)
	if err != nil {
		return nil, err
	}
	if err := s.checkAssets(ctx, userID, bot, params); err != nil {
		return nil, err
	}

	params.Apply(sub)
	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		if errors.Is(err, apperrors.ErrDuplicateSubscription) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	s.logger.Info("subscription updated",
		zap.String("subscription_id", sub.ID.String()),
		zap.String("bot_id", sub.BotID.String()),
	)
	return sub, nil
}

// ToggleSubscription pauses or resumes a subscription owned by userID
func (s *Service) ToggleSubscription(ctx context.Context, subscriptionID, userID uuid.UUID, active bool) (*models.Subscription, error) {
	sub, err := s.owned(ctx, subscriptionID, userID)
	if err != nil {
		return nil, err
	}

	sub.SetActive(active, s.now().UTC())
	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}

	s.logger.Info("subscription toggled",
		zap.String("subscription_id", sub.ID.String()),
		zap.Bool("active", active),
	)
	return sub, nil
}

// owned loads a subscription and rejects callers that do not own it
func (s *Service) owned(ctx context.Context, subscriptionID, userID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, fmt.Errorf("subscription %s: %w", subscriptionID, apperrors.ErrUnauthorized)
	}
	return sub, nil
}

// checkAssets requires the wallet to cover the fiat allocation and, when
// coin is allocated, the holding of the bot's coin to cover it.
func (s *Service) checkAssets(ctx context.Context, userID uuid.UUID, bot *models.Bot, params models.SubscriptionParams) error {
	wallet, err := s.repo.GetWalletByUser(ctx, userID)
	if err != nil {
		return err
	}
	if wallet.Balance.LessThan(params.AllocatedAmount) {
		s.logger.Warn("insufficient balance for allocation",
			zap.String("user_id", userID.String()),
			zap.String("balance", wallet.Balance.String()),
			zap.String("allocated_amount", params.AllocatedAmount.String()),
		)
		return apperrors.Insufficient(ledger.FiatAsset, params.AllocatedAmount, wallet.Balance)
	}

	if !params.AllocatedCoin.IsPositive() {
		return nil
	}
	if bot.CoinSymbol == "" {
		return apperrors.NotFound("coin for bot", bot.ID)
	}
	holding, err := s.repo.GetHolding(ctx, wallet.ID, bot.CoinSymbol)
	if err != nil {
		return fmt.Errorf("failed to load %s holding: %w", bot.CoinSymbol, err)
	}
	held := decimal.Zero
	if holding != nil {
		held = holding.Quantity
	}
	if held.LessThan(params.AllocatedCoin) {
		return apperrors.Insufficient(bot.CoinSymbol, params.AllocatedCoin, held)
	}
	return nil
}
