package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/bot-copy-service/internal/apperrors"
	"github.com/trogers1052/bot-copy-service/internal/models"
	"github.com/trogers1052/bot-copy-service/internal/store/memstore"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store *memstore.Store
	eng   *Engine
	bot   *models.Bot
	user  uuid.UUID
	sub   *models.Subscription
}

func newFixture(t *testing.T, balance, fee string) *fixture {
	t.Helper()
	s := memstore.New()
	bot := &models.Bot{ID: uuid.New(), Name: "momentum", CoinSymbol: "BTC", FeeRate: d(fee)}
	s.AddBot(bot)
	user := uuid.New()
	s.AddWallet(user, d(balance))

	sub := &models.Subscription{
		ID:              uuid.New(),
		UserID:          user,
		BotID:           bot.ID,
		AllocatedAmount: d("100"),
		AllocatedCoin:   decimal.Zero,
		TradePercentage: d("0.1"),
		Active:          true,
		StartedAt:       time.Now(),
	}
	return &fixture{store: s, eng: New(s, nil), bot: bot, user: user, sub: sub}
}

func (f *fixture) execute(action models.Action, price string) (*models.Trade, error) {
	return f.eng.Execute(context.Background(), Request{
		Subscription: f.sub,
		Bot:          f.bot,
		Action:       action,
		Price:        d(price),
		SignalID:     uuid.NullUUID{UUID: uuid.New(), Valid: true},
	})
}

// ---------------------------------------------------------------------------
// BUY
// ---------------------------------------------------------------------------

func TestEngine_Buy_EndToEndScenario(t *testing.T) {
	f := newFixture(t, "1000", "0")

	trade, err := f.execute(models.ActionBuy, "50")
	require.NoError(t, err)

	assert.True(t, f.store.Balance(f.user).Equal(d("990")))
	h := f.store.HoldingOf(f.user, "BTC")
	require.NotNil(t, h)
	assert.True(t, h.Quantity.Equal(d("0.2")), h.Quantity.String())
	assert.True(t, h.AverageBuyPrice.Equal(d("50")))

	assert.Equal(t, models.ActionBuy, trade.Action)
	assert.True(t, trade.Quantity.Equal(d("0.2")))
	assert.True(t, trade.Fee.IsZero())
	assert.True(t, trade.RealizedPnl.IsZero())
	assert.True(t, trade.SignalID.Valid)
	assert.Len(t, f.store.Trades(), 1)
}

func TestEngine_Buy_FeeReducesQuantityNotDebit(t *testing.T) {
	f := newFixture(t, "1000", "0.025")

	trade, err := f.execute(models.ActionBuy, "50")
	require.NoError(t, err)

	// Wallet moves by exactly the notional
	assert.True(t, f.store.Balance(f.user).Equal(d("990")))
	// fee = 10 * 0.025 = 0.25, qty = 9.75 / 50 = 0.195
	assert.True(t, trade.Fee.Equal(d("0.25")))
	assert.True(t, trade.Quantity.Equal(d("0.195")), trade.Quantity.String())
	assert.True(t, trade.RealizedPnl.Equal(d("-0.25")))
	assert.True(t, f.store.HoldingOf(f.user, "BTC").Quantity.Equal(d("0.195")))
}

func TestEngine_Buy_SizesFromOriginalAllocation(t *testing.T) {
	f := newFixture(t, "1000", "0")

	for i := 0; i < 3; i++ {
		_, err := f.execute(models.ActionBuy, "50")
		require.NoError(t, err)
	}

	// Every trade spends 10% of the original 100 allocation
	assert.True(t, f.store.Balance(f.user).Equal(d("970")))
	assert.True(t, f.sub.AllocatedAmount.Equal(d("100")))
}

func TestEngine_Buy_AveragesAcrossFills(t *testing.T) {
	f := newFixture(t, "1000", "0")

	_, err := f.execute(models.ActionBuy, "50") // 0.2 @ 50
	require.NoError(t, err)
	_, err = f.execute(models.ActionBuy, "100") // 0.1 @ 100
	require.NoError(t, err)

	h := f.store.HoldingOf(f.user, "BTC")
	assert.True(t, h.Quantity.Equal(d("0.3")))
	// (0.2*50 + 0.1*100) / 0.3 = 66.666...
	assert.True(t, h.AverageBuyPrice.Round(6).Equal(d("66.666667")), h.AverageBuyPrice.String())
}

func TestEngine_Buy_InsufficientBalance(t *testing.T) {
	f := newFixture(t, "5", "0")

	_, err := f.execute(models.ActionBuy, "50")
	require.Error(t, err)

	var ife *apperrors.InsufficientFundsError
	require.ErrorAs(t, err, &ife)
	assert.True(t, ife.Shortfall().Equal(d("5")))

	assert.True(t, f.store.Balance(f.user).Equal(d("5")))
	assert.Nil(t, f.store.HoldingOf(f.user, "BTC"))
	assert.Empty(t, f.store.Trades())
}

func TestEngine_Buy_ZeroAllocationIsInvalidSize(t *testing.T) {
	f := newFixture(t, "1000", "0")
	f.sub.AllocatedAmount = decimal.Zero

	_, err := f.execute(models.ActionBuy, "50")
	assert.ErrorIs(t, err, apperrors.ErrInvalidTradeSize)
	assert.Empty(t, f.store.Trades())
}

// ---------------------------------------------------------------------------
// SELL
// ---------------------------------------------------------------------------

func TestEngine_Sell_RealizesPnlAgainstAverage(t *testing.T) {
	f := newFixture(t, "0", "0.01")
	f.sub.AllocatedCoin = d("2")
	f.store.AddHolding(f.user, "BTC", d("1"), d("40"))

	trade, err := f.execute(models.ActionSell, "50")
	require.NoError(t, err)

	// qty = 0.1 * 2 = 0.2; proceeds = 10; fee = 0.1
	assert.True(t, trade.Quantity.Equal(d("0.2")))
	assert.True(t, trade.Fee.Equal(d("0.1")))
	// (50 - 40) * 0.2 - 0.1 = 1.9
	assert.True(t, trade.RealizedPnl.Equal(d("1.9")), trade.RealizedPnl.String())
	assert.True(t, f.store.Balance(f.user).Equal(d("9.9")))
	assert.True(t, f.store.HoldingOf(f.user, "BTC").Quantity.Equal(d("0.8")))
}

func TestEngine_Sell_WithoutCoinAllocationUsesFiatBase(t *testing.T) {
	f := newFixture(t, "0", "0")
	f.store.AddHolding(f.user, "BTC", d("1"), d("60"))

	trade, err := f.execute(models.ActionSell, "50")
	require.NoError(t, err)

	// 0.1 * 100 / 50 = 0.2 coins, sold at a loss of 10 per coin
	assert.True(t, trade.Quantity.Equal(d("0.2")))
	assert.True(t, trade.RealizedPnl.Equal(d("-2")))
	assert.True(t, f.store.Balance(f.user).Equal(d("10")))
}

func TestEngine_Sell_InsufficientHoldingLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, "100", "0")
	f.sub.AllocatedCoin = d("10")
	f.store.AddHolding(f.user, "BTC", d("0.5"), d("40"))

	_, err := f.execute(models.ActionSell, "50")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)

	assert.True(t, f.store.Balance(f.user).Equal(d("100")))
	assert.True(t, f.store.HoldingOf(f.user, "BTC").Quantity.Equal(d("0.5")))
	assert.Empty(t, f.store.Trades())
}

func TestEngine_Sell_NoHolding(t *testing.T) {
	f := newFixture(t, "100", "0")

	_, err := f.execute(models.ActionSell, "50")
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
}

// ---------------------------------------------------------------------------
// Preconditions and atomicity
// ---------------------------------------------------------------------------

func TestEngine_RejectsBadRequests(t *testing.T) {
	f := newFixture(t, "1000", "0")

	_, err := f.execute(models.ActionBuy, "0")
	assert.ErrorIs(t, err, apperrors.ErrInvalidSignal)

	_, err = f.execute(models.ActionBuy, "-3")
	assert.ErrorIs(t, err, apperrors.ErrInvalidSignal)

	_, err = f.eng.Execute(context.Background(), Request{Subscription: f.sub, Bot: nil, Action: models.ActionBuy, Price: d("1")})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	other := *f.bot
	other.ID = uuid.New()
	_, err = f.eng.Execute(context.Background(), Request{Subscription: f.sub, Bot: &other, Action: models.ActionBuy, Price: d("1")})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	noCoin := *f.bot
	noCoin.CoinSymbol = ""
	_, err = f.eng.Execute(context.Background(), Request{Subscription: f.sub, Bot: &noCoin, Action: models.ActionBuy, Price: d("1")})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.True(t, f.store.Balance(f.user).Equal(d("1000")))
	assert.Empty(t, f.store.Trades())
}

func TestEngine_TradeWriteFailureRollsBackLedger(t *testing.T) {
	f := newFixture(t, "1000", "0")
	f.store.FailCreateTrade[f.sub.ID] = assert.AnError

	_, err := f.execute(models.ActionBuy, "50")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record trade")

	assert.True(t, f.store.Balance(f.user).Equal(d("1000")))
	assert.Nil(t, f.store.HoldingOf(f.user, "BTC"))
}

func TestEngine_DailyLossLimit(t *testing.T) {
	f := newFixture(t, "1000", "0")
	f.sub.MaxDailyLossPercentage = decimal.NewNullDecimal(d("5"))
	f.store.AddHolding(f.user, "BTC", d("10"), d("100"))
	f.store.AddTrade(&models.Trade{
		ID: uuid.New(), SubscriptionID: f.sub.ID, BotID: f.bot.ID, UserID: f.user,
		Action: models.ActionSell, RealizedPnl: d("-5"), CreatedAt: time.Now().UTC(),
	})

	// Limit is 5% of 100 = 5, already lost 5 today
	_, err := f.execute(models.ActionBuy, "50")
	assert.ErrorIs(t, err, apperrors.ErrDailyLossLimit)
	assert.True(t, f.store.Balance(f.user).Equal(d("1000")))

	f.sub.MaxDailyLossPercentage = decimal.NewNullDecimal(d("10"))
	_, err = f.execute(models.ActionBuy, "50")
	assert.NoError(t, err)
}

func TestEngine_ConcurrentExecutionsForSameUserDoNotLoseUpdates(t *testing.T) {
	f := newFixture(t, "1000", "0")
	otherBot := &models.Bot{ID: uuid.New(), Name: "mean-revert", CoinSymbol: "ETH", FeeRate: decimal.Zero}
	f.store.AddBot(otherBot)
	otherSub := *f.sub
	otherSub.ID = uuid.New()
	otherSub.BotID = otherBot.ID

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.execute(models.ActionBuy, "50")
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.eng.Execute(context.Background(), Request{
				Subscription: &otherSub, Bot: otherBot, Action: models.ActionBuy, Price: d("20"),
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// 40 buys of 10 each
	assert.True(t, f.store.Balance(f.user).Equal(d("600")), f.store.Balance(f.user).String())
	assert.True(t, f.store.HoldingOf(f.user, "BTC").Quantity.Equal(d("4")))
	assert.True(t, f.store.HoldingOf(f.user, "ETH").Quantity.Equal(d("10")))
	assert.Len(t, f.store.Trades(), 40)
	assert.Equal(t, 0, f.eng.locks.size())
}

func TestSellQuantity(t *testing.T) {
	sub := &models.Subscription{TradePercentage: d("0.5"), AllocatedAmount: d("100"), AllocatedCoin: d("3")}
	assert.True(t, SellQuantity(sub, d("10")).Equal(d("1.5")))

	sub.AllocatedCoin = decimal.Zero
	assert.True(t, SellQuantity(sub, d("10")).Equal(d("5")))
	assert.True(t, SellQuantity(sub, decimal.Zero).IsZero())
}
