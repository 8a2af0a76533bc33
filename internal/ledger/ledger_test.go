package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/trogers1052/bot-copy-service/internal/apperrors"
	"github.com/trogers1052/bot-copy-service/internal/models"
)

// ---------------------------------------------------------------------------
// Mock Store
// ---------------------------------------------------------------------------

type mockStore struct {
	mu       sync.Mutex
	wallets  map[uuid.UUID]*models.Wallet
	holdings map[string]*models.Holding
	saveErr  error
}

func newMockStore() *mockStore {
	return &mockStore{
		wallets:  make(map[uuid.UUID]*models.Wallet),
		holdings: make(map[string]*models.Holding),
	}
}

func (m *mockStore) addWallet(userID uuid.UUID, balance string) *models.Wallet {
	w := &models.Wallet{ID: uuid.New(), UserID: userID, Balance: decimal.RequireFromString(balance)}
	m.wallets[userID] = w
	return w
}

func (m *mockStore) addHolding(w *models.Wallet, coin, qty, avg string) {
	m.holdings[w.ID.String()+coin] = &models.Holding{
		ID:              uuid.New(),
		WalletID:        w.ID,
		CoinSymbol:      coin,
		Quantity:        decimal.RequireFromString(qty),
		AverageBuyPrice: decimal.RequireFromString(avg),
	}
}

func (m *mockStore) GetWalletForUpdate(_ context.Context, userID uuid.UUID) (*models.Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[userID]
	if !ok {
		return nil, apperrors.NotFound("wallet", userID)
	}
	cp := *w
	return &cp, nil
}

func (m *mockStore) UpdateWalletBalance(_ context.Context, walletID uuid.UUID, balance decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.wallets {
		if w.ID == walletID {
			w.Balance = balance
			return nil
		}
	}
	return errors.New("wallet vanished")
}

func (m *mockStore) GetHoldingForUpdate(_ context.Context, walletID uuid.UUID, coin string) (*models.Holding, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.holdings[walletID.String()+coin]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (m *mockStore) SaveHolding(_ context.Context, h *models.Holding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	cp := *h
	m.holdings[h.WalletID.String()+h.CoinSymbol] = &cp
	return nil
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// ---------------------------------------------------------------------------
// Wallet
// ---------------------------------------------------------------------------

func TestLedger_DebitWallet(t *testing.T) {
	store := newMockStore()
	user := uuid.New()
	store.addWallet(user, "1000")
	l := New(store)

	w, err := l.DebitWallet(context.Background(), user, d("10"))
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(d("990")))
	assert.True(t, store.wallets[user].Balance.Equal(d("990")))
}

func TestLedger_DebitWallet_ExactBalanceReachesZero(t *testing.T) {
	store := newMockStore()
	user := uuid.New()
	store.addWallet(user, "25.5")

	w, err := New(store).DebitWallet(context.Background(), user, d("25.5"))
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
}

func TestLedger_DebitWallet_Insufficient(t *testing.T) {
	store := newMockStore()
	user := uuid.New()
	store.addWallet(user, "5")

	_, err := New(store).DebitWallet(context.Background(), user, d("10"))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)

	var ife *apperrors.InsufficientFundsError
	require.ErrorAs(t, err, &ife)
	assert.Equal(t, FiatAsset, ife.Asset)
	assert.True(t, ife.Shortfall().Equal(d("5")))
	// Balance untouched, never clamped
	assert.True(t, store.wallets[user].Balance.Equal(d("5")))
}

func TestLedger_DebitWallet_RejectsNonPositive(t *testing.T) {
	store := newMockStore()
	user := uuid.New()
	store.addWallet(user, "5")

	_, err := New(store).DebitWallet(context.Background(), user, decimal.Zero)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = New(store).CreditWallet(context.Background(), user, d("-1"))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestLedger_DebitWallet_MissingWallet(t *testing.T) {
	_, err := New(newMockStore()).DebitWallet(context.Background(), uuid.New(), d("1"))
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestLedger_CreditWallet(t *testing.T) {
	store := newMockStore()
	user := uuid.New()
	store.addWallet(user, "1")

	w, err := New(store).CreditWallet(context.Background(), user, d("2.25"))
	require.NoError(t, err)
	assert.True(t, w.Balance.Equal(d("3.25")))
}

// ---------------------------------------------------------------------------
// Holdings
// ---------------------------------------------------------------------------

func TestLedger_CreditHolding_FirstCreditCreatesRow(t *testing.T) {
	store := newMockStore()
	user := uuid.New()
	w := store.addWallet(user, "0")

	h, err := New(store).CreditHolding(context.Background(), user, "BTC", d("0.2"), d("50"))
	require.NoError(t, err)
	assert.Equal(t, w.ID, h.WalletID)
	assert.True(t, h.Quantity.Equal(d("0.2")))
	assert.True(t, h.AverageBuyPrice.Equal(d("50")))
	require.Contains(t, store.holdings, w.ID.String()+"BTC")
}

func TestLedger_CreditHolding_WeightedAverage(t *testing.T) {
	store := newMockStore()
	user := uuid.New()
	w := store.addWallet(user, "0")
	store.addHolding(w, "ETH", "1", "100")

	h, err := New(store).CreditHolding(context.Background(), user, "ETH", d("3"), d("200"))
	require.NoError(t, err)
	assert.True(t, h.Quantity.Equal(d("4")))
	// (1*100 + 3*200) / 4 = 175
	assert.True(t, h.AverageBuyPrice.Equal(d("175")), h.AverageBuyPrice.String())
}

func TestLedger_CreditHolding_FromEmptyPositionUsesIncomingPrice(t *testing.T) {
	store := newMockStore()
	user := uuid.New()
	w := store.addWallet(user, "0")
	store.addHolding(w, "SOL", "0", "80")

	h, err := New(store).CreditHolding(context.Background(), user, "SOL", d("2"), d("120"))
	require.NoError(t, err)
	assert.True(t, h.AverageBuyPrice.Equal(d("120")))
}

func TestLedger_DebitHolding(t *testing.T) {
	store := newMockStore()
	user := uuid.New()
	w := store.addWallet(user, "0")
	store.addHolding(w, "BTC", "1.5", "30000")

	h, err := New(store).DebitHolding(context.Background(), user, "BTC", d("0.5"))
	require.NoError(t, err)
	assert.True(t, h.Quantity.Equal(d("1")))
	assert.True(t, h.AverageBuyPrice.Equal(d("30000")))
}

func TestLedger_DebitHolding_Insufficient(t *testing.T) {
	store := newMockStore()
	user := uuid.New()
	w := store.addWallet(user, "0")
	store.addHolding(w, "BTC", "0.1", "30000")

	_, err := New(store).DebitHolding(context.Background(), user, "BTC", d("0.3"))
	var ife *apperrors.InsufficientFundsError
	require.ErrorAs(t, err, &ife)
	assert.Equal(t, "BTC", ife.Asset)
	assert.True(t, ife.Shortfall().Equal(d("0.2")))
	assert.True(t, store.holdings[w.ID.String()+"BTC"].Quantity.Equal(d("0.1")))
}

func TestLedger_DebitHolding_NoHolding(t *testing.T) {
	store := newMockStore()
	user := uuid.New()
	store.addWallet(user, "100")

	_, err := New(store).DebitHolding(context.Background(), user, "DOGE", d("1"))
	assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
}

func TestLedger_SaveHoldingError(t *testing.T) {
	store := newMockStore()
	user := uuid.New()
	store.addWallet(user, "0")
	store.saveErr = assert.AnError

	_, err := New(store).CreditHolding(context.Background(), user, "BTC", d("1"), d("1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to credit holding BTC")
}

func TestWeightedAverage(t *testing.T) {
	tests := []struct {
		name                    string
		qty, avg, addQty, price string
		want                    string
	}{
		{"no prior", "0", "0", "2", "10", "10"},
		{"equal weights", "1", "10", "1", "20", "15"},
		{"repeating decimal", "1", "1", "2", "2", "1.666666666666666667"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WeightedAverage(d(tt.qty), d(tt.avg), d(tt.addQty), d(tt.price))
			assert.True(t, got.Equal(d(tt.want)), got.String())
		})
	}
}
