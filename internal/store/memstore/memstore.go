// Package memstore is an in-memory implementation of the repositories and
// the transactional store, used to exercise the engine without Postgres.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/trogers1052/bot-copy-service/internal/apperrors"
	"github.com/trogers1052/bot-copy-service/internal/models"
	"github.com/trogers1052/bot-copy-service/internal/store"
)

// Store keeps every table in maps guarded by a single mutex. Transactions
// hold the mutex for their whole duration and restore a snapshot on error.
type Store struct {
	mu sync.Mutex

	bots          map[uuid.UUID]*models.Bot
	wallets       map[uuid.UUID]*models.Wallet // keyed by user id
	holdings      map[holdingKey]*models.Holding
	subscriptions map[uuid.UUID]*models.Subscription
	signals       map[uuid.UUID]*models.Signal
	trades        []*models.Trade

	// FailCreateTrade makes CreateTrade fail for the given subscription,
	// after the ledger has already been mutated inside the transaction.
	FailCreateTrade map[uuid.UUID]error
}

type holdingKey struct {
	walletID uuid.UUID
	coin     string
}

var _ store.Transactor = (*Store)(nil)

// New creates an empty store
func New() *Store {
	return &Store{
		bots:            make(map[uuid.UUID]*models.Bot),
		wallets:         make(map[uuid.UUID]*models.Wallet),
		holdings:        make(map[holdingKey]*models.Holding),
		subscriptions:   make(map[uuid.UUID]*models.Subscription),
		signals:         make(map[uuid.UUID]*models.Signal),
		FailCreateTrade: make(map[uuid.UUID]error),
	}
}

// ---------------------------------------------------------------------------
// Seeding helpers
// ---------------------------------------------------------------------------

// AddBot stores a bot
func (s *Store) AddBot(b *models.Bot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.bots[b.ID] = &cp
}

// AddWallet creates a wallet for user with the given balance
func (s *Store) AddWallet(userID uuid.UUID, balance decimal.Decimal) *models.Wallet {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := &models.Wallet{ID: uuid.New(), UserID: userID, Balance: balance}
	s.wallets[userID] = w
	cp := *w
	return &cp
}

// AddHolding sets the user's holding of coin
func (s *Store) AddHolding(userID uuid.UUID, coin string, qty, avg decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.wallets[userID]
	s.holdings[holdingKey{w.ID, coin}] = &models.Holding{
		ID: uuid.New(), WalletID: w.ID, CoinSymbol: coin, Quantity: qty, AverageBuyPrice: avg,
	}
}

// AddTrade appends a trade outside of any execution
func (s *Store) AddTrade(t *models.Trade) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.trades = append(s.trades, &cp)
}

// Trades returns a copy of all trades in insertion order
func (s *Store) Trades() []models.Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Trade, len(s.trades))
	for i, t := range s.trades {
		out[i] = *t
	}
	return out
}

// Balance returns the user's fiat balance
func (s *Store) Balance(userID uuid.UUID) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.wallets[userID]; ok {
		return w.Balance
	}
	return decimal.Zero
}

// HoldingOf returns a copy of the user's holding of coin, nil when absent
func (s *Store) HoldingOf(userID uuid.UUID, coin string) *models.Holding {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil
	}
	h, ok := s.holdings[holdingKey{w.ID, coin}]
	if !ok {
		return nil
	}
	cp := *h
	return &cp
}

// ---------------------------------------------------------------------------
// Transactions
// ---------------------------------------------------------------------------

// InTx runs fn with exclusive access, rolling ledger and trade state back
// when fn fails.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshot()
	if err := fn(ctx, &txView{s: s}); err != nil {
		s.restore(snap)
		return err
	}
	return nil
}

type snapshot struct {
	wallets  map[uuid.UUID]models.Wallet
	holdings map[holdingKey]models.Holding
	trades   int
}

func (s *Store) snapshot() snapshot {
	snap := snapshot{
		wallets:  make(map[uuid.UUID]models.Wallet, len(s.wallets)),
		holdings: make(map[holdingKey]models.Holding, len(s.holdings)),
		trades:   len(s.trades),
	}
	for k, w := range s.wallets {
		snap.wallets[k] = *w
	}
	for k, h := range s.holdings {
		snap.holdings[k] = *h
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.wallets = make(map[uuid.UUID]*models.Wallet, len(snap.wallets))
	for k, w := range snap.wallets {
		w := w
		s.wallets[k] = &w
	}
	s.holdings = make(map[holdingKey]*models.Holding, len(snap.holdings))
	for k, h := range snap.holdings {
		h := h
		s.holdings[k] = &h
	}
	s.trades = s.trades[:snap.trades]
}

// txView accesses the maps directly; the caller already holds s.mu
type txView struct {
	s *Store
}

func (t *txView) GetWalletForUpdate(_ context.Context, userID uuid.UUID) (*models.Wallet, error) {
	w, ok := t.s.wallets[userID]
	if !ok {
		return nil, apperrors.NotFound("wallet", userID)
	}
	cp := *w
	return &cp, nil
}

func (t *txView) UpdateWalletBalance(_ context.Context, walletID uuid.UUID, balance decimal.Decimal) error {
	for _, w := range t.s.wallets {
		if w.ID == walletID {
			w.Balance = balance
			return nil
		}
	}
	return apperrors.NotFound("wallet", walletID)
}

func (t *txView) GetHoldingForUpdate(_ context.Context, walletID uuid.UUID, coin string) (*models.Holding, error) {
	h, ok := t.s.holdings[holdingKey{walletID, coin}]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

func (t *txView) SaveHolding(_ context.Context, h *models.Holding) error {
	cp := *h
	t.s.holdings[holdingKey{h.WalletID, h.CoinSymbol}] = &cp
	return nil
}

func (t *txView) CreateTrade(_ context.Context, tr *models.Trade) error {
	if err := t.s.FailCreateTrade[tr.SubscriptionID]; err != nil {
		return err
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	cp := *tr
	t.s.trades = append(t.s.trades, &cp)
	return nil
}

func (t *txView) SumSubscriptionPnlSince(_ context.Context, subscriptionID uuid.UUID, since time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, tr := range t.s.trades {
		if tr.SubscriptionID == subscriptionID && !tr.CreatedAt.Before(since) {
			sum = sum.Add(tr.RealizedPnl)
		}
	}
	return sum, nil
}

// ---------------------------------------------------------------------------
// Bots, wallets, holdings
// ---------------------------------------------------------------------------

// GetBot returns a bot by id
func (s *Store) GetBot(_ context.Context, id uuid.UUID) (*models.Bot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bots[id]
	if !ok {
		return nil, apperrors.NotFound("bot", id)
	}
	cp := *b
	return &cp, nil
}

// GetWalletByUser returns the user's wallet
func (s *Store) GetWalletByUser(_ context.Context, userID uuid.UUID) (*models.Wallet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.wallets[userID]
	if !ok {
		return nil, apperrors.NotFound("wallet", userID)
	}
	cp := *w
	return &cp, nil
}

// GetHolding returns the holding or nil when absent
func (s *Store) GetHolding(_ context.Context, walletID uuid.UUID, coin string) (*models.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.holdings[holdingKey{walletID, coin}]
	if !ok {
		return nil, nil
	}
	cp := *h
	return &cp, nil
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

// CreateSubscription stores a new subscription, enforcing one per (user, bot)
func (s *Store) CreateSubscription(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.subscriptions {
		if existing.UserID == sub.UserID && existing.BotID == sub.BotID {
			return apperrors.ErrDuplicateSubscription
		}
	}
	now := time.Now().UTC()
	sub.CreatedAt, sub.UpdatedAt = now, now
	cp := *sub
	s.subscriptions[sub.ID] = &cp
	return nil
}

// GetSubscription returns a subscription by id
func (s *Store) GetSubscription(_ context.Context, id uuid.UUID) (*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, apperrors.NotFound("subscription", id)
	}
	cp := *sub
	return &cp, nil
}

// UpdateSubscription overwrites an existing subscription
func (s *Store) UpdateSubscription(_ context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscriptions[sub.ID]; !ok {
		return apperrors.NotFound("subscription", sub.ID)
	}
	for _, other := range s.subscriptions {
		if other.ID != sub.ID && other.UserID == sub.UserID && other.BotID == sub.BotID {
			return apperrors.ErrDuplicateSubscription
		}
	}
	sub.UpdatedAt = time.Now().UTC()
	cp := *sub
	s.subscriptions[sub.ID] = &cp
	return nil
}

// SubscriptionExists reports whether user has any subscription to bot
func (s *Store) SubscriptionExists(_ context.Context, userID, botID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subscriptions {
		if sub.UserID == userID && sub.BotID == botID {
			return true, nil
		}
	}
	return false, nil
}

// ListActiveSubscriptionsByBot returns active subscriptions ordered by start
func (s *Store) ListActiveSubscriptionsByBot(_ context.Context, botID uuid.UUID) ([]*models.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Subscription
	for _, sub := range s.subscriptions {
		if sub.BotID == botID && sub.Active {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

// CountActiveSubscribers counts active subscriptions of a bot
func (s *Store) CountActiveSubscribers(ctx context.Context, botID uuid.UUID) (int64, error) {
	subs, err := s.ListActiveSubscriptionsByBot(ctx, botID)
	return int64(len(subs)), err
}

// SumAllocatedCapital sums allocated fiat over active subscriptions of a bot
func (s *Store) SumAllocatedCapital(ctx context.Context, botID uuid.UUID) (decimal.Decimal, error) {
	subs, err := s.ListActiveSubscriptionsByBot(ctx, botID)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, sub := range subs {
		sum = sum.Add(sub.AllocatedAmount)
	}
	return sum, nil
}

// ---------------------------------------------------------------------------
// Trades and signals
// ---------------------------------------------------------------------------

// ListTradesSince returns a bot's trades at or after since, oldest first
func (s *Store) ListTradesSince(_ context.Context, botID uuid.UUID, since time.Time) ([]*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Trade
	for _, t := range s.trades {
		if t.BotID == botID && !t.CreatedAt.Before(since) {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// SaveSignal stores a signal, returning false when its id already exists
func (s *Store) SaveSignal(_ context.Context, sig *models.Signal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.signals[sig.ID]; ok {
		return false, nil
	}
	sig.CreatedAt = time.Now().UTC()
	cp := *sig
	s.signals[sig.ID] = &cp
	return true, nil
}

// DeleteSignal removes one signal
func (s *Store) DeleteSignal(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.signals, id)
	return nil
}

// LastSignalTime returns the latest emission time of a bot's signals
func (s *Store) LastSignalTime(_ context.Context, botID uuid.UUID) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *time.Time
	for _, sig := range s.signals {
		if sig.BotID != botID {
			continue
		}
		if last == nil || sig.EmittedAt.After(*last) {
			t := sig.EmittedAt
			last = &t
		}
	}
	return last, nil
}

// DeleteSignalsBefore removes signals emitted before cutoff that no trade
// references
func (s *Store) DeleteSignalsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	referenced := make(map[uuid.UUID]bool)
	for _, t := range s.trades {
		if t.SignalID.Valid {
			referenced[t.SignalID.UUID] = true
		}
	}
	var n int64
	for id, sig := range s.signals {
		if sig.EmittedAt.Before(cutoff) && !referenced[id] {
			delete(s.signals, id)
			n++
		}
	}
	return n, nil
}
