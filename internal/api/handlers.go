package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/trogers1052/bot-copy-service/internal/apperrors"
	"github.com/trogers1052/bot-copy-service/internal/models"
)

// UserIDHeader identifies the calling user. Authentication happens upstream.
const UserIDHeader = "X-User-ID"

// SubscriptionService manages copy subscriptions
type SubscriptionService interface {
	CopyBot(ctx context.Context, userID uuid.UUID, params models.SubscriptionParams) (*models.Subscription, error)
	UpdateBotSub(ctx context.Context, subscriptionID, userID uuid.UUID, params models.SubscriptionParams) (*models.Subscription, error)
	ToggleSubscription(ctx context.Context, subscriptionID, userID uuid.UUID, active bool) (*models.Subscription, error)
}

// MetricsService computes bot performance
type MetricsService interface {
	Metrics(ctx context.Context, botID uuid.UUID) (*models.BotMetrics, error)
}

// SignalIntake accepts signals for fan-out
type SignalIntake interface {
	Accept(ctx context.Context, sig *models.Signal) (bool, error)
}

// Pinger is a dependency checked by the health endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the handler's collaborators. Database and Cache may be nil.
type Deps struct {
	Subscriptions SubscriptionService
	Analytics     MetricsService
	Intake        SignalIntake
	Database      Pinger
	Cache         Pinger
	Logger        *zap.Logger

	// SignalRateLimit is the per-bot webhook rate in signals per second;
	// zero disables limiting.
	SignalRateLimit float64
	SignalRateBurst int
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	subs      SubscriptionService
	analytics MetricsService
	intake    SignalIntake
	db        Pinger
	cache     Pinger
	limiter   *keyedLimiter
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandler creates a new Handler
func NewHandler(deps Deps) *Handler {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		subs:      deps.Subscriptions,
		analytics: deps.Analytics,
		intake:    deps.Intake,
		db:        deps.Database,
		cache:     deps.Cache,
		logger:    logger,
		now:       time.Now,
	}
	if deps.SignalRateLimit > 0 {
		h.limiter = newKeyedLimiter(deps.SignalRateLimit, deps.SignalRateBurst)
	}
	return h
}

// subscriptionRequest is the body of copyBot and updateBotSub
type subscriptionRequest struct {
	BotID                  *uuid.UUID          `json:"bot_id,omitempty"`
	AllocatedAmount        decimal.Decimal     `json:"allocated_amount"`
	AllocatedCoin          decimal.Decimal     `json:"allocated_coin"`
	TradePercentage        decimal.Decimal     `json:"trade_percentage"`
	MaxDailyLossPercentage decimal.NullDecimal `json:"max_daily_loss_percentage"`
}

func (r subscriptionRequest) params(botID uuid.UUID) models.SubscriptionParams {
	return models.SubscriptionParams{
		BotID:                  botID,
		AllocatedAmount:        r.AllocatedAmount,
		AllocatedCoin:          r.AllocatedCoin,
		TradePercentage:        r.TradePercentage,
		MaxDailyLossPercentage: r.MaxDailyLossPercentage,
	}
}

// IngestSignal handles POST /signals
func (h *Handler) IngestSignal(w http.ResponseWriter, r *http.Request) {
	var event models.SignalEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		respondMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if event.EventType != "" && event.EventType != models.SignalEventType {
		respondMessage(w, http.StatusBadRequest, "unsupported event_type "+event.EventType)
		return
	}

	sig, err := event.Data.ToSignal(h.now())
	if err != nil {
		respondMessage(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.limiter != nil && !h.limiter.allow(sig.BotID.String()) {
		respondMessage(w, http.StatusTooManyRequests, "signal rate limit exceeded for bot "+sig.BotID.String())
		return
	}

	created, err := h.intake.Accept(r.Context(), sig)
	if errors.Is(err, apperrors.ErrInvalidSignal) || errors.Is(err, apperrors.ErrNotFound) {
		h.respondError(w, err)
		return
	}
	if err != nil {
		h.logger.Error("signal intake failed", zap.String("signal_id", sig.ID.String()), zap.Error(err))
		respondMessage(w, http.StatusServiceUnavailable, "signal could not be queued")
		return
	}

	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	respondJSON(w, status, map[string]interface{}{
		"signal_id": sig.ID,
		"accepted":  created,
	})
}

// CopyBot handles POST /bots/{botID}/subscriptions
func (h *Handler) CopyBot(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(w, r)
	if !ok {
		return
	}
	botID, ok := pathUUID(w, r, "botID")
	if !ok {
		return
	}

	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.subs.CopyBot(r.Context(), userID, req.params(botID))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, sub)
}

// UpdateBotSub handles PUT /subscriptions/{id}
func (h *Handler) UpdateBotSub(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(w, r)
	if !ok {
		return
	}
	subID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	botID := uuid.Nil
	if req.BotID != nil {
		botID = *req.BotID
	}

	sub, err := h.subs.UpdateBotSub(r.Context(), subID, userID, req.params(botID))
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// ToggleSubscription handles PATCH /subscriptions/{id}/active
func (h *Handler) ToggleSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(w, r)
	if !ok {
		return
	}
	subID, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	var req struct {
		Active *bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondMessage(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Active == nil {
		respondMessage(w, http.StatusBadRequest, "active is required")
		return
	}

	sub, err := h.subs.ToggleSubscription(r.Context(), subID, userID, *req.Active)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

// GetBotMetrics handles GET /bots/{botID}/metrics
func (h *Handler) GetBotMetrics(w http.ResponseWriter, r *http.Request) {
	botID, ok := pathUUID(w, r, "botID")
	if !ok {
		return
	}

	m, err := h.analytics.Metrics(r.Context(), botID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, m)
}

// HealthCheck handles GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	services := map[string]string{}
	allHealthy := true

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			services["postgres"] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			services["postgres"] = "healthy"
		}
	} else {
		services["postgres"] = "not configured"
		allHealthy = false
	}

	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			services["redis"] = "unhealthy: " + err.Error()
		} else {
			services["redis"] = "healthy"
		}
	} else {
		services["redis"] = "not configured"
	}

	status := "healthy"
	if !allHealthy {
		status = "degraded"
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    status,
		"timestamp": h.now().UTC().Format(time.RFC3339),
		"services":  services,
	})
}

func userFromRequest(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	raw := r.Header.Get(UserIDHeader)
	if raw == "" {
		respondMessage(w, http.StatusUnauthorized, UserIDHeader+" header is required")
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		respondMessage(w, http.StatusBadRequest, "invalid "+UserIDHeader)
		return uuid.Nil, false
	}
	return id, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)[name])
	if err != nil {
		respondMessage(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

// respondError maps the error taxonomy onto HTTP statuses
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	var insufficient *apperrors.InsufficientFundsError
	switch {
	case errors.As(err, &insufficient):
		respondJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":     err.Error(),
			"asset":     insufficient.Asset,
			"required":  insufficient.Required,
			"available": insufficient.Available,
			"shortfall": insufficient.Shortfall(),
		})
	case errors.Is(err, apperrors.ErrNotFound):
		respondMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, apperrors.ErrUnauthorized):
		respondMessage(w, http.StatusForbidden, err.Error())
	case errors.Is(err, apperrors.ErrDuplicateSubscription):
		respondMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, apperrors.ErrInvalidInput), errors.Is(err, apperrors.ErrInvalidSignal):
		respondMessage(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("request failed", zap.Error(err))
		respondMessage(w, http.StatusInternalServerError, "internal server error")
	}
}

func respondMessage(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
