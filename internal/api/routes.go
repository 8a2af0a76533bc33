package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SetupRoutes configures all API routes. A nil gatherer omits /metrics.
func SetupRoutes(handler *Handler, gatherer prometheus.Gatherer) *mux.Router {
	r := mux.NewRouter()
	r.Use(handler.logRequests)

	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	if gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	api := r.PathPrefix("/api/v1").Subrouter()

	// Signal ingestion
	api.HandleFunc("/signals", handler.IngestSignal).Methods("POST")

	// Copy subscriptions
	api.HandleFunc("/bots/{botID}/subscriptions", handler.CopyBot).Methods("POST")
	api.HandleFunc("/subscriptions/{id}", handler.UpdateBotSub).Methods("PUT")
	api.HandleFunc("/subscriptions/{id}/active", handler.ToggleSubscription).Methods("PATCH")

	// Analytics
	api.HandleFunc("/bots/{botID}/metrics", handler.GetBotMetrics).Methods("GET")

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		h.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("took", time.Since(start)),
		)
	})
}
