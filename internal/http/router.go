// Package httpserver wires the HTTP surface: session lifecycle, extracted
// events, calendar authorization, settings, and sync.
package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/time/rate"

	"github.com/briefly-app/briefly/internal/capture"
	"github.com/briefly-app/briefly/internal/config"
	"github.com/briefly-app/briefly/internal/google"
	"github.com/briefly-app/briefly/internal/http/ratelimit"
	"github.com/briefly-app/briefly/internal/metrics"
	"github.com/briefly-app/briefly/internal/store"
	"github.com/briefly-app/briefly/internal/syncer"
)

// Handler carries the services route handlers operate on.
type Handler struct {
	cfg      *config.Config
	store    *store.Store
	capture  *capture.Orchestrator
	oauth    *google.OAuthClient
	calendar *google.CalendarClient
	syncer   *syncer.Syncer
	logger   *slog.Logger
}

// NewHandler assembles the route handlers.
func NewHandler(cfg *config.Config, st *store.Store, orch *capture.Orchestrator, oauth *google.OAuthClient, cal *google.CalendarClient, sync *syncer.Syncer, logger *slog.Logger) *Handler {
	return &Handler{
		cfg:      cfg,
		store:    st,
		capture:  orch,
		oauth:    oauth,
		calendar: cal,
		syncer:   sync,
		logger:   logger,
	}
}

// NewRouter wires all HTTP routes.
func NewRouter(cfg *config.Config, h *Handler) http.Handler {
	r := chi.NewRouter()

	// Auth endpoints: 5 requests per second, burst of 10
	authRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(5), 10, 5*time.Minute, cfg.TrustedProxies)
	// API endpoints: 20 requests per second, burst of 50
	apiRateLimiter := ratelimit.NewIPRateLimiter(rate.Limit(20), 50, 5*time.Minute, cfg.TrustedProxies)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := h.store.HealthCheck(ctx); err != nil {
			http.Error(w, "unready", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if cfg.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	r.Route("/auth", func(r chi.Router) {
		r.Use(authRateLimiter.Middleware())
		r.Get("/connect/{owner}", h.Connect)
		r.Get("/callback", h.Callback)
	})

	r.Route("/users/{owner}", func(r chi.Router) {
		r.Use(apiRateLimiter.Middleware())

		r.Post("/session", h.StartSession)
		r.Post("/session/messages", h.AppendMessage)
		r.Post("/session/close", h.CloseSession)
		r.Post("/session/cancel", h.CancelSession)
		r.Get("/sessions", h.ListSessions)

		r.Get("/events", h.ListEvents)
		r.Delete("/events/{id}", h.DeleteEvent)
		r.Get("/events/{id}/conflicts", h.EventConflicts)

		r.Get("/calendars", h.ListCalendars)
		r.Post("/calendar/revoke", h.Revoke)

		r.Get("/settings", h.GetSettings)
		r.Put("/settings", h.UpdateSettings)

		r.Post("/sync", h.SyncEvents)
	})

	return r
}
