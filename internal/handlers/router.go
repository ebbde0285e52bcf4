package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/skillsy/backend/internal/config"
	mW "github.com/skillsy/backend/internal/middleware"
	"github.com/skillsy/backend/internal/services"
	httpSwagger "github.com/swaggo/http-swagger"
)

type RouterDeps struct {
	Config      *config.Config
	Ledger      *services.CreditLedgerService
	Settlements *services.SessionSettlementService
	// Health reports backing store reachability; nil means always healthy.
	Health func(r *http.Request) error
}

func NewRouter(deps RouterDeps) http.Handler {
	cfg := deps.Config
	credits := NewCreditsHandler(deps.Ledger)
	sessions := NewSessionHandler(deps.Settlements)

	r := chi.NewRouter()

	// Middleware
	r.Use(mW.SecurityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(mW.Metrics)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if deps.Health != nil {
			if err := deps.Health(r); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	r.Handle("/metrics", promhttp.Handler())

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.RateLimit.RequestsPerMinute > 0 {
			r.Use(httprate.LimitByIP(cfg.RateLimit.RequestsPerMinute, time.Minute))
		}
		r.Use(mW.NewAuthMiddleware(cfg.JWT.SecretKey))

		r.Post("/credits/account", credits.OpenAccount)
		r.Get("/credits/balance", credits.GetBalance)
		r.Get("/credits/transactions", credits.ListTransactions)

		r.Get("/sessions", sessions.ListSessions)
		r.Post("/sessions/{sessionId}/start", sessions.StartSession)
		r.Post("/sessions/{sessionId}/cancel", sessions.CancelSession)
		r.Post("/sessions/{sessionId}/complete", sessions.CompleteSession)

		r.Group(func(r chi.Router) {
			r.Use(mW.RequireRole("admin"))
			r.Post("/admin/settlements/{sessionId}/retry", sessions.RetrySettlement)
		})
	})

	return r
}
