package api

import (
	"context"
	"net/http"

	"github.com/alecgard/famledger/internal/auth"
	"github.com/alecgard/famledger/internal/metrics"
	"github.com/alecgard/famledger/internal/ratelimit"
	"github.com/alecgard/famledger/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// RouterDeps holds all dependencies for the API router. Metrics, Limiter and
// Ping are optional.
type RouterDeps struct {
	Service        *service.Service
	Metrics        *metrics.Metrics
	Limiter        *ratelimit.Limiter
	Ping           func(ctx context.Context) error
	AllowedOrigins []string
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(slogRequestLogger(deps.Metrics))
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))

	r.Get("/health", healthHandler(deps.Ping))

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Exposition())
		r.Get("/api/v1/stats", deps.Metrics.Handler())
	}

	if deps.Service == nil {
		return r
	}

	authH := newAuthHandler(deps.Service)
	ledgerH := newLedgerHandler(deps.Service)
	messagesH := newMessagesHandler(deps.Service)

	var onReject []func()
	if deps.Metrics != nil {
		onReject = append(onReject, func() { deps.Metrics.IncRateLimitRejection("login") })
	}

	r.Route("/api/v1", func(ar chi.Router) {
		// Credential endpoints, throttled per client address.
		ar.Group(func(pr chi.Router) {
			pr.Use(ratelimit.Middleware(deps.Limiter, onReject...))
			pr.Post("/clusters", authH.SignupCluster)
			pr.Post("/auth/login", authH.Login)
		})

		// Session-authed routes.
		ar.Group(func(sr chi.Router) {
			sr.Use(auth.SessionMiddleware(deps.Service))

			sr.Post("/auth/logout", authH.Logout)
			sr.Get("/auth/session", authH.Session)

			sr.Get("/members", authH.ListMembers)
			sr.Post("/members", authH.ProvisionMember)

			sr.Get("/onboarding", authH.GetOnboarding)
			sr.Put("/onboarding", authH.SetOnboarding)

			sr.Get("/transactions", ledgerH.ListTransactions)
			sr.Post("/transactions", ledgerH.RecordTransaction)

			sr.Get("/requests", ledgerH.ListRequests)
			sr.Post("/requests", ledgerH.CreateRequest)
			sr.Post("/requests/{id}/resolve", ledgerH.ResolveRequest)
			sr.Post("/requests/{id}/fund", ledgerH.FundRequest)

			sr.Get("/messages", messagesH.List)
			sr.Post("/messages", messagesH.Send)
			sr.Post("/messages/{id}/read", messagesH.MarkRead)

			sr.Get("/analytics", ledgerH.Analytics)
			sr.Get("/insight", ledgerH.Insight)
		})
	})

	return r
}

func healthHandler(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
			return
		}
		if err := ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "store": "unreachable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "store": "connected"})
	}
}
