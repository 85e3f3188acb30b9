package api

import (
	"net/http"

	mw "github.com/biomass-watch/biomass-api/internal/api/middleware"
	"github.com/biomass-watch/biomass-api/internal/api/response"
	"github.com/biomass-watch/biomass-api/internal/metrics"
	"github.com/go-chi/chi/v5"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	// Metrics may be nil; /metrics then answers 501.
	Metrics *metrics.Metrics

	HealthHandler http.HandlerFunc

	SubmitAOIHandler   http.HandlerFunc
	ListAOIsHandler    http.HandlerFunc
	FavoriteHandler    http.HandlerFunc
	AnalyzeHandler     http.HandlerFunc
	PollJobHandler     http.HandlerFunc
	ReportHandler      http.HandlerFunc
	MintShareHandler   http.HandlerFunc
	RevokeShareHandler http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Metrics(deps.Metrics))
	r.Use(mw.Recovery)

	// Public endpoints
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	} else {
		r.Get("/metrics", orNotImplemented(nil))
	}

	// Reports accept either an API key or the AOI's share token
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Optional)
		r.Use(deps.RateLimit.Limit)

		r.Get("/api/v1/aois/{aoiID}/report", orNotImplemented(deps.ReportHandler))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/aois", orNotImplemented(deps.SubmitAOIHandler))
		r.Get("/api/v1/aois", orNotImplemented(deps.ListAOIsHandler))
		r.Patch("/api/v1/aois/{aoiID}/favorite", orNotImplemented(deps.FavoriteHandler))
		r.Post("/api/v1/aois/{aoiID}/analyze", orNotImplemented(deps.AnalyzeHandler))
		r.Post("/api/v1/aois/{aoiID}/share", orNotImplemented(deps.MintShareHandler))
		r.Delete("/api/v1/aois/{aoiID}/share", orNotImplemented(deps.RevokeShareHandler))

		r.Get("/api/v1/jobs/{handle}", orNotImplemented(deps.PollJobHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
