// Package httpapi assembles the chi router for the public API.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/restyle-app/server/internal/http/handlers"
	"github.com/restyle-app/server/internal/infra"
	"github.com/restyle-app/server/internal/middleware"
)

func NewRouter(app *handlers.App, cfg *infra.Config, logger *infra.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		middleware.Logger(*logger),
		middleware.CORS(cfg.AllowedOrigins),
		middleware.RateLimit(cfg.RateLimitPerMin, time.Minute),
	)

	r.Get("/v1/healthz", app.Health)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth)

		r.Route("/v1/generations", func(r chi.Router) {
			r.Post("/", app.GenerationsSubmit)
			r.Get("/", app.GenerationsList)
			r.Get("/{job_id}", app.GenerationStatus)
		})

		r.Post("/v1/stocks", app.StocksUpload)

		r.Route("/v1/credits", func(r chi.Router) {
			r.Get("/", app.CreditsBalance)
			r.Get("/transactions", app.CreditsHistory)
		})
	})

	return r
}
