package http

import (
	"walletfeed/internal/api/http/mw"
	"walletfeed/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func BuildRouter(api *API, logMW *mw.LoggingMiddleware) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	if logMW != nil {
		r.Use(logMW.Handler)
	}

	// tech endpoint not auth
	r.Get("/healthz", api.Healthz)
	r.Get("/readiness", api.Readiness)
	r.Mount("/metrics", metrics.Handler())

	r.Route("/api", func(apiR chi.Router) {
		apiR.Route("/accounts", func(acc chi.Router) {
			acc.Get("/{accountID}/activities", api.Activities)
		})
	})

	return r
}
