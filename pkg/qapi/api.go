// Package qapi is the webhook receiver: it accepts job service callbacks,
// records them in the ledger and exposes the ledger, health and metrics.
package qapi

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Api struct {
	Api    huma.API
	Router *chi.Mux
}

func NewApi() *Api {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(hideQuery)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)

	config := huma.DefaultConfig("apsflow webhooks", "1.0.0")
	config.Info.Description = "Receives Design Automation work item callbacks and serves the job ledger."

	api := humachi.New(router, config)

	return &Api{Api: api, Router: router}
}

// MountMetrics serves gatherer on GET /metrics.
func (a *Api) MountMetrics(gatherer prometheus.Gatherer) {
	a.Router.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}

// hideQuery keeps callback secrets out of the request log, which prints
// RequestURI. Handlers still read r.URL.
func hideQuery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "" {
			r = r.WithContext(r.Context())
			r.RequestURI = r.URL.Path
		}
		next.ServeHTTP(w, r)
	})
}
