package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(RequestLogger(h.Logger))
	r.Use(Metrics)

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(h.requireAuth)

		r.Post("/contributions", h.Submit)
		r.Get("/contributions", h.ListContributions)
		r.Get("/contributions/{id}", h.GetContribution)
		r.Post("/contributions/{id}/reopen", h.Reopen)
		r.Get("/contributions/{id}/receipts", h.Receipts)

		r.Post("/decisions", h.Decide)

		r.Get("/verify/{receiptID}", h.Verify)
		r.Get("/wallets/{userID}", h.Wallet)
		r.Get("/stats", h.Stats)
	})
	return r
}
