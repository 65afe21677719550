package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/akarpenko/settlement-system/internal/metrics"
	custommiddleware "github.com/akarpenko/settlement-system/internal/middleware"
)

// SetupRouter wires the HTTP routes and middleware.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(custommiddleware.HTTPMetrics)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.auth.RequireAdmin)

		r.Route("/vendor-wallets", func(r chi.Router) {
			r.Get("/pending-withdrawals", h.PendingWithdrawals)
			r.Post("/{id}/approve", h.ApproveWithdrawal)
			r.Post("/{id}/reject", h.RejectWithdrawal)
			r.Get("/reports", h.WithdrawalReports)
			r.Post("/release-pending-funds", h.ReleasePendingFunds)
			r.Post("/settlements", h.CreditSettlement)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/cash-collections", h.CreateCashCollection)
			r.Get("/cash-collections", h.CashCollections)
			r.Put("/{id}/mark-collected", h.MarkCollected)
		})
	})

	r.Route("/api/holder", func(r chi.Router) {
		r.Use(h.auth.RequireHolder)

		r.Post("/withdrawals", h.CreateWithdrawal)
		r.Get("/withdrawals", h.HolderWithdrawals)
		r.Get("/wallet", h.HolderWallet)
		r.Put("/fcm-token", h.SetFCMToken)
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, "not found", nil)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	})

	return r
}
