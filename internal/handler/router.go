package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/codeshop-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.Logger(h.logger))

	r.Post("/webhook/midtrans", h.Webhook)
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Use(h.adminAuth.Middleware)

		r.Post("/orders", h.CreateOrder)
		r.Get("/orders/{number}", h.GetOrder)
		r.Get("/orders/{number}/deliveries", h.GetOrderDeliveries)
		r.Post("/orders/{number}/process", h.ProcessOrder)
		r.Post("/orders/{number}/cancel", h.CancelOrder)

		r.Get("/balance/{userID}", h.GetBalance)
		r.Get("/users/{userID}/orders", h.GetUserOrders)

		r.Post("/topups", h.CreateTopup)
		r.Get("/topups/{orderID}", h.GetTopup)

		r.Post("/stock", h.AddStock)
		r.Get("/stats", h.Stats)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
