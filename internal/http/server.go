package http

import (
	"net/http"

	"OrderSettlement/internal/services"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler, auth Auth) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Use(cors)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Signed by the provider, not by a user token.
	r.Post("/payments/callback", handler.ProviderCallback)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)

		r.Get("/cart", handler.GetCart)
		r.Put("/cart/items", handler.SetCartItem)

		r.Post("/checkout", handler.Checkout)
		r.Post("/checkout/preview", handler.PreviewDiscount)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", handler.ListOrders)
			r.Get("/{orderId}", handler.GetOrder)
			r.Post("/{orderId}/cancel", handler.CancelOrder)
			r.Post("/{orderId}/status", handler.TransitionOrder)
			r.Post("/{orderId}/payments", handler.RetryPayment)
			r.Post("/{orderId}/confirm-delivery", handler.ConfirmDelivery)
			r.With(requireRole(services.RoleDelivery)).Post("/{orderId}/proofs", handler.RecordProof)
			r.With(requireRole(services.RoleAdmin)).Post("/{orderId}/assign", handler.AssignDelivery)
		})

		r.Get("/payments/{paymentId}", handler.GetPayment)

		r.Route("/loyalty", func(r chi.Router) {
			r.Get("/balance", handler.LoyaltyBalance)
			r.Get("/rewards", handler.LoyaltyRewards)
			r.Get("/catalog", handler.LoyaltyCatalog)
			r.Post("/redeem", handler.Redeem)
		})

		r.Group(func(r chi.Router) {
			r.Use(requireRole(services.RoleAdmin))
			r.Post("/coupons", handler.CreateCoupon)
			r.Patch("/coupons/{code}", handler.SetCouponActive)
			r.Get("/commissions", handler.ListCommissions)
			r.Post("/commissions/{commissionId}/pay", handler.MarkCommissionPaid)
		})
	})

	return &Server{Router: r}
}
