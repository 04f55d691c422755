package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes mounts the public and authenticated endpoints on r
func (h *Handler) Routes(r chi.Router, ws http.Handler) {
	// Public endpoints
	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)
	r.Get("/fee", h.GetFeeRate)
	r.Get("/listings", h.GetListings)
	r.Get("/listings/{assetID}", h.GetAssetListing)
	r.Get("/slots/count", h.GetListingCount)
	r.Get("/slots/{position}", h.GetListingAt)
	if ws != nil {
		r.Get("/ws", ws.ServeHTTP)
	}

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(h.JWTAuthMiddleware)
		r.Post("/listings", h.CreateListing)
		r.Put("/listings/{assetID}", h.ModifyListing)
		r.Delete("/listings/{assetID}", h.CancelListing)
		r.Post("/listings/{assetID}/buy", h.BuyListing)
		r.Put("/fee", h.SetFeeRate)
		r.Get("/sales", h.GetUserSales)
		r.Get("/account", h.GetAccount)
	})
}
