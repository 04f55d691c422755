package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/xtrntr/marketplace/internal/auth"
	"github.com/xtrntr/marketplace/internal/market"
	"github.com/xtrntr/marketplace/internal/models"
)

type ctxKey string

const callerKey ctxKey = "caller"

// SaleReader reads recorded sales
type SaleReader interface {
	GetUserSales(ctx context.Context, username string) ([]models.Sale, error)
}

// AccountReader reads ledger balances
type AccountReader interface {
	GetAccount(ctx context.Context, id string) (models.Account, error)
}

// Handler contains dependencies for HTTP handlers
type Handler struct {
	Registry    *market.Registry
	AuthService *auth.AuthService
	Sales       SaleReader
	Accounts    AccountReader
	Logger      *slog.Logger
}

// NewHandler creates a new handler
func NewHandler(reg *market.Registry, authService *auth.AuthService, sales SaleReader, accounts AccountReader, logger *slog.Logger) *Handler {
	return &Handler{Registry: reg, AuthService: authService, Sales: sales, Accounts: accounts, Logger: logger}
}

// Register handles user registration
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Username == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Username and password required")
		return
	}

	user, err := h.AuthService.Register(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to register user")
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"id":       user.ID,
		"username": user.Username,
	})
}

// Login handles user login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := h.AuthService.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

// JWTAuthMiddleware verifies JWT tokens
func (h *Handler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		// Remove "Bearer " prefix if present
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		username, err := h.AuthService.GetUserFromToken(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		ctx := context.WithValue(r.Context(), callerKey, username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func callerFrom(r *http.Request) (string, bool) {
	caller, ok := r.Context().Value(callerKey).(string)
	return caller, ok && caller != ""
}

func assetIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "assetID"), 10, 64)
}

// CreateListing escrows the caller's asset and lists it
func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		AssetID *int64 `json:"asset_id"`
		Price   *int64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.AssetID == nil || req.Price == nil {
		writeError(w, http.StatusBadRequest, "asset_id and price required")
		return
	}

	slot, err := h.Registry.List(r.Context(), caller, *req.AssetID, *req.Price)
	if err != nil {
		h.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, slot)
}

// ModifyListing changes the price of the caller's listing
func (h *Handler) ModifyListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	assetID, err := assetIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid asset ID")
		return
	}

	var req struct {
		Price *int64 `json:"price"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Price == nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	slot, err := h.Registry.Modify(r.Context(), caller, assetID, *req.Price)
	if err != nil {
		h.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

// CancelListing retires the caller's listing and returns the asset
func (h *Handler) CancelListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	assetID, err := assetIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid asset ID")
		return
	}

	if err := h.Registry.Cancel(r.Context(), caller, assetID); err != nil {
		h.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Listing canceled"})
}

// BuyListing settles a purchase with the attached amount
func (h *Handler) BuyListing(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}
	assetID, err := assetIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid asset ID")
		return
	}

	var req struct {
		Amount int64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	sale, err := h.Registry.Buy(r.Context(), caller, assetID, req.Amount)
	if err != nil {
		h.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sale)
}

// SetFeeRate changes the fee rate; administrator only
func (h *Handler) SetFeeRate(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req struct {
		Rate *int64 `json:"rate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Rate == nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.Registry.SetFeeRate(r.Context(), caller, *req.Rate); err != nil {
		h.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"fee_rate": *req.Rate})
}

// GetFeeRate returns the current fee rate
func (h *Handler) GetFeeRate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"fee_rate": h.Registry.FeeRate()})
}

// GetListings returns every reachable listing
func (h *Handler) GetListings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Registry.ActiveListings())
}

// GetListingCount returns the number of slots, live or cleared
func (h *Handler) GetListingCount(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"count": h.Registry.ListingCount()})
}

// GetListingAt returns the listing stored at a position
func (h *Handler) GetListingAt(w http.ResponseWriter, r *http.Request) {
	pos, err := strconv.Atoi(chi.URLParam(r, "position"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid position")
		return
	}

	listing, err := h.Registry.ListingAt(pos)
	if err != nil {
		h.writeRegistryError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models.Slot{Position: pos, Listing: listing})
}

// GetAssetListing returns the reachable listing for an asset
func (h *Handler) GetAssetListing(w http.ResponseWriter, r *http.Request) {
	assetID, err := assetIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid asset ID")
		return
	}

	slot, ok := h.Registry.Lookup(assetID)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "No listing for asset", Code: market.CodeNoSuchListing})
		return
	}
	writeJSON(w, http.StatusOK, slot)
}

// GetUserSales retrieves the caller's sale history
func (h *Handler) GetUserSales(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	sales, err := h.Sales.GetUserSales(r.Context(), caller)
	if err != nil {
		h.Logger.Error("failed to retrieve sales", "caller", caller, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve sales")
		return
	}
	if sales == nil {
		sales = []models.Sale{}
	}
	writeJSON(w, http.StatusOK, sales)
}

// GetAccount returns the caller's balance
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	acct, err := h.Accounts.GetAccount(r.Context(), caller)
	if err != nil {
		writeError(w, http.StatusNotFound, "Account not found")
		return
	}
	writeJSON(w, http.StatusOK, acct)
}
