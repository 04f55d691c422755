package api

import (
	"encoding/json"
	"net/http"

	"github.com/xtrntr/marketplace/internal/market"
)

// errorResponse is the JSON body of every failed request
type errorResponse struct {
	Error string      `json:"error"`
	Code  market.Code `json:"code,omitempty"`
}

// writeJSON writes v with the given status code
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error payload
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// statusFor maps a registry rejection code to an HTTP status
func statusFor(code market.Code) int {
	switch code {
	case market.CodeNotOwner, market.CodeNotSeller, market.CodeUnauthorized:
		return http.StatusForbidden
	case market.CodeNoSuchListing, market.CodeIndexOutOfRange:
		return http.StatusNotFound
	case market.CodeInsufficientPayment:
		return http.StatusPaymentRequired
	case market.CodeListingInactive:
		return http.StatusConflict
	case market.CodeInvalidRate, market.CodeInvalidPrice:
		return http.StatusBadRequest
	case market.CodeTransferFailed, market.CodePaymentFailed:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeRegistryError reports a rejected registry operation with its reason code
func (h *Handler) writeRegistryError(w http.ResponseWriter, r *http.Request, err error) {
	code := market.CodeOf(err)
	status := statusFor(code)
	if status == http.StatusInternalServerError {
		h.Logger.Error("registry operation failed", "path", r.URL.Path, "error", err)
		writeJSON(w, status, errorResponse{Error: "Internal error", Code: code})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Code: code})
}
