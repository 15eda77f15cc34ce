package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"tokenScope/internal/wallet"
)

// Error codes returned in the JSON error body.
const (
	CodeBadRequest        = "bad_request"
	CodeNotFound          = "not_found"
	CodeUnavailable       = "unavailable"
	CodeUserRejected      = "user_rejected"
	CodeSignatureMismatch = "signature_mismatch"
	CodeNetworkMismatch   = "network_mismatch"
	CodeProviderError     = "provider_error"
)

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Code: code})
}

// writeWalletError maps connector failures onto distinct codes so the UI can
// tell a user rejection from a provider fault.
func writeWalletError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, wallet.ErrUserRejected):
		writeError(w, http.StatusForbidden, CodeUserRejected, err.Error())
	case errors.Is(err, wallet.ErrSignatureMismatch):
		writeError(w, http.StatusUnauthorized, CodeSignatureMismatch, err.Error())
	case errors.Is(err, wallet.ErrNetworkMismatch):
		writeError(w, http.StatusConflict, CodeNetworkMismatch, err.Error())
	case errors.Is(err, wallet.ErrUnknownWallet):
		writeError(w, http.StatusNotFound, CodeNotFound, err.Error())
	default:
		writeError(w, http.StatusBadGateway, CodeProviderError, err.Error())
	}
}
