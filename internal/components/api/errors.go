// Package api defines the error envelope and reason codes shared by all
// HTTP handlers.
package api

import (
	"encoding/json"
	"net/http"
)

// Machine-readable reason codes carried in the error envelope. Clients
// branch on these, not on message text.
const (
	ReasonValidationFailed    = "validation_failed"
	ReasonUnauthenticated     = "unauthenticated"
	ReasonUnauthorized        = "unauthorized"
	ReasonNotFound            = "not_found"
	ReasonConflict            = "conflict"
	ReasonSeatLimit           = "seat_limit_reached"
	ReasonRateLimited         = "rate_limited"
	ReasonInviteExpired       = "invite_expired"
	ReasonUpstreamUnavailable = "upstream_unavailable"
	ReasonInternalError       = "internal_error"
)

// ErrorEnvelope is the JSON body returned for every error response.
type ErrorEnvelope struct {
	Code       int    `json:"code"`
	ReasonCode string `json:"reason_code,omitempty"`
	Message    string `json:"message"`
}

// WriteError writes a JSON error envelope with the given status code.
func WriteError(w http.ResponseWriter, code int, reasonCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(ErrorEnvelope{
		Code:       code,
		ReasonCode: reasonCode,
		Message:    message,
	})
}

// WriteBadRequest writes a 400 with the validation_failed reason.
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadRequest, ReasonValidationFailed, message)
}

// WriteUnauthenticated writes a 401.
func WriteUnauthenticated(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusUnauthorized, ReasonUnauthenticated, message)
}

// WriteForbidden writes a 403.
func WriteForbidden(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusForbidden, ReasonUnauthorized, message)
}

// WriteNotFound writes a 404.
func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, ReasonNotFound, message)
}

// WriteConflict writes a 409.
func WriteConflict(w http.ResponseWriter, reasonCode, message string) {
	WriteError(w, http.StatusConflict, reasonCode, message)
}

// WriteRateLimited writes a 429.
func WriteRateLimited(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusTooManyRequests, ReasonRateLimited, message)
}

// WriteUpstreamUnavailable writes a 502.
func WriteUpstreamUnavailable(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusBadGateway, ReasonUpstreamUnavailable, message)
}

// WriteInternalError writes a 500 with a generic message. Details stay in
// the server log.
func WriteInternalError(w http.ResponseWriter) {
	WriteError(w, http.StatusInternalServerError, ReasonInternalError, "internal server error")
}

// WriteJSON writes a success payload with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
