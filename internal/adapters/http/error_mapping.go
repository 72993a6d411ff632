package httpadapter

import (
	"encoding/json"
	"net/http"

	"github.com/emad-noorizadeh/eval-rag/internal/core/domain"
)

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: domain.Kind(err)})
}

// statusFor maps error kinds to HTTP statuses. An expired or unknown session
// is 404 on the session surface but 410 mid-chat, so the chat handler
// overrides that one case.
func statusFor(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrConfigInvalid):
		return http.StatusUnprocessableEntity
	case domain.IsKind(err, domain.ErrDeadlineExceeded):
		return http.StatusGatewayTimeout
	case domain.IsKind(err, domain.ErrRetrievalBackend),
		domain.IsKind(err, domain.ErrGenerationBackend),
		domain.IsKind(err, domain.ErrMalformedResponse):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
