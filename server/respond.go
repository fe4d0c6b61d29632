package server

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/simplenas/nas-gateway/broker"
	"github.com/simplenas/nas-gateway/upstream"
)

// apiResponse is the fixed success/message/data envelope every JSON endpoint
// answers with, mirroring what the web UI already expects.
type apiResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, resp apiResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}

func writeSuccess(w http.ResponseWriter, message string, data interface{}) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Message: message, Data: data})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, apiResponse{Success: false, Message: message})
}

// writeBrokerError maps the broker taxonomy onto HTTP statuses. Expired and
// never-logged-in both answer 401 but are logged distinctly so operators can
// tell a dying upstream session from a client that simply has no state.
func writeBrokerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, broker.ErrUnauthenticated):
		log.Debug().Str("path", r.URL.Path).Msg("request without valid local identity")
		writeError(w, http.StatusUnauthorized, "not logged in")
	case errors.Is(err, broker.ErrSessionExpired):
		log.Warn().Str("path", r.URL.Path).Msg("upstream session expired and could not be recovered")
		writeError(w, http.StatusUnauthorized, "session expired, please log in again")
	case errors.Is(err, broker.ErrInvalidCredentials):
		writeError(w, http.StatusBadRequest, "invalid account or password")
	case errors.Is(err, broker.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, broker.ErrTransport):
		log.Error().Err(err).Str("path", r.URL.Path).Msg("upstream unreachable")
		writeError(w, http.StatusBadGateway, "upstream NAS unreachable")
	default:
		var apiErr *upstream.APIError
		if errors.As(err, &apiErr) {
			writeError(w, http.StatusBadGateway, apiErr.Error())
			return
		}
		log.Error().Err(err).Str("path", r.URL.Path).Msg("unhandled error")
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func decodeJSONBody(r *http.Request, into interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return errors.Wrap(broker.ErrValidation, "request body must be valid JSON")
	}
	return nil
}
