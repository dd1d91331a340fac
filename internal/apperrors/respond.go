package apperrors

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"docuquery-api/internal/observability"
)

// Response is the error envelope per API standards.
type Response struct {
	Error Detail `json:"error"`
}

type Detail struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Respond writes err as a JSON envelope. Server errors are logged with the
// request logger; their cause never reaches the client.
func Respond(w http.ResponseWriter, r *http.Request, err error) {
	appErr := As(err)
	requestID := observability.RequestIDFrom(r.Context())

	if appErr.Status >= http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().
			Err(appErr.Err).
			Str("code", appErr.Code).
			Str("path", r.URL.Path).
			Msg(appErr.Message)
	}

	resp := Response{
		Error: Detail{
			Code:      appErr.Code,
			Message:   appErr.Message,
			Details:   appErr.Details,
			RequestID: requestID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status)
	_ = json.NewEncoder(w).Encode(resp)
}
