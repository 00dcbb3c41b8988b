package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	applog "fincal/internal/log"
	"fincal/internal/services"
)

// envelope is the body of every API response.
type envelope struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func statusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindConflict:
		return http.StatusConflict
	case services.KindStore:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError maps err onto a status. Server-side failures are logged and
// their details withheld from the client.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := services.KindOf(err)
	status := statusFor(kind)
	body := envelope{Message: err.Error(), Error: string(kind)}

	var reqErr *requestError
	if errors.As(err, &reqErr) && len(reqErr.details) > 0 {
		body.Data = reqErr.details
	}
	if status >= http.StatusInternalServerError {
		applog.LogError(r.Context(), "Request failed", err, applog.ComponentHTTP, r.Method+" "+r.URL.Path,
			applog.LogFields{applog.FieldErrorKind: string(kind)})
		body.Message = http.StatusText(status)
	}
	writeJSON(w, status, body)
}

func writeResult[T any](w http.ResponseWriter, r *http.Request, res services.Result[T], okStatus int) {
	if !res.Success {
		writeError(w, r, res.Err)
		return
	}
	writeJSON(w, okStatus, envelope{Message: res.Message, Data: res.Data})
}
