package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to write JSON", "error", err)
	}
}

// writeError sends the standard error body. reason is a machine-readable label
// and may be empty.
func writeError(w http.ResponseWriter, status int, reason, msg string) {
	body := map[string]any{
		"error":   http.StatusText(status),
		"message": msg,
	}
	if reason != "" {
		body["reason"] = reason
	}
	writeJSON(w, status, body)
}
