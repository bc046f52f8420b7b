package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	"github.com/nikhilbhutani/tenantgate/internal/apperrors"
	"github.com/nikhilbhutani/tenantgate/internal/database"
)

const maxBodyBytes = 1 << 20

// envelope is the JSON shape of every API response.
type envelope struct {
	Data       any                  `json:"data,omitempty"`
	Error      string               `json:"error,omitempty"`
	Message    string               `json:"message,omitempty"`
	Details    any                  `json:"details,omitempty"`
	Pagination *database.Pagination `json:"pagination,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respond(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, envelope{Data: data})
}

func respondPage(w http.ResponseWriter, data any, p *database.Pagination) {
	writeJSON(w, http.StatusOK, envelope{Data: data, Pagination: p})
}

func respondMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Message: msg})
}

// respondError maps err onto the envelope. Internal errors are logged and
// replaced with a generic message.
func respondError(w http.ResponseWriter, err error) {
	status := apperrors.HTTPStatus(err)
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) || appErr.Kind == apperrors.KindInternal {
		slog.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, envelope{Error: "internal server error"})
		return
	}
	body := envelope{Error: appErr.Message}
	if len(appErr.Details) > 0 {
		body.Details = appErr.Details
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, envelope{Error: msg})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperrors.Validation("request body is empty")
		}
		return apperrors.Validation("invalid request body")
	}
	return nil
}

// clientIP expects RealIP to have rewritten RemoteAddr already.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func queryInt(r *http.Request, key string, fallback int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
