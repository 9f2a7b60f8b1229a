package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"file-drop/internal/drop"
	"file-drop/internal/logging"
)

// errorResp is the body of every non-2xx JSON response.
type errorResp struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// validationError is a client mistake detected before reaching the service.
type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

func invalid(msg string) error { return &validationError{msg: msg} }

// statusFor maps an error from the drop service to an HTTP status.
func statusFor(err error) int {
	var (
		cfgErr *drop.ConfigError
		valErr *validationError
		upErr  *drop.BlobUploadError
		tooBig *http.MaxBytesError
	)
	switch {
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &valErr), errors.Is(err, drop.ErrNoFiles):
		return http.StatusBadRequest
	case errors.As(err, &cfgErr):
		return http.StatusInternalServerError
	case errors.Is(err, drop.ErrNotFound), errors.Is(err, drop.ErrGroupNotFound):
		return http.StatusNotFound
	case errors.Is(err, drop.ErrGone):
		return http.StatusGone
	case errors.Is(err, drop.ErrCodeExhausted), errors.Is(err, drop.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &upErr), errors.Is(err, drop.ErrAllLinksFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// messageFor returns the public message and optional details for err.
// Internal error text is only exposed where it names the caller's own input.
func messageFor(err error, status int) (string, string) {
	var (
		upErr  *drop.BlobUploadError
		cfgErr *drop.ConfigError
	)
	switch {
	case errors.As(err, &upErr):
		return "Upload failed", "could not store " + upErr.Filename
	case errors.As(err, &cfgErr):
		return cfgErr.Error(), ""
	case status == http.StatusRequestEntityTooLarge:
		return "Upload too large", ""
	case errors.Is(err, drop.ErrBackendUnavailable):
		return "Service temporarily unavailable", ""
	case status == http.StatusInternalServerError:
		return "Internal server error", ""
	}
	return capitalise(err.Error()), ""
}

func capitalise(s string) string {
	if s == "" || s[0] < 'a' || s[0] > 'z' {
		return s
	}
	return string(s[0]-'a'+'A') + s[1:]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError logs server-side failures and writes the JSON error body.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg, details := messageFor(err, status)

	log := s.requestLogger(r)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status, "err", err)
	} else {
		log.Debug("request rejected", "status", status, "err", err)
	}
	writeJSON(w, status, errorResp{Error: msg, Details: details})
}

func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	return logging.FromContext(r.Context(), s.log)
}
