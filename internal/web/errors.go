package web

// errors.go turns service errors into responses. The technical error is
// logged with the request ID; the client gets core.MapError's message and
// support code as JSON, or as an HTML fragment for HTMX requests.

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/rosterimport/internal/core"
	"github.com/JonMunkholm/rosterimport/internal/logging"
	"github.com/JonMunkholm/rosterimport/internal/web/views"
)

// ErrorResponse is the JSON body of every API error. Error is the one-line
// "Message (Code: XXX). Action" form for clients that show a single string.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
	Details any    `json:"details,omitempty"`
}

// statusFor picks the HTTP status for a service error.
func statusFor(err error) int {
	var me *core.MappingError
	switch {
	case errors.As(err, &me):
		return http.StatusUnprocessableEntity
	case errors.Is(err, core.ErrImportNotFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrNotValidated),
		errors.Is(err, core.ErrNotCommitted),
		errors.Is(err, core.ErrAlreadyCommitted):
		return http.StatusConflict
	case errors.Is(err, core.ErrTooManyImports):
		return http.StatusServiceUnavailable
	case errors.Is(err, core.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, core.ErrEmptyFile), errors.Is(err, core.ErrInvalidOptions):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrMissingTeacher):
		return http.StatusUnauthorized
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes the user-facing message. Errors the user
// can act on are logged at warn level; unknown and server-side ones at error.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error, statusCode int) {
	userErr := core.NewUserError(err)

	level := slog.LevelError
	if core.IsUserFacing(err) && statusCode < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", statusCode,
		"error", userErr.Technical.Error(),
		"code", userErr.User.Code,
	)

	if isHTMX(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(statusCode)
		views.ErrorAlert(userErr.User.Message, userErr.User.Action, userErr.User.Code).Render(r.Context(), w)
		return
	}

	resp := ErrorResponse{
		Error:   core.FormatUserError(err),
		Message: userErr.User.Message,
		Action:  userErr.User.Action,
		Code:    userErr.User.Code,
	}
	// Mapping problems are for the user to fix, so list them.
	var me *core.MappingError
	if errors.As(err, &me) {
		resp.Details = me
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(resp)
}

// respondServiceError is respondError with the status derived from err.
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	s.respondError(w, r, err, statusFor(err))
}

func isHTMX(r *http.Request) bool {
	return r.Header.Get("HX-Request") == "true"
}
