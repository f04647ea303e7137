// Package middleware provides HTTP middleware for the import API.
package middleware

import (
	"net/http"
	"time"

	"github.com/JonMunkholm/rosterimport/internal/core"
	"github.com/JonMunkholm/rosterimport/internal/logging"
)

// Logger writes one structured access log entry per request.
//
// Log fields: method, path, status, duration_ms, ip, teacher_id (when the
// Teacher middleware ran) and user_agent. The request ID comes from chi.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		// Teacher runs deeper in the chain; read the header it resolves from.
		teacherID := r.Header.Get(TeacherHeader)

		next.ServeHTTP(ww, r)

		ip := core.GetIPAddressFromContext(r.Context())
		if ip == "" {
			ip = r.RemoteAddr
		}

		logger := logging.FromContext(r.Context())
		args := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"ip", ip,
			"user_agent", r.UserAgent(),
		}
		if teacherID != "" {
			args = append(args, "teacher_id", teacherID)
		}

		if ww.status >= http.StatusInternalServerError {
			logger.Error("request", args...)
		} else {
			logger.Info("request", args...)
		}
	})
}

// responseWriter captures the status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

// Flush forwards to the underlying writer so SSE works through the logger.
func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying ResponseWriter to http.ResponseController.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
