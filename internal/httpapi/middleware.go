package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/mylxsw/asteria/log"
)

// LoggingMiddleware logs HTTP requests, adapted from the teacher's
// pkg/api/middleware.go. The session-scoped routes carry a session_id path
// variable, so the log line carries it when present ("-" otherwise) —
// without it a slow or failing request is unattributable to a session from
// the access log alone.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		sessionID := mux.Vars(r)["session_id"]
		if sessionID == "" {
			sessionID = "-"
		}

		log.Debugf(
			"%s %s %s session=%s %d %v",
			r.RemoteAddr,
			r.Method,
			r.URL.Path,
			sessionID,
			wrapped.statusCode,
			time.Since(start),
		)
	})
}

// RecoveryMiddleware recovers from panics in a handler so one failing
// request cannot take down the process (spec §7: "panics are caught at
// each task boundary").
func RecoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				log.Errorf("panic recovered: %v", err)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
