package middleware

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"regexp"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"
)

var requestIDSanitizer = regexp.MustCompile(`[^a-zA-Z0-9._\-]`)

// requestCounter is used to generate unique request IDs.
var requestCounter uint64

// generateRequestID creates a short unique ID: timestamp-counter.
func generateRequestID() string {
	n := atomic.AddUint64(&requestCounter, 1)
	return fmt.Sprintf("%d-%06d", time.Now().UnixMilli()%1000000, n)
}

// RequestID adds an X-Request-Id header to every response.
// If the incoming request already has one, it is reused.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = generateRequestID()
		} else {
			// Sanitize client-provided request ID to prevent header injection
			id = requestIDSanitizer.ReplaceAllString(id, "")
			if len(id) > 128 {
				id = id[:128]
			}
			if id == "" {
				id = generateRequestID()
			}
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// RequestRecorder receives per-request measurements from the Metrics
// middleware.
type RequestRecorder interface {
	RecordRequest()
	RecordError()
	RecordLatency(d time.Duration)
}

// statusWriter captures the response status code for error accounting.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Metrics counts every request, measures its duration, and records server
// errors (5xx responses).
func Metrics(recorder RequestRecorder, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder.RecordRequest()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(sw, r)
		recorder.RecordLatency(time.Since(start))
		if sw.status >= http.StatusInternalServerError {
			recorder.RecordError()
		}
	})
}

// SecurityHeaders adds security headers to API responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// PanicRecovery catches panics, logs the stack trace, and returns 500.
func PanicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				stack := string(debug.Stack())
				reqID := w.Header().Get("X-Request-Id")
				slog.Error("panic recovered",
					"request_id", reqID,
					"method", r.Method,
					"path", r.URL.Path,
					"panic", rec,
					"stack", stack,
				)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ClientIP extracts the originating client IP for audit records. It honors
// X-Forwarded-For (first hop) and X-Real-Ip before falling back to the
// connection's remote address.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}
	if rip := r.Header.Get("X-Real-Ip"); rip != "" {
		if net.ParseIP(rip) != nil {
			return rip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
