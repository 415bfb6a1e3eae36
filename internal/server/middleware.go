package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ternarybob/conductor/internal/handlers"
	"github.com/ternarybob/conductor/internal/models"
)

// withMiddleware wraps the router with middleware chain
func (s *Server) withMiddleware(handler http.Handler) http.Handler {
	// Apply middleware in reverse order (last applied = first executed)
	handler = s.authMiddleware(handler)
	handler = s.recoveryMiddleware(handler)
	handler = s.corsMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	return handler
}

// skipAuth reports whether a path carries its own authentication: agents
// present token headers, webhooks present an HMAC signature.
func skipAuth(path string) bool {
	if strings.HasPrefix(path, "/api/agent/") || strings.HasPrefix(path, "/webhook/") {
		return true
	}
	switch path {
	case "/ws", "/api/health", "/api/version":
		return true
	}
	return false
}

// authMiddleware authenticates human API callers with HTTP Basic credentials
// and attaches the account name to the request context. Reads need a user
// account, mutations need an operator.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipAuth(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if s.app.Config.Auth.Disabled {
			r = r.WithContext(handlers.WithUser(r.Context(), "operator"))
			next.ServeHTTP(w, r)
			return
		}

		name, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="conductor"`)
			http.Error(w, "Authentication required", http.StatusUnauthorized)
			return
		}
		user, err := s.app.AuthService.CheckPassword(r.Context(), name, password)
		if err != nil {
			s.app.Logger.Warn().Str("user", name).Str("remote", r.RemoteAddr).Msg("Login failed")
			w.Header().Set("WWW-Authenticate", `Basic realm="conductor"`)
			http.Error(w, "Invalid credentials", http.StatusUnauthorized)
			return
		}

		required := models.RoleUser
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
		default:
			required = models.RoleOperator
		}
		if !user.Role.AtLeast(required) {
			http.Error(w, "Insufficient privileges", http.StatusForbidden)
			return
		}

		r = r.WithContext(handlers.WithUser(r.Context(), user.Name))
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests and responses
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		logEvent := s.app.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr)
		if r.URL.RawQuery != "" {
			logEvent.Str("query", r.URL.RawQuery)
		}
		logEvent.Msg("HTTP request")

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		duration := time.Since(start)
		s.app.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rw.statusCode).
			Dur("duration", duration).
			Msg("HTTP response")
	})
}

// corsMiddleware handles CORS headers for browser clients
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+handlers.HeaderToken+", "+handlers.HeaderSecret)

		// Handle preflight requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// recoveryMiddleware recovers from panics and returns 500 error
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.app.Logger.Error().
					Str("error", fmt.Sprintf("%v", err)).
					Str("path", r.URL.Path).
					Msg("Panic recovered")

				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the websocket upgrade take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}
