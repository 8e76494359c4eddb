package server

import (
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jrsteele09/go-oauth-engine/oauthmodel"
)

// LoggingMiddleware logs every request with its status and latency. In DEV the method and
// status are coloured.
func (s *Server) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := zerolog.DebugLevel
		if status >= http.StatusInternalServerError {
			level = zerolog.WarnLevel
		}
		event := log.WithLevel(level).
			Str("path", r.URL.Path).
			Dur("latency", time.Since(start)).
			Str("remote", clientIP(r))
		if s.env == "DEV" {
			event = event.Str("method", colourMethod(r.Method)).Str("status", colourStatus(status)+http.StatusText(status)+ResetColor)
		} else {
			event = event.Str("method", r.Method).Int("status", status)
		}
		event.Msg("request")
	})
}

// NoStoreMiddleware forbids caching of responses carrying credentials.
func NoStoreMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Pragma", "no-cache")
		next.ServeHTTP(w, r)
	})
}

// RateLimitMiddleware limits requests per client IP.
func (s *Server) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow(clientIP(r)) {
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, r, http.StatusTooManyRequests, oauthmodel.ErrorResponse{
				Error:            "slow_down",
				ErrorDescription: "too many requests",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientIP is the request's remote address without the port. middleware.RealIP has
// already replaced it with the forwarded address when one was present.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
