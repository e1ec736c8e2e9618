package httpstatus

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/hysreader/hys/config"
)

// RequestLogger returns middleware that logs all incoming requests at
// debug level.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("status server request",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr,
			)
			next.ServeHTTP(w, r)
		})
	}
}

// BasicAuth returns middleware that enforces HTTP Basic Auth. If auth is
// nil or has no username, the middleware is a no-op passthrough.
func BasicAuth(auth *config.AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if auth == nil || auth.Username == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok ||
				subtle.ConstantTimeCompare([]byte(user), []byte(auth.Username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(pass), []byte(auth.Password)) != 1 {
				w.Header().Set("WWW-Authenticate", `Basic realm="hys"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
