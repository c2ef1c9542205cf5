// Package auth provides HTTP middleware for bearer token authentication of
// the control surface.
package auth

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// NewAuthMiddleware returns middleware that requires
//
//	Authorization: Bearer <token>
//
// on every request whose path is not listed in public. The prefix is
// case-sensitive and followed by exactly one space. An empty token disables
// authentication. Rejected requests are logged at debug level with their
// remote address.
func NewAuthMiddleware(token string, logger *slog.Logger, public ...string) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	open := make(map[string]struct{}, len(public))
	for _, p := range public {
		open[p] = struct{}{}
	}
	want := []byte(token)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}
			if _, ok := open[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			provided, ok := strings.CutPrefix(header, bearerPrefix)
			if !ok || provided == "" || subtle.ConstantTimeCompare([]byte(provided), want) != 1 {
				logger.Debug("rejected unauthenticated request",
					slog.String("path", r.URL.Path),
					slog.String("remote", r.RemoteAddr),
				)
				w.Header().Set("WWW-Authenticate", `Bearer realm="readings"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
