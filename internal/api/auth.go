package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BearerAuth returns middleware requiring the configured token on every
// request, either as "Authorization: Bearer <token>" or as an
// "access_token" query parameter. The query form exists for browser
// WebSocket clients, which cannot set request headers on the upgrade. An
// empty configured token disables the check, which is the local development
// default.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			got, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !found {
				got = r.URL.Query().Get("access_token")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				Error(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
