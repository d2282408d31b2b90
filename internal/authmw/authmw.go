// Package authmw provides bearer token middleware for the source admin
// surface. Comparison is constant time so response latency leaks nothing
// about the configured token.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const scheme = "Bearer "

// BearerToken returns middleware that admits only requests carrying
// "Authorization: Bearer <token>". An empty token locks the surface
// entirely rather than waving everything through, so a deployment that
// forgot to set the token fails closed.
func BearerToken(token string) func(http.Handler) http.Handler {
	expected := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(expected) == 0 {
				unauthorized(w, "admin access is not configured")
				return
			}

			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, scheme) {
				unauthorized(w, "missing or malformed authorization header")
				return
			}

			got := []byte(auth[len(scheme):])
			if subtle.ConstantTimeCompare(got, expected) != 1 {
				unauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="alertai admin"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
