package main

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// adminOnly guards mutating routes with a static bearer token. An empty token
// disables the check, which is how local development runs.
func (s *server) adminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			next.ServeHTTP(w, r)
			return
		}

		if !validBearer(r.Header.Get("Authorization"), s.adminToken) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="launchpricing"`)
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing or invalid admin token"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func validBearer(header, token string) bool {
	scheme, provided, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return false
	}
	provided = strings.TrimSpace(provided)
	if provided == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(token)) == 1
}
