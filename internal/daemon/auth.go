package daemon

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// webhookAuthMiddleware checks the shared webhook secret. Remote workers echo
// it back either as the token query parameter of the callback URL or as an
// "Authorization: Bearer <secret>" header. An empty secret disables the check.
func webhookAuthMiddleware(secret string, next http.HandlerFunc) http.HandlerFunc {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
				token = strings.TrimPrefix(auth, "Bearer ")
			}
		}
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}
