package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/fulmenhq/gofulmen/errors"
)

// RequireBearer admits requests carrying "Authorization: Bearer <token>".
func RequireBearer(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			presented, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), []byte(token)) != 1 {
				w.Header().Set("WWW-Authenticate", `Bearer realm="admin"`)
				env := errors.NewErrorEnvelope("UNAUTHORIZED", "Nicht autorisiert.").
					WithCorrelationID(GetRequestID(r.Context()))
				writeErrorResponse(w, env, http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
