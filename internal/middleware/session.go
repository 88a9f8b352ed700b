package middleware

import (
	"net/http"

	"github.com/dukerupert/weeme/internal/model"
)

// SessionSource reports the signed-in account, if any.
type SessionSource interface {
	Current() (model.Account, bool)
}

// RequireSession rejects requests with 401 while nobody is signed in.
func RequireSession(src SessionSource) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := src.Current(); !ok {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "Not signed in"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
