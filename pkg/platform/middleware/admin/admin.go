package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"hycredit/pkg/requestcontext"
)

// RequireAdminToken guards operator routes with a shared X-Admin-Token. An
// empty expected token disables the routes entirely.
func RequireAdminToken(expectedToken string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if expectedToken == "" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusNotFound)
				_, _ = w.Write([]byte(`{"error":"not_found","error_description":"admin routes disabled"}`))
				return
			}
			token := r.Header.Get("X-Admin-Token")
			if subtle.ConstantTimeCompare([]byte(token), []byte(expectedToken)) != 1 {
				logger.WarnContext(ctx, "admin token mismatch",
					"request_id", requestcontext.RequestID(ctx),
					"client_ip", requestcontext.ClientIP(ctx),
				)
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"unauthorized","error_description":"admin token required"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
