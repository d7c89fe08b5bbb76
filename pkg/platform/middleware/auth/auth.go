package auth

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	id "hycredit/pkg/domain"
	"hycredit/pkg/requestcontext"
)

// JWTValidator defines the interface for validating JWT tokens
type JWTValidator interface {
	ValidateToken(tokenString string) (*JWTClaims, error)
}

// JWTClaims represents the claims we expect from the JWT validator
type JWTClaims struct {
	ActorID string
	Role    string
	JTI     string
}

// writeJSONError writes a JSON error response with the given status code and error details.
func writeJSONError(w http.ResponseWriter, status int, errCode, errDesc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(fmt.Appendf(nil, `{"error":"%s","error_description":"%s"}`, errCode, errDesc))
}

// RequireAuth resolves the bearer token into an id.Actor and stores it in
// the request context. Requests without a valid token never reach next.
func RequireAuth(validator JWTValidator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			requestID := requestcontext.RequestID(ctx)

			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				logger.WarnContext(ctx, "unauthorized access - missing token",
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Missing or invalid Authorization header")
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - invalid token",
					"error", err,
					"request_id", requestID,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid or expired token")
				return
			}

			actorID, err := id.ParseActorID(claims.ActorID)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - bad subject", "request_id", requestID)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid token subject")
				return
			}
			role, err := id.ParseRole(claims.Role)
			if err != nil {
				logger.WarnContext(ctx, "unauthorized access - bad role",
					"request_id", requestID,
					"role", claims.Role,
				)
				writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Invalid token role")
				return
			}

			ctx = requestcontext.WithActor(ctx, id.Actor{ID: actorID, Role: role})
			ctx = requestcontext.WithTokenID(ctx, claims.JTI)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
