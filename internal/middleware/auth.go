package middleware

import (
	"net/http"
	"strings"

	"github.com/memberhub/backend/internal/contextkeys"
	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/internal/handler"
)

// TokenVerifier validates a bearer token.
type TokenVerifier interface {
	VerifyToken(token string) (*domain.JWTClaims, error)
}

// Auth creates a JWT authentication middleware.
func Auth(verifier TokenVerifier) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				handler.Error(w, domain.ErrUnauthorized("no token provided"))
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				handler.Error(w, domain.ErrUnauthorized("invalid authorization header"))
				return
			}

			claims, err := verifier.VerifyToken(parts[1])
			if err != nil {
				handler.Error(w, domain.ErrUnauthorized("invalid or expired token"))
				return
			}

			ctx := contextkeys.WithCaller(r.Context(), contextkeys.Caller{
				UserID: claims.Sub,
				Email:  claims.Email,
				Role:   claims.Role,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
