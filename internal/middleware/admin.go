package middleware

import (
	"net/http"

	"github.com/memberhub/backend/internal/contextkeys"
	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/internal/handler"
)

// AdminOnly middleware ensures the user has the admin role.
// Must be used AFTER Auth middleware which stores the caller in context.
func AdminOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller, ok := contextkeys.CallerFrom(r.Context())
		if !ok || caller.Role != domain.RoleAdmin {
			handler.Error(w, domain.ErrForbidden("admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
