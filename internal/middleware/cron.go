package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/internal/handler"
)

// CronSecretHeader carries the shared secret of the external scheduler.
const CronSecretHeader = "X-Cron-Secret"

// CronSecret gates scheduler endpoints behind a shared secret, sent either in
// X-Cron-Secret or as a bearer token. An empty secret leaves the route open.
func CronSecret(secret string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(CronSecretHeader)
			if got == "" {
				got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(secret)) != 1 {
				handler.Error(w, domain.ErrUnauthorized("invalid cron secret"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
