package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/memberhub/backend/internal/domain"
	"github.com/memberhub/backend/internal/handler"
	"github.com/rs/zerolog/log"
)

// Recovery catches panics and returns a 500 error instead of crashing the server.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.Error().
					Interface("panic", rec).
					Bytes("stack", debug.Stack()).
					Str("path", r.URL.Path).
					Msg("Recovered from panic")
				handler.Error(w, domain.ErrInternal("internal server error", nil))
			}
		}()
		next.ServeHTTP(w, r)
	})
}
