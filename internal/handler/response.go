package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/memberhub/backend/internal/contextkeys"
	"github.com/memberhub/backend/internal/domain"
	"github.com/rs/zerolog/log"
)

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Warn().Err(err).Msg("Failed to encode JSON response")
		}
	}
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindUnauthenticated:
		return http.StatusUnauthorized
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindConflict:
		return http.StatusConflict
	case domain.KindConfiguration:
		return http.StatusServiceUnavailable
	case domain.KindProvider:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error writes an error JSON response of the form {"error": kind, "message": text}.
// Wrapped causes are logged, never sent to the client.
func Error(w http.ResponseWriter, err error) {
	appErr, ok := domain.AsAppError(err)
	if !ok {
		appErr = domain.ErrInternal("internal server error", err)
	}

	status := StatusFor(appErr.Kind)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Str("kind", string(appErr.Kind)).Msg("Request failed")
	}
	JSON(w, status, map[string]string{
		"error":   string(appErr.Kind),
		"message": appErr.Message,
	})
}

// DecodeJSON decodes a JSON request body into the given struct.
func DecodeJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return domain.ErrValidation("request body is required")
		}
		return domain.ErrValidation("invalid JSON body")
	}
	return nil
}

// decodeOptionalJSON is DecodeJSON for endpoints whose body may be empty.
func decodeOptionalJSON(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return domain.ErrValidation("invalid JSON body")
	}
	return nil
}

// userID returns the authenticated caller set by the auth middleware.
func userID(r *http.Request) (string, bool) {
	c, ok := contextkeys.CallerFrom(r.Context())
	return c.UserID, ok
}

func unauthorized(w http.ResponseWriter) {
	Error(w, domain.ErrUnauthorized("unauthorized"))
}
