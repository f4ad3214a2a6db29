package service

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/memberhub/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signToken(t *testing.T, method jwt.SigningMethod, key any, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func TestVerifyToken(t *testing.T) {
	svc := NewAuthService("secret")
	exp := time.Now().Add(time.Hour).Unix()

	claims, err := svc.VerifyToken(signToken(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{
		"sub": "u1", "email": "ada@example.org", "role": domain.RoleAdmin, "exp": exp,
	}))
	require.NoError(t, err)
	assert.Equal(t, &domain.JWTClaims{Sub: "u1", Email: "ada@example.org", Role: domain.RoleAdmin}, claims)

	tests := map[string]string{
		"wrong secret": signToken(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"sub": "u1", "exp": exp}),
		"expired":      signToken(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{"sub": "u1", "exp": time.Now().Add(-time.Hour).Unix()}),
		"no subject":   signToken(t, jwt.SigningMethodHS256, []byte("secret"), jwt.MapClaims{"exp": exp}),
		"none alg":     signToken(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"sub": "u1", "exp": exp}),
		"garbage":      "not-a-token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := svc.VerifyToken(token)
			require.Error(t, err)
			assert.True(t, domain.IsKind(err, domain.KindUnauthenticated))
		})
	}
}
