package contextkeys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallerRoundTrip(t *testing.T) {
	_, ok := CallerFrom(context.Background())
	assert.False(t, ok)

	ctx := WithCaller(context.Background(), Caller{UserID: "u1", Email: "a@example.org", Role: "admin"})
	c, ok := CallerFrom(ctx)
	assert.True(t, ok)
	assert.Equal(t, "admin", c.Role)

	_, ok = CallerFrom(WithCaller(context.Background(), Caller{Role: "admin"}))
	assert.False(t, ok, "caller without a user id is anonymous")
}
