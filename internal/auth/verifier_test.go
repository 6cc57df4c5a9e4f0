package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDevTokens(t *testing.T) {
	v := NewVerifier("", "")
	p, err := v.Verify("Delivery:12")
	require.NoError(t, err)
	assert.Equal(t, Principal{Role: RoleDelivery, UserID: 12}, p)

	for _, bad := range []string{"delivery", "delivery:x", ":12", ""} {
		_, err := v.Verify(bad)
		assert.ErrorIs(t, err, ErrInvalidToken, bad)
	}
}

func TestHMACTokens(t *testing.T) {
	secret := []byte("s3cret")
	v := NewVerifier("hmac", string(secret))
	v.now = func() time.Time { return time.Unix(1_000, 0) }

	tok, err := SignHS256(secret, map[string]any{"role": "customer", "sub": "42", "exp": 2_000})
	require.NoError(t, err)
	p, err := v.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, Principal{Role: RoleCustomer, UserID: 42}, p)

	numeric, err := SignHS256(secret, map[string]any{"role": "delivery", "sub": 7})
	require.NoError(t, err)
	p, err = v.Verify(numeric)
	require.NoError(t, err)
	assert.Equal(t, int64(7), p.UserID)
}

func TestHMACRejects(t *testing.T) {
	secret := []byte("s3cret")
	v := NewVerifier("hmac", string(secret))
	v.now = func() time.Time { return time.Unix(5_000, 0) }

	wrongKey, _ := SignHS256([]byte("other"), map[string]any{"role": "customer", "sub": "1"})
	expired, _ := SignHS256(secret, map[string]any{"role": "customer", "sub": "1", "exp": 4_000})
	noRole, _ := SignHS256(secret, map[string]any{"sub": "1"})
	noSub, _ := SignHS256(secret, map[string]any{"role": "customer"})

	for name, tok := range map[string]string{
		"wrong key": wrongKey,
		"expired":   expired,
		"no role":   noRole,
		"no sub":    noSub,
		"garbage":   "a.b",
	} {
		_, err := v.Verify(tok)
		assert.ErrorIs(t, err, ErrInvalidToken, name)
	}
}
