package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, method jwt.SigningMethod, secret any, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(secret)
	require.NoError(t, err)
	return token
}

func TestVerify(t *testing.T) {
	v, err := NewVerifier("s3cret")
	require.NoError(t, err)
	exp := time.Now().Add(time.Hour).Unix()

	owner, err := v.Verify(sign(t, jwt.SigningMethodHS256, []byte("s3cret"), jwt.MapClaims{"id": "user-1", "exp": exp}))
	require.NoError(t, err)
	assert.Equal(t, "user-1", owner)

	owner, err = v.Verify(sign(t, jwt.SigningMethodHS256, []byte("s3cret"), jwt.MapClaims{"sub": "user-2", "exp": exp}))
	require.NoError(t, err)
	assert.Equal(t, "user-2", owner)
}

func TestVerifyRejects(t *testing.T) {
	v, err := NewVerifier("s3cret")
	require.NoError(t, err)
	exp := time.Now().Add(time.Hour).Unix()

	cases := map[string]string{
		"empty":         "",
		"garbage":       "not-a-jwt",
		"wrong secret":  sign(t, jwt.SigningMethodHS256, []byte("other"), jwt.MapClaims{"id": "u", "exp": exp}),
		"expired":       sign(t, jwt.SigningMethodHS256, []byte("s3cret"), jwt.MapClaims{"id": "u", "exp": time.Now().Add(-time.Minute).Unix()}),
		"no owner":      sign(t, jwt.SigningMethodHS256, []byte("s3cret"), jwt.MapClaims{"exp": exp}),
		"hs512 refused": sign(t, jwt.SigningMethodHS512, []byte("s3cret"), jwt.MapClaims{"id": "u", "exp": exp}),
		"alg none":      sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, jwt.MapClaims{"id": "u"}),
	}
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			assert.ErrorIs(t, err, ErrUnauthorized)
		})
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	_, err := NewVerifier("  ")
	assert.Error(t, err)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "abc", BearerToken("bearer   abc "))
	assert.Empty(t, BearerToken("Basic abc"))
	assert.Empty(t, BearerToken("abc"))
	assert.Empty(t, BearerToken(""))
}

func TestOwnerContext(t *testing.T) {
	_, ok := OwnerFrom(context.Background())
	assert.False(t, ok)

	owner, ok := OwnerFrom(WithOwner(context.Background(), "user-1"))
	assert.True(t, ok)
	assert.Equal(t, "user-1", owner)
}
