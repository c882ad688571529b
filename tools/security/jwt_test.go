package security

import (
	"context"
	"errors"
	"testing"
	"time"

	"dmchat/tools/errs"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var secret = []byte("test-secret-that-is-long-enough")

func TestJWTVerifier_Verify_RoundTrip(t *testing.T) {
	req := require.New(t)
	opts := DefaultOptions(secret)
	want := Identity{UserID: uuid.NewString(), Username: "alice"}

	token, err := Generate(opts, want)
	req.NoError(err)

	got, err := NewJWTVerifier(opts).Verify(context.Background(), token)
	req.NoError(err)
	req.Equal(want, got)
}

func TestJWTVerifier_Verify_NumericUserID(t *testing.T) {
	req := require.New(t)
	token, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"userId":   1001,
		"username": "bob",
	}).SignedString(secret)
	req.NoError(err)

	got, err := NewJWTVerifier(DefaultOptions(secret)).Verify(context.Background(), token)

	req.NoError(err)
	req.Equal("1001", got.UserID)
	req.Equal("bob", got.Username)
}

func TestJWTVerifier_Verify_Rejects(t *testing.T) {
	good, err := Generate(DefaultOptions(secret), Identity{UserID: "u1", Username: "alice"})
	require.NoError(t, err)
	expired, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, jwtlib.MapClaims{
		"userId": "u1",
		"exp":    time.Now().Add(-time.Minute).Unix(),
	}).SignedString(secret)
	require.NoError(t, err)
	noUser, err := Generate(DefaultOptions(secret), Identity{Username: "ghost"})
	require.NoError(t, err)

	cases := map[string]struct {
		secret []byte
		token  string
		want   error
	}{
		"empty token":  {secret: secret, token: "  ", want: errs.ErrTokenMissing},
		"wrong secret": {secret: []byte("another-secret"), token: good, want: errs.ErrTokenInvalid},
		"garbage":      {secret: secret, token: "not.a.jwt", want: errs.ErrTokenInvalid},
		"expired":      {secret: secret, token: expired, want: errs.ErrTokenInvalid},
		"no user id":   {secret: secret, token: noUser, want: errs.ErrTokenInvalid},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := NewJWTVerifier(DefaultOptions(tc.secret)).Verify(context.Background(), tc.token)
			require.Error(t, err)
			require.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}
}

func TestJWTVerifier_Verify_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewJWTVerifier(DefaultOptions(secret)).Verify(ctx, "whatever")

	require.ErrorIs(t, err, context.Canceled)
}

func TestSigningMethod_Unsupported(t *testing.T) {
	_, err := signingMethod("RS256")
	require.Error(t, err)
}
