package auth

import (
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// signToken builds and signs an HS256 token with the given extra claims.
func signToken(t *testing.T, secret []byte, mutate func(b *jwt.Builder)) string {
	t.Helper()
	b := jwt.NewBuilder().
		IssuedAt(time.Now()).
		Expiration(time.Now().Add(time.Hour))
	mutate(b)
	token, err := b.Build()
	require.NoError(t, err)
	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256, secret))
	require.NoError(t, err)
	return string(signed)
}

func newVerifier(t *testing.T) *Verifier {
	t.Helper()
	v, err := NewHMACVerifier(testSecret, zerolog.Nop())
	require.NoError(t, err)
	return v
}

func TestVerify_UserIDClaim(t *testing.T) {
	v := newVerifier(t)
	credential := signToken(t, testSecret, func(b *jwt.Builder) {
		b.Claim("user_id", 42)
	})

	ident, err := v.Verify(credential)
	require.NoError(t, err)
	assert.Equal(t, int64(42), ident.UserID)
	assert.False(t, ident.Anonymous())
}

func TestVerify_SubjectFallback(t *testing.T) {
	v := newVerifier(t)
	credential := signToken(t, testSecret, func(b *jwt.Builder) {
		b.Subject("7")
	})

	ident, err := v.Verify(credential)
	require.NoError(t, err)
	assert.Equal(t, int64(7), ident.UserID)
}

func TestVerify_Rejections(t *testing.T) {
	v := newVerifier(t)

	cases := map[string]string{
		"empty":     "",
		"malformed": "not-a-token",
		"wrong key": signToken(t, []byte("another-secret-another-secret-xx"), func(b *jwt.Builder) {
			b.Claim("user_id", 42)
		}),
		"no subject": signToken(t, testSecret, func(b *jwt.Builder) {}),
		"bad subject": signToken(t, testSecret, func(b *jwt.Builder) {
			b.Subject("alice")
		}),
	}
	for name, credential := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(credential)
			require.ErrorIs(t, err, ErrInvalidCredential)
		})
	}
}

func TestVerify_Expired(t *testing.T) {
	v := newVerifier(t)
	credential := signToken(t, testSecret, func(b *jwt.Builder) {
		b.Claim("user_id", 42)
		b.Expiration(time.Now().Add(-time.Minute))
	})

	_, err := v.Verify(credential)
	require.ErrorIs(t, err, ErrInvalidCredential)
}

func TestNewHMACVerifier_EmptySecret(t *testing.T) {
	_, err := NewHMACVerifier(nil, zerolog.Nop())
	require.Error(t, err)
}
