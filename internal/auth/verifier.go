// Package auth verifies bearer credentials presented at connection time and
// resolves them to a user identity. Tokens are issued elsewhere; this package
// only checks signature and expiry, it never touches domain state.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/rs/zerolog"
)

// ErrInvalidCredential covers malformed, expired, and badly signed tokens.
// Callers decide per endpoint whether this means "reject" or "anonymous".
var ErrInvalidCredential = errors.New("invalid credential")

// Identity is a resolved user. The zero value is the anonymous identity.
type Identity struct {
	UserID int64
}

// Anonymous reports whether the identity belongs to no authenticated user.
func (i Identity) Anonymous() bool { return i.UserID == 0 }

// userIDClaim is the custom claim the token issuer writes the subject id to.
const userIDClaim = "user_id"

// Verifier validates signed tokens against either a shared HMAC secret or a
// remote JWKS. It holds no mutable state and is safe for concurrent use.
type Verifier struct {
	parseOpts []jwt.ParseOption
	logger    zerolog.Logger
}

// NewHMACVerifier builds a verifier for HS256-signed tokens.
func NewHMACVerifier(secret []byte, logger zerolog.Logger) (*Verifier, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("hmac secret cannot be empty")
	}
	return &Verifier{
		parseOpts: []jwt.ParseOption{
			jwt.WithKey(jwa.HS256, secret),
			jwt.WithValidate(true),
		},
		logger: logger.With().Str("component", "TokenVerifier").Logger(),
	}, nil
}

// NewJWKSVerifier builds a verifier for RS256-signed tokens whose keys are
// published at a JWKS URL. The key set is cached and refreshed in the
// background for the lifetime of ctx.
func NewJWKSVerifier(ctx context.Context, jwksURL string, logger zerolog.Logger) (*Verifier, error) {
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL); err != nil {
		return nil, fmt.Errorf("failed to register JWKS endpoint %s: %w", jwksURL, err)
	}
	if _, err := cache.Refresh(ctx, jwksURL); err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS from %s: %w", jwksURL, err)
	}
	return &Verifier{
		parseOpts: []jwt.ParseOption{
			jwt.WithKeySet(jwk.NewCachedSet(cache, jwksURL)),
			jwt.WithValidate(true),
		},
		logger: logger.With().Str("component", "TokenVerifier").Logger(),
	}, nil
}

// Verify checks the credential's signature and expiry and resolves the
// subject. It returns ErrInvalidCredential for anything it cannot accept.
func (v *Verifier) Verify(credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, fmt.Errorf("%w: empty token", ErrInvalidCredential)
	}

	token, err := jwt.Parse([]byte(credential), v.parseOpts...)
	if err != nil {
		v.logger.Debug().Err(err).Msg("Token rejected.")
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	userID, err := subjectID(token)
	if err != nil {
		v.logger.Debug().Err(err).Msg("Token accepted but subject unresolvable.")
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return Identity{UserID: userID}, nil
}

// subjectID reads the user id from the "user_id" claim, falling back to a
// numeric "sub". The issuer writes user_id as a JSON number.
func subjectID(token jwt.Token) (int64, error) {
	if raw, ok := token.Get(userIDClaim); ok {
		switch id := raw.(type) {
		case float64:
			return int64(id), nil
		case int64:
			return id, nil
		}
		return 0, fmt.Errorf("claim %q has unexpected type %T", userIDClaim, raw)
	}

	sub := token.Subject()
	if sub == "" {
		return 0, fmt.Errorf("token carries neither %q claim nor subject", userIDClaim)
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("subject %q is not a user id", sub)
	}
	return id, nil
}
