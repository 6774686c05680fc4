package auth

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
)

// JWKSVerifier validates asymmetric tokens against a remote JSON Web Key Set.
// Keys are cached and refreshed in the background.
type JWKSVerifier struct {
	jwks   *keyfunc.JWKS
	issuer string
}

// NewJWKSVerifier fetches the key set at url. The fetch happens once up
// front so a misconfigured URL fails at startup rather than on first login.
func NewJWKSVerifier(ctx context.Context, url, issuer string, logger *slog.Logger) (*JWKSVerifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	jwks, err := keyfunc.Get(url, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   5 * time.Minute,
		RefreshRateLimit:  time.Minute,
		RefreshTimeout:    10 * time.Second,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Error("JWKS refresh failed", "jwks_url", url, "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch JWKS %s: %w", url, err)
	}
	logger.Info("JWKS loaded", "jwks_url", url)
	return &JWKSVerifier{jwks: jwks, issuer: issuer}, nil
}

func newJWKSVerifierFromSet(jwks *keyfunc.JWKS, issuer string) *JWKSVerifier {
	return &JWKSVerifier{jwks: jwks, issuer: issuer}
}

// Verify parses and validates token with the cached key set.
func (v *JWKSVerifier) Verify(token string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, v.jwks.Keyfunc, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return identityFrom(parsed)
}

// Close stops the background refresh.
func (v *JWKSVerifier) Close() {
	v.jwks.EndBackground()
}
