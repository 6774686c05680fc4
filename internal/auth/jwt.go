// Package auth resolves bearer tokens presented by connecting clients into
// chat principals.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingAuthorization = errors.New("missing authorization")
	ErrInvalidToken         = errors.New("invalid token")
	ErrUserNotFound         = errors.New("user not found")
	ErrAuthDisabled         = errors.New("token verification is not configured")
)

// Identity is what a verified token asserts about its bearer.
type Identity struct {
	Subject string
	Email   string
	Name    string
}

// Verifier checks a bearer token and returns the identity it carries.
type Verifier interface {
	Verify(token string) (Identity, error)
}

// Claims are the token claims issued by the travel backend.
type Claims struct {
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTService signs and verifies HS256 tokens with a shared secret.
type JWTService struct {
	secret []byte
	expiry time.Duration
	issuer string
}

// NewJWTService builds a JWT helper with the given secret and expiry. issuer
// is checked on verification when non-empty.
func NewJWTService(secret string, expiry time.Duration, issuer string) *JWTService {
	return &JWTService{secret: []byte(secret), expiry: expiry, issuer: issuer}
}

// Generate issues a signed token for subject. It exists for development
// tooling and tests; production tokens come from the login service.
func (s *JWTService) Generate(id Identity) (string, error) {
	if s == nil || len(s.secret) == 0 {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(id.Subject) == "" {
		return "", errors.New("subject required")
	}

	now := time.Now()
	claims := Claims{
		Email: strings.TrimSpace(id.Email),
		Name:  strings.TrimSpace(id.Name),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  id.Subject,
			Issuer:   s.issuer,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if s.expiry > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(s.expiry))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses and validates token.
func (s *JWTService) Verify(token string) (Identity, error) {
	if s == nil || len(s.secret) == 0 {
		return Identity{}, ErrAuthDisabled
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg(), jwt.SigningMethodHS384.Alg(), jwt.SigningMethodHS512.Alg()})}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return identityFrom(parsed)
}

func identityFrom(parsed *jwt.Token) (Identity, error) {
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}
	return Identity{
		Subject: strings.TrimSpace(claims.Subject),
		Email:   strings.TrimSpace(claims.Email),
		Name:    strings.TrimSpace(claims.Name),
	}, nil
}
