package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Tyrowin/travelchat/internal/chat"
)

// UserDirectory resolves a verified token subject to a known user. It returns
// chat.ErrNotFound for subjects with no account.
type UserDirectory interface {
	LookupUser(ctx context.Context, subject string) (chat.Principal, error)
}

// SessionRegistrar records a freshly authenticated connection.
type SessionRegistrar interface {
	Register(user chat.UserID, h chat.ConnectionHandle) int
}

// Authenticator is the first stage of every connection: it turns the bearer
// header into a Principal or rejects the connection.
type Authenticator struct {
	verifier Verifier
	users    UserDirectory
	sessions SessionRegistrar
	logger   *slog.Logger
}

// NewAuthenticator wires an Authenticator.
func NewAuthenticator(verifier Verifier, users UserDirectory, sessions SessionRegistrar, logger *slog.Logger) *Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authenticator{
		verifier: verifier,
		users:    users,
		sessions: sessions,
		logger:   logger.With("component", "authenticator"),
	}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if len(header) < len("Bearer ") || !strings.EqualFold(header[:len("Bearer ")], "Bearer ") {
		return "", ErrMissingAuthorization
	}
	token := strings.TrimSpace(header[len("Bearer "):])
	if token == "" {
		return "", ErrMissingAuthorization
	}
	return token, nil
}

// Resolve verifies the Authorization header and looks up the user without
// registering anything. HTTP endpoints use it directly.
func (a *Authenticator) Resolve(ctx context.Context, authorization string) (chat.Principal, error) {
	token, err := BearerToken(authorization)
	if err != nil {
		return chat.Principal{}, err
	}

	id, err := a.verifier.Verify(token)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			return chat.Principal{}, err
		}
		return chat.Principal{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	p, err := a.users.LookupUser(ctx, id.Subject)
	if errors.Is(err, chat.ErrNotFound) {
		return chat.Principal{}, ErrUserNotFound
	}
	if err != nil {
		return chat.Principal{}, fmt.Errorf("lookup user: %w", err)
	}
	if p.DisplayName == "" {
		p.DisplayName = id.Name
	}
	return p, nil
}

// Authenticate resolves the principal for connection h and, on success,
// registers h under the user. On failure nothing is recorded.
func (a *Authenticator) Authenticate(ctx context.Context, h chat.ConnectionHandle, authorization string) (chat.Principal, error) {
	p, err := a.Resolve(ctx, authorization)
	if err != nil {
		a.logger.Warn("connection rejected", "conn_id", h, "error", err)
		return chat.Principal{}, err
	}
	n := a.sessions.Register(p.UserID, h)
	a.logger.Info("connection authenticated", "conn_id", h, "user_id", p.UserID, "connections", n)
	return p, nil
}
