package auth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/Tyrowin/travelchat/internal/chat"
)

type stubDirectory map[string]chat.Principal

func (d stubDirectory) LookupUser(_ context.Context, subject string) (chat.Principal, error) {
	p, ok := d[subject]
	if !ok {
		return chat.Principal{}, chat.ErrNotFound
	}
	return p, nil
}

type recordingRegistrar struct {
	registered map[chat.UserID][]chat.ConnectionHandle
}

func (r *recordingRegistrar) Register(user chat.UserID, h chat.ConnectionHandle) int {
	r.registered[user] = append(r.registered[user], h)
	return len(r.registered[user])
}

func newTestAuthenticator(t *testing.T) (*Authenticator, *JWTService, *recordingRegistrar) {
	t.Helper()
	svc := NewJWTService("test-secret", time.Hour, "")
	dir := stubDirectory{
		"alice@example.com": {UserID: 1, DisplayName: "alice"},
		"7":                 {UserID: 7},
	}
	reg := &recordingRegistrar{registered: make(map[chat.UserID][]chat.ConnectionHandle)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAuthenticator(svc, dir, reg, logger), svc, reg
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		header string
		token  string
		err    error
	}{
		{"Bearer abc.def.ghi", "abc.def.ghi", nil},
		{"bearer abc", "abc", nil},
		{"  Bearer   abc  ", "abc", nil},
		{"", "", ErrMissingAuthorization},
		{"Bearer ", "", ErrMissingAuthorization},
		{"Basic dXNlcjpwYXNz", "", ErrMissingAuthorization},
		{"abc.def.ghi", "", ErrMissingAuthorization},
	}
	for _, tt := range tests {
		token, err := BearerToken(tt.header)
		if token != tt.token || !errors.Is(err, tt.err) {
			t.Errorf("BearerToken(%q) = %q, %v; want %q, %v", tt.header, token, err, tt.token, tt.err)
		}
	}
}

func TestAuthenticateRegistersSession(t *testing.T) {
	a, svc, reg := newTestAuthenticator(t)
	token, _ := svc.Generate(Identity{Subject: "alice@example.com"})

	p, err := a.Authenticate(context.Background(), "conn-1", "Bearer "+token)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if p.UserID != 1 || p.DisplayName != "alice" {
		t.Errorf("unexpected principal: %+v", p)
	}
	if got := reg.registered[1]; len(got) != 1 || got[0] != "conn-1" {
		t.Errorf("registered = %v", got)
	}
}

func TestAuthenticateFallsBackToTokenName(t *testing.T) {
	a, svc, _ := newTestAuthenticator(t)
	token, _ := svc.Generate(Identity{Subject: "7", Name: "Grace"})

	p, err := a.Resolve(context.Background(), "Bearer "+token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if p.DisplayName != "Grace" {
		t.Errorf("DisplayName = %q, want Grace", p.DisplayName)
	}
}

// TestAuthenticateFailuresRecordNothing checks each rejection reason and that
// a rejected connection leaves no registry entry.
func TestAuthenticateFailuresRecordNothing(t *testing.T) {
	a, svc, reg := newTestAuthenticator(t)
	unknown, _ := svc.Generate(Identity{Subject: "mallory@example.com"})
	forged, _ := NewJWTService("other", time.Hour, "").Generate(Identity{Subject: "alice@example.com"})

	tests := []struct {
		name   string
		header string
		want   error
	}{
		{"missing header", "", ErrMissingAuthorization},
		{"malformed header", "Token abc", ErrMissingAuthorization},
		{"forged token", "Bearer " + forged, ErrInvalidToken},
		{"unknown user", "Bearer " + unknown, ErrUserNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := a.Authenticate(context.Background(), "conn-x", tt.header); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if len(reg.registered) != 0 {
		t.Errorf("rejected connections were registered: %v", reg.registered)
	}
}
