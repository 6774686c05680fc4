// Package store persists users, travel groups, memberships and chat messages.
// It backs the chat package's MembershipOracle and MessageStore and the auth
// package's UserDirectory.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Tyrowin/travelchat/internal/chat"
)

// ErrNotFound is chat.ErrNotFound so callers on either side of the package
// boundary can test with errors.Is.
var ErrNotFound = chat.ErrNotFound

// ErrAlreadyExists is returned when a unique row would be duplicated.
var ErrAlreadyExists = errors.New("already exists")

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// User is a registered account.
type User struct {
	ID       chat.UserID
	Email    string
	Username string
}

// Group is a travel group, the unit chat channels are addressed by.
type Group struct {
	ID        chat.ChannelID
	Name      string
	CreatedBy chat.UserID
	CreatedAt time.Time
}

// Store is everything the chat server needs from persistence.
type Store interface {
	chat.MembershipOracle
	chat.MessageStore

	// LookupUser resolves a token subject. Numeric subjects are user ids,
	// anything else is matched against the email address.
	LookupUser(ctx context.Context, subject string) (chat.Principal, error)

	CreateUser(ctx context.Context, email, username string) (User, error)
	// CreateGroup creates a group and makes its creator an ADMIN member.
	CreateGroup(ctx context.Context, name string, createdBy chat.UserID) (Group, error)
	AddMember(ctx context.Context, group chat.ChannelID, user chat.UserID, role chat.Role) error
	// RemoveMember returns ErrNotFound when the user holds no membership.
	RemoveMember(ctx context.Context, group chat.ChannelID, user chat.UserID) error

	Migrate(ctx context.Context) error
	Close() error
}

// Config selects and tunes a store backend.
type Config struct {
	Driver          string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// DefaultConfig returns an in-memory configuration.
func DefaultConfig() Config {
	return Config{
		Driver:          DriverMemory,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectTimeout:  10 * time.Second,
	}
}

// Open builds the store named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case DriverMemory, "":
		return NewMemoryStore(), nil
	case DriverPostgres, "postgresql":
		return OpenSQL(ctx, DriverPostgres, cfg)
	case DriverSQLite, "sqlite3":
		return OpenSQL(ctx, DriverSQLite, cfg)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// LookupKey splits a token subject into a user id or a normalized email.
func LookupKey(subject string) (chat.UserID, string) {
	subject = strings.TrimSpace(subject)
	if id, err := strconv.ParseInt(subject, 10, 64); err == nil && id > 0 {
		return chat.UserID(id), ""
	}
	return 0, strings.ToLower(subject)
}
