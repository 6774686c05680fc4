package chat

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnauthenticated is returned when an operation arrives without a
	// resolved principal.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrAccessDenied is returned when the caller lacks the membership or
	// role an operation requires.
	ErrAccessDenied = errors.New("access denied")

	// ErrNotFound is returned when a referenced group, message or user does
	// not exist.
	ErrNotFound = errors.New("not found")

	// ErrWrongChannel is returned when a message id is addressed through a
	// channel it does not belong to.
	ErrWrongChannel = errors.New("message does not belong to this group")

	// ErrUnsupportedKind is returned for envelope kinds a route does not accept.
	ErrUnsupportedKind = errors.New("unsupported envelope type")
)

// MembershipOracle answers membership and role questions for a group.
type MembershipOracle interface {
	IsMember(ctx context.Context, channel ChannelID, user UserID) (bool, error)
	// RoleOf returns ErrNotFound when the user holds no membership.
	RoleOf(ctx context.Context, channel ChannelID, user UserID) (Role, error)
}

// MessageStore persists chat messages.
type MessageStore interface {
	PersistMessage(ctx context.Context, channel ChannelID, sender Principal, content string, at time.Time) (StoredMessage, error)
	// Message returns ErrNotFound for unknown ids.
	Message(ctx context.Context, id MessageID) (StoredMessage, error)
	DeleteMessage(ctx context.Context, id MessageID) error
	DeleteChannelMessages(ctx context.Context, channel ChannelID) (int64, error)
	ListMessages(ctx context.Context, channel ChannelID) ([]StoredMessage, error)
}

// Publisher fans a payload out to every subscriber of a destination.
// Delivery is best effort and never blocks on a slow subscriber.
type Publisher interface {
	Publish(destination string, payload any) int
}

// Recorder receives dispatch outcomes for instrumentation.
type Recorder interface {
	EnvelopeDispatched(kind Kind)
	DispatchRejected(reason string)
}

type nopRecorder struct{}

func (nopRecorder) EnvelopeDispatched(Kind)  {}
func (nopRecorder) DispatchRejected(string) {}
