// Package membership connects group-membership changes made outside the
// realtime gateway to the connections that gateway holds open.
package membership

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Tyrowin/travelchat/internal/chat"
)

// Remover deletes a membership row. It returns chat.ErrNotFound when the user
// is not a member.
type Remover interface {
	RemoveMember(ctx context.Context, group chat.ChannelID, user chat.UserID) error
}

// SessionLookup enumerates a user's open connections.
type SessionLookup interface {
	Handles(user chat.UserID) []chat.ConnectionHandle
}

// Notifier delivers a payload to one connection's private queue. It reports
// false when the connection is gone or its buffer is full.
type Notifier interface {
	SendToConnection(h chat.ConnectionHandle, destination string, payload any) bool
}

// Recorder counts force-disconnect signals.
type Recorder interface {
	ForceDisconnectSent()
}

type nopRecorder struct{}

func (nopRecorder) ForceDisconnectSent() {}

// Bridge asks every live connection of a user to close after that user
// leaves a group.
type Bridge struct {
	members  Remover
	sessions SessionLookup
	notifier Notifier
	logger   *slog.Logger
	recorder Recorder
}

// NewBridge wires a Bridge. recorder may be nil.
func NewBridge(members Remover, sessions SessionLookup, notifier Notifier, logger *slog.Logger, recorder Recorder) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Bridge{
		members:  members,
		sessions: sessions,
		notifier: notifier,
		logger:   logger.With("component", "membership"),
		recorder: recorder,
	}
}

// LeaveGroup removes user from group and then signals all of the user's
// connections to disconnect. Nothing is signalled if the removal fails.
func (b *Bridge) LeaveGroup(ctx context.Context, group chat.ChannelID, user chat.UserID) error {
	if err := b.members.RemoveMember(ctx, group, user); err != nil {
		return fmt.Errorf("leave group %d: %w", group, err)
	}
	n := b.ForceDisconnect(user)
	b.logger.Info("member left group", "channel_id", group, "user_id", user, "signalled", n)
	return nil
}

// ForceDisconnect sends FORCE_DISCONNECT to each open connection of user and
// returns how many signals were delivered. A user with no connections is a
// no-op. Delivery is advisory: the client closes its own transport.
func (b *Bridge) ForceDisconnect(user chat.UserID) int {
	handles := b.sessions.Handles(user)
	delivered := 0
	for _, h := range handles {
		if b.notifier.SendToConnection(h, chat.DisconnectQueue, chat.ForceDisconnectSignal) {
			delivered++
			b.recorder.ForceDisconnectSent()
			continue
		}
		b.logger.Debug("force disconnect undeliverable", "conn_id", h, "user_id", user)
	}
	return delivered
}
