package presence

import "github.com/Tyrowin/travelchat/internal/chat"

// Sessions is the connection registry: userId -> open connection handles.
// It exists so a user's live connections can be enumerated and signalled
// from outside the gateway.
type Sessions struct {
	byUser *keyedSet[chat.UserID, chat.ConnectionHandle]
}

// NewSessions returns an empty registry.
func NewSessions() *Sessions {
	return &Sessions{byUser: newKeyedSet[chat.UserID, chat.ConnectionHandle]()}
}

// Register records h as an open connection of user and returns how many
// connections the user now holds.
func (s *Sessions) Register(user chat.UserID, h chat.ConnectionHandle) int {
	_, n := s.byUser.add(user, h)
	return n
}

// Unregister forgets h. The user's entry disappears with its last handle.
// Unregistering an unknown handle is a no-op.
func (s *Sessions) Unregister(user chat.UserID, h chat.ConnectionHandle) (removed bool, remaining int) {
	return s.byUser.remove(user, h)
}

// Handles returns a snapshot of the user's open connections.
func (s *Sessions) Handles(user chat.UserID) []chat.ConnectionHandle {
	return s.byUser.members(user)
}

// Count returns how many connections user holds.
func (s *Sessions) Count(user chat.UserID) int {
	return s.byUser.size(user)
}

// Users returns the number of users with at least one open connection.
func (s *Sessions) Users() int {
	return s.byUser.keys()
}
