// Package chat defines the travel-group chat domain: identities, roles,
// envelopes exchanged on a channel, destination addressing, and the
// dispatcher that authorizes, persists and fans out inbound messages.
package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// UserID identifies a registered user.
type UserID int64

// ChannelID identifies a travel group and doubles as the addressing key for
// presence and broadcast.
type ChannelID int64

// MessageID identifies a stored chat message.
type MessageID int64

// ConnectionHandle is the opaque identifier of one live connection. Registries
// hold handles by value so stale entries can be detected and dropped.
type ConnectionHandle string

// Principal is the identity resolved for a connection at authentication time.
// It is attached once and never changes for the lifetime of the connection.
type Principal struct {
	UserID      UserID
	DisplayName string
}

// Role is a member's role inside a travel group.
type Role string

const (
	RoleMember Role = "MEMBER"
	RoleAdmin  Role = "ADMIN"
)

// Kind discriminates envelopes exchanged on a channel.
type Kind int

const (
	KindChat Kind = iota
	KindTyping
	KindPresence
	KindDelete
	KindDeleteAll
)

var kindNames = [...]string{
	KindChat:      "CHAT",
	KindTyping:    "TYPING",
	KindPresence:  "PRESENCE",
	KindDelete:    "DELETE",
	KindDeleteAll: "DELETE_ALL",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind maps a wire name to a Kind. Matching is case-insensitive and an
// empty name means CHAT.
func ParseKind(name string) (Kind, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return KindChat, nil
	}
	for k, n := range kindNames {
		if strings.EqualFold(n, name) {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown envelope type %q", name)
}

func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

func (k *Kind) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*k = KindChat
		return nil
	}
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseKind(name)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Envelope is the unit exchanged over a channel. The wire field names follow
// the browser client: the discriminant travels as "type".
type Envelope struct {
	ID         MessageID  `json:"id,omitempty"`
	ChannelID  ChannelID  `json:"groupId,omitempty"`
	SenderID   UserID     `json:"senderId,omitempty"`
	SenderName string     `json:"senderName,omitempty"`
	Content    string     `json:"content"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
	Kind       Kind       `json:"type"`
}

// StoredMessage is a persisted chat message.
type StoredMessage struct {
	ID         MessageID
	ChannelID  ChannelID
	SenderID   UserID
	SenderName string
	Content    string
	SentAt     time.Time
}

// EnvelopeFromStored builds the CHAT envelope announcing a stored message.
func EnvelopeFromStored(m StoredMessage) Envelope {
	ts := m.SentAt.UTC()
	return Envelope{
		ID:         m.ID,
		ChannelID:  m.ChannelID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Content:    m.Content,
		Timestamp:  &ts,
		Kind:       KindChat,
	}
}
