package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/travelchat/internal/chat"
)

type membershipKey struct {
	group chat.ChannelID
	user  chat.UserID
}

// MemoryStore is a process-local Store for development and tests.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[chat.UserID]User
	groups      map[chat.ChannelID]Group
	memberships map[membershipKey]chat.Role
	messages    map[chat.MessageID]chat.StoredMessage
	nextUser    int64
	nextGroup   int64
	nextMessage int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[chat.UserID]User),
		groups:      make(map[chat.ChannelID]Group),
		memberships: make(map[membershipKey]chat.Role),
		messages:    make(map[chat.MessageID]chat.StoredMessage),
	}
}

// Migrate is a no-op.
func (s *MemoryStore) Migrate(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func (s *MemoryStore) IsMember(_ context.Context, group chat.ChannelID, user chat.UserID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.memberships[membershipKey{group, user}]
	return ok, nil
}

func (s *MemoryStore) RoleOf(_ context.Context, group chat.ChannelID, user chat.UserID) (chat.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	role, ok := s.memberships[membershipKey{group, user}]
	if !ok {
		return "", ErrNotFound
	}
	return role, nil
}

func (s *MemoryStore) AddMember(_ context.Context, group chat.ChannelID, user chat.UserID, role chat.Role) error {
	if role == "" {
		role = chat.RoleMember
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group]; !ok {
		return fmt.Errorf("group %d: %w", group, ErrNotFound)
	}
	if _, ok := s.users[user]; !ok {
		return fmt.Errorf("user %d: %w", user, ErrNotFound)
	}
	key := membershipKey{group, user}
	if _, ok := s.memberships[key]; ok {
		return ErrAlreadyExists
	}
	s.memberships[key] = role
	return nil
}

func (s *MemoryStore) RemoveMember(_ context.Context, group chat.ChannelID, user chat.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := membershipKey{group, user}
	if _, ok := s.memberships[key]; !ok {
		return ErrNotFound
	}
	delete(s.memberships, key)
	return nil
}

func (s *MemoryStore) LookupUser(_ context.Context, subject string) (chat.Principal, error) {
	id, email := LookupKey(subject)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id > 0 {
		if u, ok := s.users[id]; ok {
			return chat.Principal{UserID: u.ID, DisplayName: u.Username}, nil
		}
		return chat.Principal{}, ErrNotFound
	}
	for _, u := range s.users {
		if u.Email == email {
			return chat.Principal{UserID: u.ID, DisplayName: u.Username}, nil
		}
	}
	return chat.Principal{}, ErrNotFound
}

func (s *MemoryStore) CreateUser(_ context.Context, email, username string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return User{}, fmt.Errorf("email is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return User{}, ErrAlreadyExists
		}
	}
	s.nextUser++
	u := User{ID: chat.UserID(s.nextUser), Email: email, Username: username}
	s.users[u.ID] = u
	return u, nil
}

func (s *MemoryStore) CreateGroup(_ context.Context, name string, createdBy chat.UserID) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[createdBy]; !ok {
		return Group{}, fmt.Errorf("user %d: %w", createdBy, ErrNotFound)
	}
	s.nextGroup++
	g := Group{ID: chat.ChannelID(s.nextGroup), Name: name, CreatedBy: createdBy, CreatedAt: time.Now().UTC()}
	s.groups[g.ID] = g
	s.memberships[membershipKey{g.ID, createdBy}] = chat.RoleAdmin
	return g, nil
}

func (s *MemoryStore) PersistMessage(_ context.Context, group chat.ChannelID, sender chat.Principal, content string, at time.Time) (chat.StoredMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMessage++
	msg := chat.StoredMessage{
		ID:         chat.MessageID(s.nextMessage),
		ChannelID:  group,
		SenderID:   sender.UserID,
		SenderName: sender.DisplayName,
		Content:    content,
		SentAt:     at.UTC(),
	}
	s.messages[msg.ID] = msg
	return msg, nil
}

func (s *MemoryStore) Message(_ context.Context, id chat.MessageID) (chat.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return chat.StoredMessage{}, ErrNotFound
	}
	return msg, nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, id chat.MessageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return ErrNotFound
	}
	delete(s.messages, id)
	return nil
}

func (s *MemoryStore) DeleteChannelMessages(_ context.Context, group chat.ChannelID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, msg := range s.messages {
		if msg.ChannelID == group {
			delete(s.messages, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListMessages(_ context.Context, group chat.ChannelID) ([]chat.StoredMessage, error) {
	s.mu.RLock()
	out := make([]chat.StoredMessage, 0)
	for _, msg := range s.messages {
		if msg.ChannelID == group {
			out = append(out, msg)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].SentAt.Equal(out[j].SentAt) {
			return out[i].SentAt.Before(out[j].SentAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
