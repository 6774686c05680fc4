package store

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/Tyrowin/travelchat/internal/chat"
)

// exerciseStore runs the same scenario against any Store implementation.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	alice, err := s.CreateUser(ctx, "Alice@Example.com", "alice")
	if err != nil {
		t.Fatalf("CreateUser alice: %v", err)
	}
	bob, err := s.CreateUser(ctx, "bob@example.com", "bob")
	if err != nil {
		t.Fatalf("CreateUser bob: %v", err)
	}
	if _, err := s.CreateUser(ctx, "alice@example.com", "again"); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate email: expected ErrAlreadyExists, got %v", err)
	}

	p, err := s.LookupUser(ctx, "ALICE@example.com")
	if err != nil || p.UserID != alice.ID || p.DisplayName != "alice" {
		t.Errorf("LookupUser by email = %+v, %v", p, err)
	}
	if p, err := s.LookupUser(ctx, strconv.FormatInt(int64(bob.ID), 10)); err != nil || p.UserID != bob.ID {
		t.Errorf("LookupUser by id = %+v, %v", p, err)
	}
	if _, err := s.LookupUser(ctx, "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown user: expected ErrNotFound, got %v", err)
	}

	group, err := s.CreateGroup(ctx, "Lisbon 2026", alice.ID)
	if err != nil {
		t.Fatalf("CreateGroup: %v", err)
	}
	if role, err := s.RoleOf(ctx, group.ID, alice.ID); err != nil || role != chat.RoleAdmin {
		t.Errorf("creator role = %q, %v; want ADMIN", role, err)
	}
	if ok, _ := s.IsMember(ctx, group.ID, bob.ID); ok {
		t.Error("bob should not be a member yet")
	}
	if _, err := s.RoleOf(ctx, group.ID, bob.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("RoleOf non-member: expected ErrNotFound, got %v", err)
	}
	if err := s.AddMember(ctx, group.ID, bob.ID, chat.RoleMember); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := s.AddMember(ctx, group.ID, bob.ID, chat.RoleMember); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("duplicate membership: expected ErrAlreadyExists, got %v", err)
	}
	if ok, err := s.IsMember(ctx, group.ID, bob.ID); err != nil || !ok {
		t.Errorf("IsMember bob = %v, %v", ok, err)
	}

	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	first, err := s.PersistMessage(ctx, group.ID, chat.Principal{UserID: bob.ID, DisplayName: "bob"}, "hello", t0)
	if err != nil {
		t.Fatalf("PersistMessage: %v", err)
	}
	second, err := s.PersistMessage(ctx, group.ID, chat.Principal{UserID: alice.ID, DisplayName: "alice"}, "hi bob", t0.Add(time.Second))
	if err != nil {
		t.Fatalf("PersistMessage: %v", err)
	}
	if first.ID == second.ID || first.ID <= 0 {
		t.Errorf("ids not distinct: %d, %d", first.ID, second.ID)
	}

	got, err := s.Message(ctx, first.ID)
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if got.ChannelID != group.ID || got.SenderID != bob.ID || got.SenderName != "bob" || got.Content != "hello" || !got.SentAt.Equal(t0) {
		t.Errorf("Message = %+v", got)
	}

	list, err := s.ListMessages(ctx, group.ID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(list) != 2 || list[0].ID != first.ID || list[1].ID != second.ID {
		t.Fatalf("ListMessages = %+v", list)
	}

	if err := s.DeleteMessage(ctx, first.ID); err != nil {
		t.Fatalf("DeleteMessage: %v", err)
	}
	if _, err := s.Message(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("deleted message: expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteMessage(ctx, first.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete: expected ErrNotFound, got %v", err)
	}

	n, err := s.DeleteChannelMessages(ctx, group.ID)
	if err != nil || n != 1 {
		t.Errorf("DeleteChannelMessages = %d, %v; want 1", n, err)
	}
	if list, _ := s.ListMessages(ctx, group.ID); len(list) != 0 {
		t.Errorf("messages left after delete-all: %+v", list)
	}

	if err := s.RemoveMember(ctx, group.ID, bob.ID); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if err := s.RemoveMember(ctx, group.ID, bob.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second RemoveMember: expected ErrNotFound, got %v", err)
	}
	if ok, _ := s.IsMember(ctx, group.ID, bob.ID); ok {
		t.Error("bob is still a member after removal")
	}
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestSQLiteStore(t *testing.T) {
	s, err := OpenSQL(context.Background(), DriverSQLite, Config{DSN: ":memory:"})
	if err != nil {
		t.Fatalf("OpenSQL: %v", err)
	}
	defer s.Close()
	exerciseStore(t, s)
}

func TestOpenSelectsDriver(t *testing.T) {
	s, err := Open(context.Background(), Config{Driver: "memory"})
	if err != nil {
		t.Fatalf("Open memory: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Open memory returned %T", s)
	}
	if _, err := Open(context.Background(), Config{Driver: "oracle"}); err == nil {
		t.Error("expected error for unknown driver")
	}
	if _, err := Open(context.Background(), Config{Driver: "postgres"}); err == nil {
		t.Error("expected error for postgres without dsn")
	}
}

func TestLookupKey(t *testing.T) {
	tests := []struct {
		subject string
		id      chat.UserID
		email   string
	}{
		{"42", 42, ""},
		{" 7 ", 7, ""},
		{"0", 0, "0"},
		{"-3", 0, "-3"},
		{"Carol@Example.com", 0, "carol@example.com"},
	}
	for _, tt := range tests {
		id, email := LookupKey(tt.subject)
		if id != tt.id || email != tt.email {
			t.Errorf("LookupKey(%q) = %d, %q; want %d, %q", tt.subject, id, email, tt.id, tt.email)
		}
	}
}
