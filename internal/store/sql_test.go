package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/Tyrowin/travelchat/internal/chat"
)

func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *SQLStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return mock, NewSQLStore(db, DriverPostgres)
}

func TestRebind(t *testing.T) {
	pg := &SQLStore{driver: DriverPostgres}
	lite := &SQLStore{driver: DriverSQLite}
	q := `SELECT 1 FROM memberships WHERE group_id = ? AND user_id = ?`

	if got := pg.rebind(q); got != `SELECT 1 FROM memberships WHERE group_id = $1 AND user_id = $2` {
		t.Errorf("postgres rebind = %q", got)
	}
	if got := lite.rebind(q); got != q {
		t.Errorf("sqlite rebind = %q", got)
	}
}

func TestSQLStore_RoleOf(t *testing.T) {
	query := regexp.QuoteMeta(`SELECT role FROM memberships WHERE group_id = $1 AND user_id = $2`)

	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		want      chat.Role
		wantErr   error
	}{
		{
			name: "admin",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs(int64(5), int64(3)).
					WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("ADMIN"))
			},
			want: chat.RoleAdmin,
		},
		{
			name: "no membership",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs(int64(5), int64(3)).WillReturnError(sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
		{
			name: "database error",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(query).WithArgs(int64(5), int64(3)).WillReturnError(errors.New("connection reset"))
			},
			wantErr: errors.New("connection reset"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, s := setupMockDB(t)
			tt.setupMock(mock)

			got, err := s.RoleOf(context.Background(), 5, 3)
			switch {
			case tt.wantErr == nil && err != nil:
				t.Fatalf("unexpected error: %v", err)
			case errors.Is(tt.wantErr, ErrNotFound) && !errors.Is(err, ErrNotFound):
				t.Fatalf("expected ErrNotFound, got %v", err)
			case tt.wantErr != nil && err == nil:
				t.Fatal("expected error, got nil")
			}
			if got != tt.want {
				t.Errorf("role = %q, want %q", got, tt.want)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unmet expectations: %v", err)
			}
		})
	}
}

func TestSQLStore_IsMember(t *testing.T) {
	mock, s := setupMockDB(t)
	query := regexp.QuoteMeta(`SELECT 1 FROM memberships WHERE group_id = $1 AND user_id = $2`)
	mock.ExpectQuery(query).WithArgs(int64(5), int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectQuery(query).WithArgs(int64(5), int64(2)).WillReturnError(sql.ErrNoRows)

	if ok, err := s.IsMember(context.Background(), 5, 1); err != nil || !ok {
		t.Errorf("member: got %v, %v", ok, err)
	}
	if ok, err := s.IsMember(context.Background(), 5, 2); err != nil || ok {
		t.Errorf("non-member: got %v, %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_AddMemberDuplicate(t *testing.T) {
	mock, s := setupMockDB(t)
	mock.ExpectExec("INSERT INTO memberships").
		WithArgs(int64(5), int64(1), "MEMBER", sqlmock.AnyArg()).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	if err := s.AddMember(context.Background(), 5, 1, ""); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_RemoveMember(t *testing.T) {
	mock, s := setupMockDB(t)
	mock.ExpectExec("DELETE FROM memberships").WithArgs(int64(5), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM memberships").WithArgs(int64(5), int64(4)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.RemoveMember(context.Background(), 5, 4); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if err := s.RemoveMember(context.Background(), 5, 4); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_LookupUser(t *testing.T) {
	mock, s := setupMockDB(t)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, username FROM users WHERE id = $1`)).
		WithArgs(int64(9)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username"}).AddRow(9, "ines"))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, username FROM users WHERE lower(email) = $1`)).
		WithArgs("ines@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username"}).AddRow(9, "ines"))
	mock.ExpectQuery("FROM users").WithArgs("ghost@example.com").WillReturnError(sql.ErrNoRows)

	ctx := context.Background()
	if p, err := s.LookupUser(ctx, "9"); err != nil || p.UserID != 9 || p.DisplayName != "ines" {
		t.Errorf("by id: %+v, %v", p, err)
	}
	if p, err := s.LookupUser(ctx, "Ines@Example.com"); err != nil || p.UserID != 9 {
		t.Errorf("by email: %+v, %v", p, err)
	}
	if _, err := s.LookupUser(ctx, "ghost@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown: expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_PersistMessage(t *testing.T) {
	mock, s := setupMockDB(t)
	at := time.Date(2026, 5, 2, 8, 30, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO messages (group_id, sender_id, content, sent_at) VALUES ($1, $2, $3, $4) RETURNING id`)).
		WithArgs(int64(5), int64(1), "hello", at).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(100))

	msg, err := s.PersistMessage(context.Background(), 5, chat.Principal{UserID: 1, DisplayName: "alice"}, "hello", at)
	if err != nil {
		t.Fatalf("PersistMessage: %v", err)
	}
	want := chat.StoredMessage{ID: 100, ChannelID: 5, SenderID: 1, SenderName: "alice", Content: "hello", SentAt: at}
	if msg != want {
		t.Errorf("got %+v, want %+v", msg, want)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_Message(t *testing.T) {
	mock, s := setupMockDB(t)
	at := time.Date(2026, 5, 2, 8, 30, 0, 0, time.UTC)
	cols := []string{"id", "group_id", "sender_id", "username", "content", "sent_at"}
	mock.ExpectQuery("FROM messages m LEFT JOIN users u").WithArgs(int64(100)).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(100, 5, 1, "alice", "hello", at))
	mock.ExpectQuery("FROM messages m LEFT JOIN users u").WithArgs(int64(101)).
		WillReturnError(sql.ErrNoRows)

	msg, err := s.Message(context.Background(), 100)
	if err != nil {
		t.Fatalf("Message: %v", err)
	}
	if msg.ChannelID != 5 || msg.SenderName != "alice" || !msg.SentAt.Equal(at) {
		t.Errorf("unexpected message: %+v", msg)
	}
	if _, err := s.Message(context.Background(), 101); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_DeleteChannelMessages(t *testing.T) {
	mock, s := setupMockDB(t)
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM messages WHERE group_id = $1`)).
		WithArgs(int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.DeleteChannelMessages(context.Background(), 5)
	if err != nil || n != 3 {
		t.Fatalf("DeleteChannelMessages = %d, %v; want 3", n, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSQLStore_CreateGroupRollsBack(t *testing.T) {
	mock, s := setupMockDB(t)
	mock.ExpectBegin()
	mock.ExpectQuery("INSERT INTO travel_groups").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectExec("INSERT INTO memberships").WillReturnError(errors.New("fk violation"))
	mock.ExpectRollback()

	if _, err := s.CreateGroup(context.Background(), "Porto", 1); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
