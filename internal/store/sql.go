package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/Tyrowin/travelchat/internal/chat"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

// SQLStore implements Store on database/sql. Queries are written with '?'
// placeholders and rebound for Postgres.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// OpenSQL opens and pings a database for driver ("postgres" or "sqlite").
func OpenSQL(ctx context.Context, driver string, cfg Config) (*SQLStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("dsn is required for %s", driver)
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if driver == DriverSQLite {
		// One connection: ":memory:" databases are per connection and SQLite
		// serializes writers anyway.
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
		if cfg.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
		}
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if driver == DriverSQLite {
		if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys = ON`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	return NewSQLStore(db, driver), nil
}

// NewSQLStore wraps an open handle.
func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

// Close closes the underlying database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "duplicate")
}

// Migrate applies the embedded schema migrations that have not run yet.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			id TEXT PRIMARY KEY,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	dir := path.Join("migrations", s.driver)
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, name := range names {
		id := strings.TrimSuffix(name, ".sql")
		if applied[id] {
			continue
		}
		body, err := migrationsFS.ReadFile(path.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", id, err)
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", id, err)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO schema_migrations (id) VALUES (?)`), id); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", id, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", id, err)
		}
	}
	return nil
}

func (s *SQLStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query schema_migrations: %w", err)
	}
	defer rows.Close()

	applied := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[id] = true
	}
	return applied, rows.Err()
}

// IsMember reports whether user belongs to group.
func (s *SQLStore) IsMember(ctx context.Context, group chat.ChannelID, user chat.UserID) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT 1 FROM memberships WHERE group_id = ? AND user_id = ?`),
		int64(group), int64(user)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return true, nil
}

// RoleOf returns the user's role in group.
func (s *SQLStore) RoleOf(ctx context.Context, group chat.ChannelID, user chat.UserID) (chat.Role, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT role FROM memberships WHERE group_id = ? AND user_id = ?`),
		int64(group), int64(user)).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get role: %w", err)
	}
	return chat.Role(role), nil
}

// AddMember inserts a membership.
func (s *SQLStore) AddMember(ctx context.Context, group chat.ChannelID, user chat.UserID, role chat.Role) error {
	if role == "" {
		role = chat.RoleMember
	}
	_, err := s.db.ExecContext(ctx,
		s.rebind(`INSERT INTO memberships (group_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`),
		int64(group), int64(user), string(role), time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("add member: %w", err)
	}
	return nil
}

// RemoveMember deletes a membership.
func (s *SQLStore) RemoveMember(ctx context.Context, group chat.ChannelID, user chat.UserID) error {
	res, err := s.db.ExecContext(ctx,
		s.rebind(`DELETE FROM memberships WHERE group_id = ? AND user_id = ?`),
		int64(group), int64(user))
	if err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// LookupUser resolves a token subject to a principal.
func (s *SQLStore) LookupUser(ctx context.Context, subject string) (chat.Principal, error) {
	id, email := LookupKey(subject)
	var row *sql.Row
	if id > 0 {
		row = s.db.QueryRowContext(ctx, s.rebind(`SELECT id, username FROM users WHERE id = ?`), int64(id))
	} else {
		row = s.db.QueryRowContext(ctx, s.rebind(`SELECT id, username FROM users WHERE lower(email) = ?`), email)
	}
	var (
		uid      int64
		username string
	)
	if err := row.Scan(&uid, &username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return chat.Principal{}, ErrNotFound
		}
		return chat.Principal{}, fmt.Errorf("lookup user: %w", err)
	}
	return chat.Principal{UserID: chat.UserID(uid), DisplayName: username}, nil
}

// CreateUser inserts a user.
func (s *SQLStore) CreateUser(ctx context.Context, email, username string) (User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return User{}, fmt.Errorf("email is required")
	}
	var id int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`INSERT INTO users (email, username) VALUES (?, ?) RETURNING id`),
		email, username).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrAlreadyExists
		}
		return User{}, fmt.Errorf("create user: %w", err)
	}
	return User{ID: chat.UserID(id), Email: email, Username: username}, nil
}

// CreateGroup inserts a group and its creator's ADMIN membership in one
// transaction.
func (s *SQLStore) CreateGroup(ctx context.Context, name string, createdBy chat.UserID) (Group, error) {
	now := time.Now().UTC()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Group{}, fmt.Errorf("begin create group: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var id int64
	if err := tx.QueryRowContext(ctx,
		s.rebind(`INSERT INTO travel_groups (name, created_by, created_at) VALUES (?, ?, ?) RETURNING id`),
		name, int64(createdBy), now).Scan(&id); err != nil {
		return Group{}, fmt.Errorf("create group: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO memberships (group_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)`),
		id, int64(createdBy), string(chat.RoleAdmin), now); err != nil {
		return Group{}, fmt.Errorf("add group creator: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Group{}, fmt.Errorf("commit create group: %w", err)
	}
	return Group{ID: chat.ChannelID(id), Name: name, CreatedBy: createdBy, CreatedAt: now}, nil
}

const selectMessage = `SELECT m.id, m.group_id, m.sender_id, COALESCE(u.username, ''), m.content, m.sent_at
	FROM messages m LEFT JOIN users u ON u.id = m.sender_id`

// PersistMessage stores a chat message and returns it with its assigned id.
func (s *SQLStore) PersistMessage(ctx context.Context, group chat.ChannelID, sender chat.Principal, content string, at time.Time) (chat.StoredMessage, error) {
	at = at.UTC()
	var id int64
	err := s.db.QueryRowContext(ctx,
		s.rebind(`INSERT INTO messages (group_id, sender_id, content, sent_at) VALUES (?, ?, ?, ?) RETURNING id`),
		int64(group), int64(sender.UserID), content, at).Scan(&id)
	if err != nil {
		return chat.StoredMessage{}, fmt.Errorf("persist message: %w", err)
	}
	return chat.StoredMessage{
		ID:         chat.MessageID(id),
		ChannelID:  group,
		SenderID:   sender.UserID,
		SenderName: sender.DisplayName,
		Content:    content,
		SentAt:     at,
	}, nil
}

// Message loads one stored message.
func (s *SQLStore) Message(ctx context.Context, id chat.MessageID) (chat.StoredMessage, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(selectMessage+` WHERE m.id = ?`), int64(id))
	msg, err := scanMessage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return chat.StoredMessage{}, ErrNotFound
	}
	if err != nil {
		return chat.StoredMessage{}, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

// DeleteMessage removes one message.
func (s *SQLStore) DeleteMessage(ctx context.Context, id chat.MessageID) error {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM messages WHERE id = ?`), int64(id))
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteChannelMessages removes every message in group and returns how many
// were deleted.
func (s *SQLStore) DeleteChannelMessages(ctx context.Context, group chat.ChannelID) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM messages WHERE group_id = ?`), int64(group))
	if err != nil {
		return 0, fmt.Errorf("delete group messages: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete group messages: %w", err)
	}
	return n, nil
}

// ListMessages returns the group's messages oldest first.
func (s *SQLStore) ListMessages(ctx context.Context, group chat.ChannelID) ([]chat.StoredMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(selectMessage+` WHERE m.group_id = ? ORDER BY m.sent_at ASC, m.id ASC`), int64(group))
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var out []chat.StoredMessage
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMessage(row scanner) (chat.StoredMessage, error) {
	var (
		id, group, sender int64
		msg               chat.StoredMessage
	)
	if err := row.Scan(&id, &group, &sender, &msg.SenderName, &msg.Content, &msg.SentAt); err != nil {
		return chat.StoredMessage{}, err
	}
	msg.ID = chat.MessageID(id)
	msg.ChannelID = chat.ChannelID(group)
	msg.SenderID = chat.UserID(sender)
	msg.SentAt = msg.SentAt.UTC()
	return msg, nil
}

var _ Store = (*SQLStore)(nil)
