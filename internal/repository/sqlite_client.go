package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	_ "modernc.org/sqlite"

	"telegram-relay/internal/domain"
)

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLiteStore keeps the three collections in a local SQLite file. It is the
// self-hosted counterpart of DynamoStore and honours the same contract.
type SQLiteStore struct {
	db     *sql.DB
	tables Tables
}

// NewSQLiteStore opens (creating if needed) the database at dbPath.
func NewSQLiteStore(dbPath string, tables Tables) (*SQLiteStore, error) {
	if err := tables.validate(); err != nil {
		return nil, fmt.Errorf("repository: %w", err)
	}
	for _, name := range tables.all() {
		if !tableNamePattern.MatchString(name) {
			return nil, fmt.Errorf("repository: invalid sqlite table name %q", name)
		}
	}
	if dbPath == "" {
		return nil, errors.New("repository: sqlite path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("repository: create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("repository: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, tables: tables}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			telegram_id TEXT NOT NULL,
			username TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`, s.tables.Users),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_telegram ON %[1]s(telegram_id)`, s.tables.Users),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			active INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`, s.tables.Sessions),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_user ON %[1]s(user_id, active)`, s.tables.Sessions),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			user_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`, s.tables.Chats),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%[1]s_session ON %[1]s(session_id, created_at)`, s.tables.Chats),
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) FindUserByTelegramID(ctx context.Context, telegramID string) (*domain.User, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, telegram_id, username, created_at FROM %s WHERE telegram_id = ? ORDER BY rowid LIMIT 1`, s.tables.Users),
		telegramID,
	)
	var (
		user      domain.User
		createdAt string
	)
	err := row.Scan(&user.ID, &user.TelegramID, &user.Username, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: FindUserByTelegramID: %w", err)
	}
	user.CreatedAt = parseTime(createdAt)
	return &user, nil
}

func (s *SQLiteStore) CreateUser(ctx context.Context, user domain.User) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, telegram_id, username, created_at) VALUES (?, ?, ?, ?)`, s.tables.Users),
		user.ID, user.TelegramID, user.Username, formatTime(user.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("repository: CreateUser: %w", err)
	}
	return nil
}

// FindActiveSession returns the earliest-inserted active session of userID.
func (s *SQLiteStore) FindActiveSession(ctx context.Context, userID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT id, user_id, active, created_at FROM %s WHERE user_id = ? AND active = 1 ORDER BY rowid LIMIT 1`, s.tables.Sessions),
		userID,
	)
	var (
		session   domain.Session
		createdAt string
	)
	err := row.Scan(&session.ID, &session.UserID, &session.Active, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repository: FindActiveSession: %w", err)
	}
	session.CreatedAt = parseTime(createdAt)
	return &session, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, session domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, user_id, active, created_at) VALUES (?, ?, ?, ?)`, s.tables.Sessions),
		session.ID, session.UserID, session.Active, formatTime(session.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("repository: CreateSession: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit turns of a session, newest first.
func (s *SQLiteStore) RecentTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT id, session_id, user_id, role, content, created_at FROM %s
			WHERE session_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, s.tables.Chats),
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("repository: RecentTurns: %w", err)
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var (
			turn      domain.Turn
			createdAt string
		)
		if err := rows.Scan(&turn.ID, &turn.SessionID, &turn.UserID, &turn.Role, &turn.Content, &createdAt); err != nil {
			return nil, fmt.Errorf("repository: RecentTurns scan: %w", err)
		}
		turn.CreatedAt = parseTime(createdAt)
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: RecentTurns rows: %w", err)
	}
	return turns, nil
}

func (s *SQLiteStore) CreateTurn(ctx context.Context, turn domain.Turn) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (id, session_id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`, s.tables.Chats),
		turn.ID, turn.SessionID, turn.UserID, turn.Role, turn.Content, formatTime(turn.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("repository: CreateTurn: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func parseTime(raw string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}
