package usecase

import (
	"context"
	"time"

	"github.com/google/uuid"

	"telegram-relay/internal/domain"
)

// UserStore is the users collection as seen by UserRegistry.
type UserStore interface {
	FindUserByTelegramID(ctx context.Context, telegramID string) (*domain.User, error)
	CreateUser(ctx context.Context, user domain.User) error
}

// SessionStore is the sessions collection as seen by SessionManager.
type SessionStore interface {
	FindActiveSession(ctx context.Context, userID string) (*domain.Session, error)
	CreateSession(ctx context.Context, session domain.Session) error
}

// TurnReader returns up to limit turns of a session, newest first.
type TurnReader interface {
	RecentTurns(ctx context.Context, sessionID string, limit int) ([]domain.Turn, error)
}

type TurnWriter interface {
	CreateTurn(ctx context.Context, turn domain.Turn) error
}

// Store is the full document store; both repository backends satisfy it.
type Store interface {
	UserStore
	SessionStore
	TurnReader
	TurnWriter
	Ping(ctx context.Context) error
	Close() error
}

var newUUID = func() string {
	return uuid.NewString()
}

var now = func() time.Time {
	return time.Now().UTC()
}
