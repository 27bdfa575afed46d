package usecase

import (
	"context"
	"errors"
	"strings"

	"telegram-relay/internal/domain"
)

// SessionManager finds or creates the active session of a user. Sessions are
// never deactivated here, so the first session created stays in use.
type SessionManager struct {
	store SessionStore
}

func NewSessionManager(store SessionStore) (*SessionManager, error) {
	if store == nil {
		return nil, errors.New("usecase: session store must not be nil")
	}
	return &SessionManager{store: store}, nil
}

// EnsureActiveSession returns the first active session the store yields for
// userID, or a newly created active one.
func (m *SessionManager) EnsureActiveSession(ctx context.Context, userID string) (domain.Session, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Session{}, newError(ErrorStore, "empty_user_id", nil)
	}

	existing, err := m.store.FindActiveSession(ctx, userID)
	if err != nil {
		return domain.Session{}, newError(ErrorStore, "session_lookup_error", err)
	}
	if existing != nil {
		return *existing, nil
	}

	session := domain.Session{
		ID:        newUUID(),
		UserID:    userID,
		Active:    true,
		CreatedAt: now(),
	}
	if err := m.store.CreateSession(ctx, session); err != nil {
		return domain.Session{}, newError(ErrorStore, "session_create_error", err)
	}
	return session, nil
}
