package usecase

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"telegram-relay/internal/domain"
)

// memStore is an in-memory Store with per-operation failure switches.
type memStore struct {
	users    []domain.User
	sessions []domain.Session
	turns    []domain.Turn

	findUserErr    error
	createUserErr  error
	findSessionErr error
	createSessErr  error
	recentErr      error
	createTurnErr  func(domain.Turn) error

	recentCalls  int
	recentLimits []int
}

func (m *memStore) FindUserByTelegramID(_ context.Context, telegramID string) (*domain.User, error) {
	if m.findUserErr != nil {
		return nil, m.findUserErr
	}
	for _, u := range m.users {
		if u.TelegramID == telegramID {
			u := u
			return &u, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateUser(_ context.Context, user domain.User) error {
	if m.createUserErr != nil {
		return m.createUserErr
	}
	m.users = append(m.users, user)
	return nil
}

func (m *memStore) FindActiveSession(_ context.Context, userID string) (*domain.Session, error) {
	if m.findSessionErr != nil {
		return nil, m.findSessionErr
	}
	for _, s := range m.sessions {
		if s.UserID == userID && s.Active {
			s := s
			return &s, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateSession(_ context.Context, session domain.Session) error {
	if m.createSessErr != nil {
		return m.createSessErr
	}
	m.sessions = append(m.sessions, session)
	return nil
}

// RecentTurns returns newest first like the real backends.
func (m *memStore) RecentTurns(_ context.Context, sessionID string, limit int) ([]domain.Turn, error) {
	m.recentCalls++
	m.recentLimits = append(m.recentLimits, limit)
	if m.recentErr != nil {
		return nil, m.recentErr
	}
	var out []domain.Turn
	for i := len(m.turns) - 1; i >= 0 && len(out) < limit; i-- {
		if m.turns[i].SessionID == sessionID {
			out = append(out, m.turns[i])
		}
	}
	return out, nil
}

func (m *memStore) CreateTurn(_ context.Context, turn domain.Turn) error {
	if m.createTurnErr != nil {
		if err := m.createTurnErr(turn); err != nil {
			return err
		}
	}
	m.turns = append(m.turns, turn)
	return nil
}

func (m *memStore) Ping(context.Context) error { return nil }
func (m *memStore) Close() error { return nil }

type fakeModel struct {
	reply    string
	err      error
	panicMsg string
	calls    int
	model    string
	messages []domain.ChatMessage
}

func (f *fakeModel) Chat(_ context.Context, model string, messages []domain.ChatMessage) (string, error) {
	f.calls++
	f.model = model
	f.messages = messages
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	return f.reply, f.err
}

type sentMessage struct {
	ChatID int64
	Text   string
}

type fakeMessenger struct {
	sent      []sentMessage
	actions   []string
	sendErr   error
	actionErr error
	// events records sends and actions in call order.
	events []string
}

func (f *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string) error {
	f.events = append(f.events, "send")
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text})
	return nil
}

func (f *fakeMessenger) SendChatAction(_ context.Context, _ int64, action string) error {
	f.events = append(f.events, "action:"+action)
	f.actions = append(f.actions, action)
	return f.actionErr
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubClock pins newUUID and now for the duration of the test.
func stubClock(t *testing.T) time.Time {
	t.Helper()
	origUUID, origNow := newUUID, now
	fixed := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	n := 0
	newUUID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	now = func() time.Time { return fixed }
	t.Cleanup(func() {
		newUUID, now = origUUID, origNow
	})
	return fixed
}
