package domain

import "time"

// User is one chat-platform identity known to the relay.
type User struct {
	ID         string
	TelegramID string
	Username   string
	CreatedAt  time.Time
}

// Session groups the turns of one user. Sessions are created active and
// never deactivated by the relay.
type Session struct {
	ID        string
	UserID    string
	Active    bool
	CreatedAt time.Time
}

// Turn is a single persisted message of a session.
type Turn struct {
	ID        string
	SessionID string
	UserID    string
	Role      string
	Content   string
	CreatedAt time.Time
}
