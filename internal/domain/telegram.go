package domain

import "strconv"

// Update is the subset of a Telegram webhook update the relay reads.
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

type Message struct {
	MessageID int64         `json:"message_id"`
	From      *TelegramUser `json:"from,omitempty"`
	Chat      TelegramChat  `json:"chat"`
	Date      int64         `json:"date"`
	Text      *string       `json:"text,omitempty"`
}

type TelegramUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

type TelegramChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

// PlatformID returns the sender identity as stored on User and Session.
func (m *Message) PlatformID() string {
	if m == nil || m.From == nil {
		return ""
	}
	return strconv.FormatInt(m.From.ID, 10)
}

// DisplayName prefers the @username and falls back to the first name.
func (m *Message) DisplayName() string {
	if m == nil || m.From == nil {
		return ""
	}
	if m.From.Username != "" {
		return m.From.Username
	}
	return m.From.FirstName
}

// Body returns the message text, or "" when the message carries none.
func (m *Message) Body() string {
	if m == nil || m.Text == nil {
		return ""
	}
	return *m.Text
}
