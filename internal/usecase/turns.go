package usecase

import (
	"context"
	"errors"

	"telegram-relay/internal/domain"
)

// MessageStore appends chat turns. Turns are never updated or deleted.
type MessageStore struct {
	store TurnWriter
}

func NewMessageStore(store TurnWriter) (*MessageStore, error) {
	if store == nil {
		return nil, errors.New("usecase: turn writer must not be nil")
	}
	return &MessageStore{store: store}, nil
}

// AppendTurn persists one turn stamped with the current time.
func (s *MessageStore) AppendTurn(ctx context.Context, sessionID, userID, role, content string) (domain.Turn, error) {
	turn := domain.Turn{
		ID:        newUUID(),
		SessionID: sessionID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: now(),
	}
	if err := s.store.CreateTurn(ctx, turn); err != nil {
		return domain.Turn{}, newError(ErrorStore, "turn_write_error", err)
	}
	return turn, nil
}
