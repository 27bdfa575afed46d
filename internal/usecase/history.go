package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"telegram-relay/internal/domain"
)

const DefaultContextLimit = 10

// ContextAssembler turns stored turns into the ordered message list the
// model is called with.
type ContextAssembler struct {
	turns        TurnReader
	systemPrompt string
	logger       *slog.Logger
}

func NewContextAssembler(turns TurnReader, systemPrompt string, logger *slog.Logger) (*ContextAssembler, error) {
	if turns == nil {
		return nil, errors.New("usecase: turn reader must not be nil")
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, errors.New("usecase: system prompt must not be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ContextAssembler{turns: turns, systemPrompt: systemPrompt, logger: logger}, nil
}

// LoadContext returns at most limit turns of the session, oldest first.
// On a store failure it still returns a usable empty context together with
// a STORE_ERROR, so callers can proceed and record the degradation.
func (a *ContextAssembler) LoadContext(ctx context.Context, sessionID string, limit int) ([]domain.ChatMessage, error) {
	if limit <= 0 {
		limit = DefaultContextLimit
	}
	turns, err := a.turns.RecentTurns(ctx, sessionID, limit)
	if err != nil {
		a.logger.DebugContext(ctx, "context load failed", "session_id", sessionID, "err", err)
		return []domain.ChatMessage{}, newError(ErrorStore, "context_load_failed", err)
	}
	if len(turns) > limit {
		turns = turns[:limit]
	}

	// The store yields newest first; the model wants chronological order.
	messages := make([]domain.ChatMessage, len(turns))
	for i, t := range turns {
		messages[len(turns)-1-i] = domain.ChatMessage{Role: t.Role, Content: t.Content}
	}
	return messages, nil
}

// BuildPrompt prepends the instruction turn and appends the new user message.
func (a *ContextAssembler) BuildPrompt(history []domain.ChatMessage, userMessage string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(history)+2)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleSystem, Content: a.systemPrompt})
	messages = append(messages, history...)
	messages = append(messages, domain.ChatMessage{Role: domain.RoleUser, Content: userMessage})
	return messages
}
