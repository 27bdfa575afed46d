package usecase

import (
	"context"
	"errors"
	"strings"

	"telegram-relay/internal/domain"
)

// UserRegistry finds or creates the user record of a platform identity.
type UserRegistry struct {
	store UserStore
}

func NewUserRegistry(store UserStore) (*UserRegistry, error) {
	if store == nil {
		return nil, errors.New("usecase: user store must not be nil")
	}
	return &UserRegistry{store: store}, nil
}

// EnsureUser returns the user registered for platformID, creating it with
// displayName on first sight. Concurrent first calls may both create.
func (r *UserRegistry) EnsureUser(ctx context.Context, platformID, displayName string) (domain.User, error) {
	platformID = strings.TrimSpace(platformID)
	if platformID == "" {
		return domain.User{}, newError(ErrorStore, "empty_platform_id", nil)
	}

	existing, err := r.store.FindUserByTelegramID(ctx, platformID)
	if err != nil {
		return domain.User{}, newError(ErrorStore, "user_lookup_error", err)
	}
	if existing != nil {
		return *existing, nil
	}

	user := domain.User{
		ID:         newUUID(),
		TelegramID: platformID,
		Username:   displayName,
		CreatedAt:  now(),
	}
	if err := r.store.CreateUser(ctx, user); err != nil {
		return domain.User{}, newError(ErrorStore, "user_create_error", err)
	}
	return user, nil
}
