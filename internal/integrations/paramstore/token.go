package paramstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// TokenSource yields an API credential.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// tokenPayload is the JSON shape stored in SSM for API tokens.
type tokenPayload struct {
	Token string `json:"token"`
}

// CachedToken reads a {"token":"..."} parameter on first use. A successful
// read is kept for the lifetime of the process; a failed one is retried on
// the next call.
type CachedToken struct {
	getter Getter
	name   string

	mu    sync.Mutex
	token string
}

func NewCachedToken(getter Getter, name string) (*CachedToken, error) {
	if getter == nil {
		return nil, errors.New("paramstore: getter must not be nil")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("paramstore: token parameter name is empty")
	}
	return &CachedToken{getter: getter, name: name}, nil
}

func (c *CachedToken) Token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	raw, err := c.getter.GetParameter(ctx, c.name)
	if err != nil {
		return "", fmt.Errorf("paramstore: fetch token %q: %w", c.name, err)
	}
	var tp tokenPayload
	if err := json.Unmarshal([]byte(raw), &tp); err != nil {
		return "", fmt.Errorf("paramstore: unmarshal token %q as JSON: %w", c.name, err)
	}
	if strings.TrimSpace(tp.Token) == "" {
		return "", fmt.Errorf("paramstore: token %q is empty", c.name)
	}
	c.token = tp.Token
	return c.token, nil
}

// StaticToken is a credential supplied directly through configuration.
type StaticToken string

func (s StaticToken) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(s)) == "" {
		return "", errors.New("paramstore: static token is empty")
	}
	return string(s), nil
}
