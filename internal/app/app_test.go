package app

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"telegram-relay/internal/config"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		StoreBackend:     config.BackendSQLite,
		Tables:           config.Tables{Users: "users", Sessions: "sessions", Chats: "chats"},
		SQLitePath:       filepath.Join(t.TempDir(), "relay.db"),
		OpenRouterAPIKey: "sk-test",
		TelegramToken:    "123:abc",
		OpenRouter: config.OpenRouterConfig{
			Model:       "openai/gpt-3.5-turbo",
			MaxTokens:   500,
			Temperature: 0.7,
			Timeout:     5 * time.Second,
		},
		ContextLimit:  10,
		PromptProfile: "helpful",
		HTTPTimeout:   5 * time.Second,
	}
}

func TestNew_SQLiteWithStaticSecrets(t *testing.T) {
	a, err := New(context.Background(), sqliteConfig(t), slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NotNil(t, a.Relay)
	require.NotNil(t, a.OpenRouter)
	require.NotNil(t, a.Telegram)
	require.Nil(t, a.Params)
	require.NoError(t, a.Store.Ping(context.Background()))
}

func TestNew_RejectsUnknownPromptProfile(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.PromptProfile = "grumpy"
	_, err := New(context.Background(), cfg, nil)
	require.ErrorContains(t, err, "grumpy")
}

func TestNew_RejectsUnknownBackend(t *testing.T) {
	cfg := sqliteConfig(t)
	cfg.StoreBackend = "mongo"
	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}

// TestRelayEndToEnd drives one update through the wired relay against fake
// OpenRouter and Telegram servers and a real SQLite store.
func TestRelayEndToEnd(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []string
	)
	openrouterSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hello from the model"}}]}`))
	}))
	defer openrouterSrv.Close()
	telegramSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		sent = append(sent, r.URL.Path+" "+string(raw))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
	}))
	defer telegramSrv.Close()

	cfg := sqliteConfig(t)
	cfg.OpenRouter.BaseURL = openrouterSrv.URL
	cfg.Telegram.APIBase = telegramSrv.URL
	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	update := `{"update_id":1,"message":{"message_id":1,"from":{"id":42,"first_name":"Alice"},"chat":{"id":42},"text":"Hi"}}`
	out, err := a.Relay.Handle(context.Background(), []byte(update))
	require.NoError(t, err)
	require.True(t, out.Delivered)
	require.Equal(t, 2, out.TurnsWritten)

	turns, err := a.Store.RecentTurns(context.Background(), mustSessionID(t, a), 10)
	require.NoError(t, err)
	require.Len(t, turns, 2)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 1)
	require.True(t, strings.HasPrefix(sent[0], "/bot123:abc/sendMessage "))
	require.Contains(t, sent[0], "Hello from the model")
}

func mustSessionID(t *testing.T, a *App) string {
	t.Helper()
	session, err := a.Store.FindActiveSession(context.Background(), "42")
	require.NoError(t, err)
	require.NotNil(t, session)
	return session.ID
}
