package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("USERS_COLLECTION_ID", "users")
	t.Setenv("SESSIONS_COLLECTION_ID", "sessions")
	t.Setenv("CHATS_COLLECTION_ID", "chats")
	t.Setenv("OPENROUTER_API_KEY", "sk-test")
	t.Setenv("TELEGRAM_TOKEN", "123:abc")
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, BackendDynamoDB, cfg.StoreBackend)
	require.Equal(t, Tables{Users: "users", Sessions: "sessions", Chats: "chats"}, cfg.Tables)
	require.Equal(t, "https://openrouter.ai/api/v1", cfg.OpenRouter.BaseURL)
	require.Equal(t, "openai/gpt-3.5-turbo", cfg.OpenRouter.Model)
	require.Equal(t, 500, cfg.OpenRouter.MaxTokens)
	require.InDelta(t, 0.7, cfg.OpenRouter.Temperature, 1e-9)
	require.Equal(t, "HTML", cfg.Telegram.ParseMode)
	require.Equal(t, 10, cfg.ContextLimit)
	require.Equal(t, "helpful", cfg.PromptProfile)
	require.True(t, cfg.TypingIndicator)
	require.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	require.Equal(t, 30*time.Second, cfg.OpenRouter.Timeout)
	require.Equal(t, "8080", cfg.Port)
	require.False(t, cfg.UsesParamStore())
}

func TestLoad_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("STORE_BACKEND", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/relay.db")
	t.Setenv("OPENROUTER_MODEL", "anthropic/claude-3-haiku")
	t.Setenv("OPENROUTER_TEMPERATURE", "0")
	t.Setenv("CONTEXT_LIMIT", "4")
	t.Setenv("TYPING_INDICATOR", "false")
	t.Setenv("HTTP_TIMEOUT", "3s")
	t.Setenv("SYSTEM_PROMPT", "Be brief.")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, BackendSQLite, cfg.StoreBackend)
	require.Equal(t, "/tmp/relay.db", cfg.SQLitePath)
	require.Equal(t, "anthropic/claude-3-haiku", cfg.OpenRouter.Model)
	require.Zero(t, cfg.OpenRouter.Temperature)
	require.Equal(t, 4, cfg.ContextLimit)
	require.False(t, cfg.TypingIndicator)
	require.Equal(t, 3*time.Second, cfg.HTTPTimeout)
	require.Equal(t, "Be brief.", cfg.SystemPrompt)
}

func TestLoad_ParamPrefixReplacesStaticSecrets(t *testing.T) {
	t.Setenv("USERS_COLLECTION_ID", "users")
	t.Setenv("SESSIONS_COLLECTION_ID", "sessions")
	t.Setenv("CHATS_COLLECTION_ID", "chats")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("PARAM_PREFIX", "/relay/prod/")

	cfg, err := Load()
	require.NoError(t, err)
	require.True(t, cfg.UsesParamStore())
	require.Equal(t, "/relay/prod", cfg.ParamPrefix)
}

func TestLoad_ReportsEveryProblem(t *testing.T) {
	t.Setenv("USERS_COLLECTION_ID", "")
	t.Setenv("SESSIONS_COLLECTION_ID", "")
	t.Setenv("CHATS_COLLECTION_ID", "")
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("TELEGRAM_TOKEN", "")
	t.Setenv("PARAM_PREFIX", "")
	t.Setenv("STORE_BACKEND", "mongo")
	t.Setenv("CONTEXT_LIMIT", "0")

	_, err := Load()
	require.Error(t, err)
	for _, want := range []string{
		"STORE_BACKEND",
		"USERS_COLLECTION_ID",
		"SESSIONS_COLLECTION_ID",
		"CHATS_COLLECTION_ID",
		"OPENROUTER_API_KEY",
		"TELEGRAM_TOKEN",
		"CONTEXT_LIMIT",
	} {
		require.ErrorContains(t, err, want)
	}
}

func TestValidate_Temperature(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("OPENROUTER_TEMPERATURE", "2.5")

	_, err := Load()
	require.ErrorContains(t, err, "OPENROUTER_TEMPERATURE")
}

func TestLoad_OpenRouterTimeoutIsSeparateFromHTTPTimeout(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("HTTP_TIMEOUT", "5s")
	t.Setenv("OPENROUTER_TIMEOUT", "45s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, cfg.HTTPTimeout)
	require.Equal(t, 45*time.Second, cfg.OpenRouter.Timeout)

	t.Setenv("OPENROUTER_TIMEOUT", "0s")
	_, err = Load()
	require.ErrorContains(t, err, "OPENROUTER_TIMEOUT")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	require.Equal(t, slog.LevelError, ParseLevel("error"))
	require.Equal(t, slog.LevelInfo, ParseLevel(""))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}
