// Package config loads relay configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendDynamoDB = "dynamodb"
	BackendSQLite   = "sqlite"
)

// Config holds all relay configuration.
type Config struct {
	StoreBackend string
	Tables       Tables
	SQLitePath   string

	// ParamPrefix, when set, makes secrets come from SSM instead of the
	// OpenRouterAPIKey / TelegramToken fields.
	ParamPrefix      string
	OpenRouterAPIKey string
	TelegramToken    string

	OpenRouter OpenRouterConfig
	Telegram   TelegramConfig

	ContextLimit    int
	PromptProfile   string
	SystemPrompt    string
	TypingIndicator bool
	HTTPTimeout     time.Duration

	Port     string
	LogLevel string
}

// Tables are the collection identifiers of the document store.
type Tables struct {
	Users    string
	Sessions string
	Chats    string
}

type OpenRouterConfig struct {
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Referer     string
	Title       string
	// Timeout bounds one completion request; HTTPTimeout covers the Bot API.
	Timeout     time.Duration
}

type TelegramConfig struct {
	APIBase   string
	ParseMode string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store_backend", BackendDynamoDB)
	v.SetDefault("sqlite_path", "./data/relay.db")
	v.SetDefault("openrouter_base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("openrouter_model", "openai/gpt-3.5-turbo")
	v.SetDefault("openrouter_max_tokens", 500)
	v.SetDefault("openrouter_temperature", 0.7)
	v.SetDefault("openrouter_title", "Telegram AI Chatbot")
	v.SetDefault("openrouter_timeout", 30*time.Second)
	v.SetDefault("telegram_api_base", "https://api.telegram.org")
	v.SetDefault("telegram_parse_mode", "HTML")
	v.SetDefault("context_limit", 10)
	v.SetDefault("prompt_profile", "helpful")
	v.SetDefault("typing_indicator", true)
	v.SetDefault("http_timeout", 10*time.Second)
	v.SetDefault("port", "8080")
	v.SetDefault("log_level", "info")
}

// Load reads configuration from environment variables and validates it.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		StoreBackend: strings.ToLower(strings.TrimSpace(v.GetString("store_backend"))),
		Tables: Tables{
			Users:    strings.TrimSpace(v.GetString("users_collection_id")),
			Sessions: strings.TrimSpace(v.GetString("sessions_collection_id")),
			Chats:    strings.TrimSpace(v.GetString("chats_collection_id")),
		},
		SQLitePath:       strings.TrimSpace(v.GetString("sqlite_path")),
		ParamPrefix:      strings.TrimRight(strings.TrimSpace(v.GetString("param_prefix")), "/"),
		OpenRouterAPIKey: strings.TrimSpace(v.GetString("openrouter_api_key")),
		TelegramToken:    strings.TrimSpace(v.GetString("telegram_token")),
		OpenRouter: OpenRouterConfig{
			BaseURL:     strings.TrimSpace(v.GetString("openrouter_base_url")),
			Model:       strings.TrimSpace(v.GetString("openrouter_model")),
			MaxTokens:   v.GetInt("openrouter_max_tokens"),
			Temperature: v.GetFloat64("openrouter_temperature"),
			Referer:     strings.TrimSpace(v.GetString("openrouter_referer")),
			Title:       strings.TrimSpace(v.GetString("openrouter_title")),
			Timeout:     v.GetDuration("openrouter_timeout"),
		},
		Telegram: TelegramConfig{
			APIBase:   strings.TrimSpace(v.GetString("telegram_api_base")),
			ParseMode: strings.TrimSpace(v.GetString("telegram_parse_mode")),
		},
		ContextLimit:    v.GetInt("context_limit"),
		PromptProfile:   strings.TrimSpace(v.GetString("prompt_profile")),
		SystemPrompt:    v.GetString("system_prompt"),
		TypingIndicator: v.GetBool("typing_indicator"),
		HTTPTimeout:     v.GetDuration("http_timeout"),
		Port:            strings.TrimSpace(v.GetString("port")),
		LogLevel:        strings.TrimSpace(v.GetString("log_level")),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	var errs []error
	switch c.StoreBackend {
	case BackendDynamoDB:
	case BackendSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("SQLITE_PATH cannot be empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendDynamoDB, BackendSQLite, c.StoreBackend))
	}
	if c.Tables.Users == "" {
		errs = append(errs, errors.New("USERS_COLLECTION_ID cannot be empty"))
	}
	if c.Tables.Sessions == "" {
		errs = append(errs, errors.New("SESSIONS_COLLECTION_ID cannot be empty"))
	}
	if c.Tables.Chats == "" {
		errs = append(errs, errors.New("CHATS_COLLECTION_ID cannot be empty"))
	}
	if !c.UsesParamStore() {
		if c.OpenRouterAPIKey == "" {
			errs = append(errs, errors.New("OPENROUTER_API_KEY is required when PARAM_PREFIX is not set"))
		}
		if c.TelegramToken == "" {
			errs = append(errs, errors.New("TELEGRAM_TOKEN is required when PARAM_PREFIX is not set"))
		}
	}
	if c.OpenRouter.Model == "" {
		errs = append(errs, errors.New("OPENROUTER_MODEL cannot be empty"))
	}
	if c.OpenRouter.MaxTokens <= 0 {
		errs = append(errs, errors.New("OPENROUTER_MAX_TOKENS must be > 0"))
	}
	if c.OpenRouter.Temperature < 0 || c.OpenRouter.Temperature > 2 {
		errs = append(errs, errors.New("OPENROUTER_TEMPERATURE must be within [0, 2]"))
	}
	if c.OpenRouter.Timeout <= 0 {
		errs = append(errs, errors.New("OPENROUTER_TIMEOUT must be > 0"))
	}
	if c.ContextLimit <= 0 {
		errs = append(errs, errors.New("CONTEXT_LIMIT must be > 0"))
	}
	if c.HTTPTimeout <= 0 {
		errs = append(errs, errors.New("HTTP_TIMEOUT must be > 0"))
	}
	return errors.Join(errs...)
}

// UsesParamStore reports whether secrets are resolved from SSM.
func (c *Config) UsesParamStore() bool {
	return c.ParamPrefix != ""
}

// NewLogger returns a JSON slog logger on stdout at the configured level.
func (c *Config) NewLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: ParseLevel(c.LogLevel)}))
}

// ParseLevel maps debug|info|warn|error to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnvKeys are the variables an operator is expected to set, in the order
// diagnostics report them.
var EnvKeys = []string{
	"STORE_BACKEND",
	"USERS_COLLECTION_ID",
	"SESSIONS_COLLECTION_ID",
	"CHATS_COLLECTION_ID",
	"PARAM_PREFIX",
	"OPENROUTER_API_KEY",
	"TELEGRAM_TOKEN",
	"OPENROUTER_MODEL",
}
