// Package app assembles the relay from configuration. Every entry point
// builds the same object graph through New.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"telegram-relay/internal/config"
	"telegram-relay/internal/integrations/openrouter"
	"telegram-relay/internal/integrations/paramstore"
	"telegram-relay/internal/integrations/telegram"
	"telegram-relay/internal/repository"
	"telegram-relay/internal/usecase"
)

// Parameter names below PARAM_PREFIX.
const (
	OpenRouterTokenParam = "openrouter-token"
	TelegramTokenParam   = "telegram-token"
)

// App holds the wired components.
type App struct {
	Config     *config.Config
	Store      usecase.Store
	Params     *paramstore.Client
	OpenRouter *openrouter.Client
	Telegram   *telegram.Client
	Relay      *usecase.Relay
}

// New wires the relay. The AWS SDK config is loaded only when DynamoDB or
// SSM is in use.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		c, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("app: load AWS config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	a := &App{Config: cfg}

	store, err := openStore(cfg, loadAWS)
	if err != nil {
		return nil, err
	}
	a.Store = store

	openrouterToken, telegramToken, err := a.tokens(cfg, loadAWS)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a.OpenRouter, err = openrouter.NewClient(openrouterToken,
		openrouter.WithBaseURL(cfg.OpenRouter.BaseURL),
		openrouter.WithHTTPClient(&http.Client{Timeout: cfg.OpenRouter.Timeout}),
		openrouter.WithGeneration(cfg.OpenRouter.MaxTokens, cfg.OpenRouter.Temperature),
		openrouter.WithAttribution(cfg.OpenRouter.Referer, cfg.OpenRouter.Title),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.Telegram, err = telegram.NewClient(telegramToken,
		telegram.WithAPIBase(cfg.Telegram.APIBase),
		telegram.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
		telegram.WithParseMode(cfg.Telegram.ParseMode),
	)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a.Relay, err = newRelay(cfg, store, a.OpenRouter, a.Telegram, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return a, nil
}

// Close releases the store.
func (a *App) Close() error {
	if a == nil || a.Store == nil {
		return nil
	}
	return a.Store.Close()
}

func openStore(cfg *config.Config, loadAWS func() (aws.Config, error)) (usecase.Store, error) {
	tables := repository.Tables{
		Users:    cfg.Tables.Users,
		Sessions: cfg.Tables.Sessions,
		Chats:    cfg.Tables.Chats,
	}
	switch cfg.StoreBackend {
	case config.BackendSQLite:
		store, err := repository.NewSQLiteStore(cfg.SQLitePath, tables)
		if err != nil {
			return nil, fmt.Errorf("app: open sqlite store: %w", err)
		}
		return store, nil
	case config.BackendDynamoDB:
		awsCfg, err := loadAWS()
		if err != nil {
			return nil, err
		}
		store, err := repository.NewDynamoStore(awsdynamodb.NewFromConfig(awsCfg), tables)
		if err != nil {
			return nil, fmt.Errorf("app: create dynamodb store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("app: unknown store backend %q", cfg.StoreBackend)
	}
}

func (a *App) tokens(cfg *config.Config, loadAWS func() (aws.Config, error)) (paramstore.TokenSource, paramstore.TokenSource, error) {
	if !cfg.UsesParamStore() {
		return paramstore.StaticToken(cfg.OpenRouterAPIKey), paramstore.StaticToken(cfg.TelegramToken), nil
	}
	awsCfg, err := loadAWS()
	if err != nil {
		return nil, nil, err
	}
	params, err := paramstore.New(awsssm.NewFromConfig(awsCfg), cfg.ParamPrefix)
	if err != nil {
		return nil, nil, fmt.Errorf("app: create param store client: %w", err)
	}
	a.Params = params

	openrouterToken, err := paramstore.NewCachedToken(params, OpenRouterTokenParam)
	if err != nil {
		return nil, nil, err
	}
	telegramToken, err := paramstore.NewCachedToken(params, TelegramTokenParam)
	if err != nil {
		return nil, nil, err
	}
	return openrouterToken, telegramToken, nil
}

func newRelay(cfg *config.Config, store usecase.Store, model usecase.ModelClient, chat usecase.Messenger, logger *slog.Logger) (*usecase.Relay, error) {
	systemPrompt, err := usecase.SystemPrompt(cfg.PromptProfile, cfg.SystemPrompt)
	if err != nil {
		return nil, err
	}
	users, err := usecase.NewUserRegistry(store)
	if err != nil {
		return nil, err
	}
	sessions, err := usecase.NewSessionManager(store)
	if err != nil {
		return nil, err
	}
	assembler, err := usecase.NewContextAssembler(store, systemPrompt, logger)
	if err != nil {
		return nil, err
	}
	turns, err := usecase.NewMessageStore(store)
	if err != nil {
		return nil, err
	}
	return usecase.NewRelay(users, sessions, assembler, turns, model, chat, usecase.RelayOptions{
		Model:        cfg.OpenRouter.Model,
		ContextLimit: cfg.ContextLimit,
		Typing:       cfg.TypingIndicator,
	}, logger)
}
