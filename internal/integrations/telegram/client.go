package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"telegram-relay/internal/integrations/paramstore"
)

const (
	DefaultAPIBase   = "https://api.telegram.org"
	DefaultParseMode = "HTML"

	// MaxMessageRunes is the Bot API limit for one text message.
	MaxMessageRunes = 4096
)

// APIError is a Bot API failure. Method is used instead of the request URL,
// which embeds the bot token.
type APIError struct {
	Method      string
	StatusCode  int
	Description string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram: %s failed (status %d): %s", e.Method, e.StatusCode, e.Description)
}

func (e *APIError) HTTPStatusCode() int {
	return e.StatusCode
}

// response is the generic Bot API envelope.
type response struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type sendMessageRequest struct {
	ChatID    int64  `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type chatActionRequest struct {
	ChatID int64  `json:"chat_id"`
	Action string `json:"action"`
}

type setWebhookRequest struct {
	URL            string   `json:"url"`
	AllowedUpdates []string `json:"allowed_updates,omitempty"`
}

// BotUser is the result of getMe.
type BotUser struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	Username  string `json:"username"`
}

// Client is a minimal Telegram Bot API client.
type Client struct {
	apiBase    string
	httpClient *http.Client
	token      paramstore.TokenSource
	parseMode  string
}

type Option func(*Client)

func WithAPIBase(apiBase string) Option {
	return func(c *Client) {
		c.apiBase = strings.TrimRight(strings.TrimSpace(apiBase), "/")
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithParseMode sets parse_mode for sendMessage; "" sends plain text.
func WithParseMode(mode string) Option {
	return func(c *Client) {
		c.parseMode = strings.TrimSpace(mode)
	}
}

func NewClient(ts paramstore.TokenSource, opts ...Option) (*Client, error) {
	if ts == nil {
		return nil, errors.New("telegram: token source must not be nil")
	}
	c := &Client{
		apiBase:    DefaultAPIBase,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		token:      ts,
		parseMode:  DefaultParseMode,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.apiBase == "" {
		c.apiBase = DefaultAPIBase
	}
	return c, nil
}

// SendMessage delivers text to chatID, cut to MaxMessageRunes. When Telegram
// rejects the markup the text is sent again without a parse mode.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	req := sendMessageRequest{
		ChatID:    chatID,
		Text:      truncate(text, MaxMessageRunes),
		ParseMode: c.parseMode,
	}
	err := c.call(ctx, "sendMessage", req, nil)
	if err == nil || req.ParseMode == "" || !IsParseEntitiesError(err) {
		return err
	}
	req.ParseMode = ""
	return c.call(ctx, "sendMessage", req, nil)
}

// IsParseEntitiesError reports whether Telegram refused a message because
// its markup did not parse.
func IsParseEntitiesError(err error) bool {
	var aerr *APIError
	if !errors.As(err, &aerr) {
		return false
	}
	desc := strings.ToLower(aerr.Description)
	return strings.Contains(desc, "can't parse entities") || strings.Contains(desc, "can't parse entity")
}

// SendChatAction shows a transient status such as "typing" in the chat.
func (c *Client) SendChatAction(ctx context.Context, chatID int64, action string) error {
	return c.call(ctx, "sendChatAction", chatActionRequest{ChatID: chatID, Action: action}, nil)
}

// GetMe returns the bot's own identity.
func (c *Client) GetMe(ctx context.Context) (BotUser, error) {
	var me BotUser
	if err := c.call(ctx, "getMe", nil, &me); err != nil {
		return BotUser{}, err
	}
	return me, nil
}

// SetWebhook points the bot at url, restricted to message updates.
func (c *Client) SetWebhook(ctx context.Context, url string) error {
	url = strings.TrimSpace(url)
	if url == "" {
		return errors.New("telegram: webhook url must not be empty")
	}
	return c.call(ctx, "setWebhook", setWebhookRequest{URL: url, AllowedUpdates: []string{"message"}}, nil)
}

func (c *Client) call(ctx context.Context, method string, payload any, result any) error {
	token, err := c.token.Token(ctx)
	if err != nil {
		return fmt.Errorf("telegram: resolve bot token: %w", err)
	}

	var body io.Reader = http.NoBody
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("telegram: marshal %s: %w", method, err)
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/bot"+token+"/"+method, body)
	if err != nil {
		return fmt.Errorf("telegram: create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		// The transport error embeds the URL and with it the token.
		var uerr *neturl.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("telegram: %s request failed: %w", method, err)
	}
	defer func() { _ = res.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("telegram: read %s response: %w", method, err)
	}

	var env response
	if err := json.Unmarshal(raw, &env); err != nil {
		if res.StatusCode < 200 || res.StatusCode >= 300 {
			return &APIError{Method: method, StatusCode: res.StatusCode, Description: truncate(string(raw), 400)}
		}
		return fmt.Errorf("telegram: decode %s response: %w", method, err)
	}
	if !env.OK || res.StatusCode < 200 || res.StatusCode >= 300 {
		return &APIError{Method: method, StatusCode: res.StatusCode, Description: env.Description}
	}
	if result != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, result); err != nil {
			return fmt.Errorf("telegram: decode %s result: %w", method, err)
		}
	}
	return nil
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}
