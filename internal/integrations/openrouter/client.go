package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"telegram-relay/internal/domain"
	"telegram-relay/internal/integrations/paramstore"
)

const (
	DefaultBaseURL     = "https://openrouter.ai/api/v1"
	DefaultModel       = "openai/gpt-3.5-turbo"
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.7
)

// KnownModels are the model identifiers the relay has been run against.
var KnownModels = []string{
	"openai/gpt-3.5-turbo",
	"openai/gpt-4o-mini",
	"anthropic/claude-3-haiku",
	"meta-llama/llama-3.1-8b-instruct:free",
}

// IsKnownModel reports whether model is one of KnownModels.
func IsKnownModel(model string) bool {
	for _, m := range KnownModels {
		if m == model {
			return true
		}
	}
	return false
}

// chatRequest is the request shape for the chat completions endpoint.
type chatRequest struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Temperature *float64             `json:"temperature,omitempty"`
}

// chatResponse is the minimal response shape of the chat completions endpoint.
type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int                `json:"index"`
		Message      domain.ChatMessage `json:"message"`
		FinishReason string             `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// errorEnvelope is how the API reports failures in non-2xx bodies.
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type modelsResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("openrouter: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

// Client is a focused OpenAI-compatible chat completions client.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	token       paramstore.TokenSource
	maxTokens   int
	temperature float64
	referer     string
	title       string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSpace(baseURL)
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithGeneration sets max_tokens and temperature for every request.
func WithGeneration(maxTokens int, temperature float64) Option {
	return func(c *Client) {
		if maxTokens > 0 {
			c.maxTokens = maxTokens
		}
		if temperature >= 0 {
			c.temperature = temperature
		}
	}
}

// WithAttribution sets the HTTP-Referer and X-Title headers OpenRouter uses
// to attribute traffic to an app.
func WithAttribution(referer, title string) Option {
	return func(c *Client) {
		c.referer = strings.TrimSpace(referer)
		c.title = strings.TrimSpace(title)
	}
}

// NewClient creates a Client that authenticates with the token from ts.
func NewClient(ts paramstore.TokenSource, opts ...Option) (*Client, error) {
	if ts == nil {
		return nil, errors.New("openrouter: token source must not be nil")
	}
	c := &Client{
		baseURL:     DefaultBaseURL,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		token:       ts,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func endpoint(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return base + path
}

// Chat sends one chat completion request and returns the first choice.
func (c *Client) Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error) {
	if model == "" {
		return "", errors.New("openrouter: model must not be empty")
	}
	if len(messages) == 0 {
		return "", errors.New("openrouter: messages must not be empty")
	}

	temperature := c.temperature
	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: &temperature,
	})
	if err != nil {
		return "", fmt.Errorf("openrouter: marshal request: %w", err)
	}

	url := endpoint(c.baseURL, "/chat/completions")
	req, err := c.newRequest(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return "", fmt.Errorf("openrouter: request failed: %w", err)
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("openrouter: decode response: %w", err)
	}
	if len(payload.Choices) == 0 {
		return "", errors.New("openrouter: no choices in response")
	}
	return payload.Choices[0].Message.Content, nil
}

// ListModels returns the model ids the API currently serves.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	url := endpoint(c.baseURL, "/models")
	req, err := c.newRequest(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return nil, fmt.Errorf("openrouter: list models failed: %w", err)
	}
	var payload modelsResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("openrouter: decode models: %w", err)
	}
	ids := make([]string, 0, len(payload.Data))
	for _, m := range payload.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

func (c *Client) newRequest(ctx context.Context, method, url string, body io.Reader) (*http.Request, error) {
	apiKey, err := c.token.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("openrouter: resolve api key: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("openrouter: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+apiKey)
	if c.referer != "" {
		req.Header.Set("HTTP-Referer", c.referer)
	}
	if c.title != "" {
		req.Header.Set("X-Title", c.title)
	}
	return req, nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       upstreamMessage(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}

// upstreamMessage prefers error.message from a JSON error body.
func upstreamMessage(body []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return string(body)
}
