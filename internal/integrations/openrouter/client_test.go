package openrouter

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"telegram-relay/internal/domain"
	"telegram-relay/internal/integrations/paramstore"
)

type failingToken struct{}

func (failingToken) Token(context.Context) (string, error) { return "", errors.New("ssm unavailable") }

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithBaseURL(srv.URL), WithHTTPClient(srv.Client())}, opts...)
	c, err := NewClient(paramstore.StaticToken("sk-test"), opts...)
	require.NoError(t, err)
	return c
}

func TestChat_SendsRequestAndReturnsFirstChoice(t *testing.T) {
	var (
		gotPath    string
		gotHeaders http.Header
		gotBody    map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotHeaders = r.Header.Clone()
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"id":"gen-1","choices":[{"index":0,"message":{"role":"assistant","content":"Paris."},"finish_reason":"stop"},{"index":1,"message":{"role":"assistant","content":"ignored"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv, WithGeneration(200, 0.2), WithAttribution("https://example.com", "Relay Bot"))
	reply, err := c.Chat(context.Background(), "openai/gpt-3.5-turbo", []domain.ChatMessage{
		{Role: domain.RoleSystem, Content: "sys"},
		{Role: domain.RoleUser, Content: "Capital of France?"},
	})
	require.NoError(t, err)
	require.Equal(t, "Paris.", reply)

	require.Equal(t, "/chat/completions", gotPath)
	require.Equal(t, "Bearer sk-test", gotHeaders.Get("Authorization"))
	require.Equal(t, "https://example.com", gotHeaders.Get("HTTP-Referer"))
	require.Equal(t, "Relay Bot", gotHeaders.Get("X-Title"))
	require.Equal(t, "application/json", gotHeaders.Get("Content-Type"))

	require.Equal(t, "openai/gpt-3.5-turbo", gotBody["model"])
	require.EqualValues(t, 200, gotBody["max_tokens"])
	require.InDelta(t, 0.2, gotBody["temperature"], 1e-9)
	msgs := gotBody["messages"].([]any)
	require.Len(t, msgs, 2)
	require.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestChat_DefaultGenerationSettings(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), DefaultModel, []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}})
	require.NoError(t, err)
	require.EqualValues(t, DefaultMaxTokens, gotBody["max_tokens"])
	require.InDelta(t, DefaultTemperature, gotBody["temperature"], 1e-9)
}

func TestChat_UpstreamErrorKeepsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"No auth credentials found","code":401}}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), DefaultModel, []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}})

	var herr *HTTPStatusError
	require.ErrorAs(t, err, &herr)
	require.Equal(t, http.StatusUnauthorized, herr.HTTPStatusCode())
	require.Equal(t, "No auth credentials found", herr.Body)
}

func TestChat_NonJSONErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), DefaultModel, []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}})

	var herr *HTTPStatusError
	require.ErrorAs(t, err, &herr)
	require.Equal(t, "upstream down", herr.Body)
}

func TestChat_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	_, err := c.Chat(context.Background(), DefaultModel, []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}})
	require.ErrorContains(t, err, "no choices")
}

func TestChat_ValidatesInput(t *testing.T) {
	c, err := NewClient(paramstore.StaticToken("sk"))
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), "", []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}})
	require.Error(t, err)
	_, err = c.Chat(context.Background(), DefaultModel, nil)
	require.Error(t, err)
}

func TestChat_TokenFailureSkipsRequest(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c, err := NewClient(failingToken{}, WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = c.Chat(context.Background(), DefaultModel, []domain.ChatMessage{{Role: domain.RoleUser, Content: "hi"}})
	require.ErrorContains(t, err, "ssm unavailable")
	require.False(t, called)
}

func TestListModels(t *testing.T) {
	var gotMethod, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		_, _ = w.Write([]byte(`{"data":[{"id":"openai/gpt-3.5-turbo"},{"id":"anthropic/claude-3-haiku"}]}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv)
	ids, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"openai/gpt-3.5-turbo", "anthropic/claude-3-haiku"}, ids)
	require.Equal(t, http.MethodGet, gotMethod)
	require.Equal(t, "/models", gotPath)
}

func TestEndpoint(t *testing.T) {
	require.Equal(t, "https://x.test/v1/models", endpoint("https://x.test/v1/", "/models"))
	require.Equal(t, DefaultBaseURL+"/models", endpoint("", "/models"))
}

func TestIsKnownModel(t *testing.T) {
	require.True(t, IsKnownModel("openai/gpt-3.5-turbo"))
	require.False(t, IsKnownModel("openai/gpt-9"))
}

func TestNewClient_NilTokenSource(t *testing.T) {
	_, err := NewClient(nil)
	require.Error(t, err)
}
