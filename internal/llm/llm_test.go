package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miradorstack/mirador-aha/internal/config"
	"github.com/miradorstack/mirador-aha/internal/utils"
)

type stubProvider struct {
	name  string
	text  string
	err   error
	calls int
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Generate(ctx context.Context, req Request) (string, error) {
	s.calls++
	return s.text, s.err
}

func TestChainEmptyReturnsErrNoProvider(t *testing.T) {
	_, _, err := NewChain(0).Generate(context.Background(), Request{Prompt: "p"})
	assert.ErrorIs(t, err, ErrNoProvider)

	var nilChain *Chain
	_, _, err = nilChain.Generate(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoProvider)
}

func TestChainCallsOnlyFirstProvider(t *testing.T) {
	first := &stubProvider{name: "first", err: errors.New("boom")}
	second := &stubProvider{name: "second", text: "ok"}
	chain := NewChain(time.Second, nil, first, second)

	assert.Equal(t, []string{"first", "second"}, chain.Names())

	_, name, err := chain.Generate(context.Background(), Request{Prompt: "p"})
	require.Error(t, err)
	assert.Equal(t, "first", name)
	assert.Contains(t, err.Error(), "first: boom")
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls, "no fallthrough to lower priority providers")
}

func TestFromConfigHonoursOrderAndCredentials(t *testing.T) {
	cfg := config.LLMConfig{
		Order:     []string{"anthropic", "bogus", "openai", "gemini"},
		OpenAI:    config.ProviderConfig{APIKey: "sk-test"},
		Anthropic: config.ProviderConfig{},
	}
	chain, err := FromConfig(context.Background(), cfg, utils.DiscardLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"openai"}, chain.Names())

	chain, err = FromConfig(context.Background(), config.LLMConfig{Order: []string{"openai"}}, utils.DiscardLogger())
	require.NoError(t, err)
	assert.Empty(t, chain.Names())
}

func TestOpenAIProviderGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o", body.Model)
		assert.InDelta(t, 0.1, body.Temperature, 1e-9)
		assert.Equal(t, 1000, body.MaxTokens)
		require.Len(t, body.Messages, 1)
		assert.Equal(t, "user", body.Messages[0].Role)
		assert.Equal(t, "diagnose this", body.Messages[0].Content)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"DIAGNOSIS: bad json"}}]}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.ProviderConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"})
	text, err := p.Generate(context.Background(), Request{Prompt: "diagnose this", Temperature: 0.1, MaxTokens: 1000})
	require.NoError(t, err)
	assert.Equal(t, "DIAGNOSIS: bad json", text)
}

func TestOpenAIProviderErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited","type":"requests"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(config.ProviderConfig{APIKey: "sk-test", BaseURL: srv.URL})
	_, err := p.Generate(context.Background(), Request{Prompt: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "rate limited")

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer empty.Close()
	p = NewOpenAIProvider(config.ProviderConfig{APIKey: "sk-test", BaseURL: empty.URL})
	_, err = p.Generate(context.Background(), Request{Prompt: "x"})
	assert.Error(t, err)
}

func TestAnthropicProviderGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "sk-ant", r.Header.Get("X-Api-Key"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "claude-3-opus-20240229", body["model"])
		assert.EqualValues(t, 1000, body["max_tokens"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude-3-opus-20240229",
			"content": [{"type": "text", "text": "DIAGNOSIS: "}, {"type": "text", "text": "timeout"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 10, "output_tokens": 4}
		}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(config.ProviderConfig{APIKey: "sk-ant", BaseURL: srv.URL})
	text, err := p.Generate(context.Background(), Request{Prompt: "diagnose", Temperature: 0.1, MaxTokens: 1000})
	require.NoError(t, err)
	assert.Equal(t, "DIAGNOSIS: timeout", text)
}

func TestAnthropicProviderSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"type":"error","error":{"type":"authentication_error","message":"invalid x-api-key"}}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider(config.ProviderConfig{APIKey: "bad", BaseURL: srv.URL})
	_, err := p.Generate(context.Background(), Request{Prompt: "diagnose"})
	assert.Error(t, err)
}

func TestGeminiProviderRequiresKey(t *testing.T) {
	_, err := NewGeminiProvider(context.Background(), config.ProviderConfig{})
	assert.Error(t, err)
}
