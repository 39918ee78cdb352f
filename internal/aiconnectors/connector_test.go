package aiconnectors

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/mcpharvest/internal/llm"
)

type stubLLM struct {
	info    map[string]any
	content string
	gotOpts llms.CallOptions
}

func (s *stubLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return s.content, nil
}

func (s *stubLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	for _, opt := range options {
		opt(&s.gotOpts)
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: s.content, GenerationInfo: s.info}}}, nil
}

func TestLangchainModel_MapsUsage(t *testing.T) {
	stub := &stubLLM{content: `{"command":"npx"}`, info: map[string]any{"InputTokens": 120, "OutputTokens": int64(30)}}
	m := &LangchainModel{name: "anthropic", model: "claude-sonnet-4-20250514", llm: stub, keys: usageKeys{input: "InputTokens", output: "OutputTokens"}}

	resp, err := m.Complete(context.Background(), llm.Request{Prompt: "p", MaxTokens: 4000, Temperature: 0})

	require.NoError(t, err)
	assert.Equal(t, `{"command":"npx"}`, resp.Content)
	assert.Equal(t, 120, resp.InputTokens)
	assert.Equal(t, 30, resp.OutputTokens)
	assert.Equal(t, "claude-sonnet-4-20250514", resp.Model)
	assert.Equal(t, 4000, stub.gotOpts.MaxTokens)
	assert.Equal(t, "claude-sonnet-4-20250514", stub.gotOpts.Model)
}

func TestLangchainModel_RequestModelOverrides(t *testing.T) {
	stub := &stubLLM{content: "{}", info: map[string]any{"PromptTokens": 5.0}}
	m := &LangchainModel{name: "openrouter", model: "default", llm: stub, keys: usageKeys{input: "PromptTokens", output: "CompletionTokens"}}

	resp, err := m.Complete(context.Background(), llm.Request{Prompt: "p", Model: "deepseek/deepseek-v3.2-exp"})

	require.NoError(t, err)
	assert.Equal(t, "deepseek/deepseek-v3.2-exp", resp.Model)
	assert.Equal(t, 5, resp.InputTokens)
	assert.Equal(t, 0, resp.OutputTokens)
}

func TestNewModel_Validation(t *testing.T) {
	_, err := NewModel(context.Background(), ConnectorOptions{Provider: ProviderAnthropic})
	assert.True(t, errors.Is(err, ErrMissingAPIKey))

	_, err = NewModel(context.Background(), ConnectorOptions{Provider: "mystery", APIKey: "k"})
	assert.ErrorContains(t, err, "unsupported provider")
}

func TestNewModel_SelectsBackendByProvider(t *testing.T) {
	tests := []struct {
		provider Provider
		name     string
	}{
		{ProviderAnthropic, "anthropic"},
		{ProviderClaude, "anthropic"},
		{ProviderOpenRouter, "openrouter"},
		{ProviderOpenAI, "openai"},
	}
	for _, tt := range tests {
		t.Run(string(tt.provider), func(t *testing.T) {
			m, err := NewModel(context.Background(), ConnectorOptions{Provider: tt.provider, APIKey: "test-key"})
			require.NoError(t, err)
			assert.Equal(t, tt.name, m.Name())
		})
	}
}

func TestHeaderTransport(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
	}))
	defer srv.Close()

	client := &http.Client{Transport: &headerTransport{base: http.DefaultTransport, headers: map[string]string{
		"HTTP-Referer": "https://mcpharvest.dev",
		"X-Title":      "mcpharvest",
	}}}
	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, "https://mcpharvest.dev", got.Get("HTTP-Referer"))
	assert.Equal(t, "mcpharvest", got.Get("X-Title"))
}

func TestCheckOllamaModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"models":[{"name":"llama3:latest","size":1}]}`))
	}))
	defer srv.Close()

	assert.NoError(t, CheckOllamaModel(context.Background(), srv.URL, "", "llama3"))
	assert.Error(t, CheckOllamaModel(context.Background(), srv.URL, "", "mistral"))
}
