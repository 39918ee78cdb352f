package aiconnectors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/mcpharvest/internal/llm"
)

// Provider represents an AI provider type
type Provider string

const (
	ProviderAnthropic  Provider = "anthropic"
	ProviderClaude     Provider = "claude" // alias of anthropic
	ProviderOpenRouter Provider = "openrouter"
	ProviderOpenAI     Provider = "openai"
	ProviderGemini     Provider = "gemini"
	ProviderOllama     Provider = "ollama"
	ProviderCohere     Provider = "cohere"
)

// OpenRouterBaseURL is the OpenAI-compatible endpoint used for the openrouter provider.
const OpenRouterBaseURL = "https://openrouter.ai/api/v1"

// ErrMissingAPIKey is returned when a hosted provider is configured without credentials.
var ErrMissingAPIKey = errors.New("api key is required")

// ConnectorOptions contains options for creating a model backend
type ConnectorOptions struct {
	Provider Provider `json:"provider"`
	APIKey   string   `json:"api_key"`
	BaseURL  string   `json:"base_url,omitempty"`
	Model    string   `json:"model,omitempty"`
	SiteURL  string   `json:"site_url,omitempty"` // openrouter HTTP-Referer
	AppName  string   `json:"app_name,omitempty"` // openrouter X-Title
}

// DefaultModel returns the model used when none is configured.
func DefaultModel(p Provider) string {
	switch p {
	case ProviderAnthropic, ProviderClaude:
		return "claude-sonnet-4-20250514"
	case ProviderOpenRouter:
		return "deepseek/deepseek-v3.2-exp"
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderGemini:
		return "gemini-2.5-flash"
	case ProviderOllama:
		return "llama3"
	case ProviderCohere:
		return "command-r"
	default:
		return ""
	}
}

// NewModel creates the backend selected by options.Provider.
func NewModel(ctx context.Context, options ConnectorOptions) (llm.Model, error) {
	provider := Provider(strings.ToLower(string(options.Provider)))
	if options.Model == "" {
		options.Model = DefaultModel(provider)
	}
	if options.APIKey == "" && provider != ProviderOllama {
		return nil, fmt.Errorf("provider %s: %w", provider, ErrMissingAPIKey)
	}

	log.Debug().
		Str("provider", string(provider)).
		Str("model", options.Model).
		Msg("Creating model backend")

	var (
		model llms.Model
		keys  usageKeys
		err   error
	)

	switch provider {
	case ProviderAnthropic, ProviderClaude:
		provider = ProviderAnthropic
		model, err = anthropic.New(
			anthropic.WithToken(options.APIKey),
			anthropic.WithModel(options.Model),
		)
		keys = usageKeys{input: "InputTokens", output: "OutputTokens"}
	case ProviderOpenRouter:
		model, err = createOpenRouterModel(options)
		keys = usageKeys{input: "PromptTokens", output: "CompletionTokens"}
	case ProviderOpenAI:
		model, err = createOpenAIModel(options)
		keys = usageKeys{input: "PromptTokens", output: "CompletionTokens"}
	case ProviderOllama:
		model, err = createOllamaModel(options)
		keys = usageKeys{input: "PromptTokens", output: "CompletionTokens"}
	case ProviderCohere:
		model, err = createCohereModel(options)
		keys = usageKeys{input: "InputTokens", output: "OutputTokens"}
	case ProviderGemini:
		gm, err := NewGeminiModel(ctx, options)
		if err != nil {
			return nil, err
		}
		return gm, nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", options.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", provider, err)
	}

	return &LangchainModel{
		name:  string(provider),
		model: options.Model,
		llm:   model,
		keys:  keys,
	}, nil
}

func createOpenAIModel(options ConnectorOptions) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(options.Model),
		openai.WithToken(options.APIKey),
	}
	if options.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(options.BaseURL))
	}
	return openai.New(opts...)
}

func createOpenRouterModel(options ConnectorOptions) (llms.Model, error) {
	baseURL := options.BaseURL
	if baseURL == "" {
		baseURL = OpenRouterBaseURL
	}

	headers := map[string]string{}
	if options.SiteURL != "" {
		headers["HTTP-Referer"] = options.SiteURL
	}
	if options.AppName != "" {
		headers["X-Title"] = options.AppName
	}

	opts := []openai.Option{
		openai.WithModel(options.Model),
		openai.WithToken(options.APIKey),
		openai.WithBaseURL(baseURL),
	}
	if len(headers) > 0 {
		opts = append(opts, openai.WithHTTPClient(&http.Client{
			Transport: &headerTransport{base: http.DefaultTransport, headers: headers},
		}))
	}
	return openai.New(opts...)
}

func createCohereModel(options ConnectorOptions) (llms.Model, error) {
	opts := []cohere.Option{
		cohere.WithToken(options.APIKey),
		cohere.WithModel(options.Model),
	}
	if options.BaseURL != "" {
		opts = append(opts, cohere.WithBaseURL(options.BaseURL))
	}
	return cohere.New(opts...)
}

func createOllamaModel(options ConnectorOptions) (llms.Model, error) {
	if options.BaseURL == "" {
		options.BaseURL = "http://localhost:11434"
	}
	return ollama.New(
		ollama.WithServerURL(options.BaseURL),
		ollama.WithModel(options.Model),
	)
}

// headerTransport adds fixed headers to every request.
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range t.headers {
		clone.Header.Set(k, v)
	}
	return t.base.RoundTrip(clone)
}
