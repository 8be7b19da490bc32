package oracle

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/ollama"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

// Provider identifies the chat model backend.
type Provider string

const (
	ProviderOpenAI     Provider = "openai"
	ProviderOpenRouter Provider = "openrouter"
	ProviderOllama     Provider = "ollama"
	ProviderAnthropic  Provider = "anthropic"
	ProviderGemini     Provider = "gemini"
)

const (
	DefaultOllamaURL     = "http://localhost:11434"
	DefaultOpenRouterURL = "https://openrouter.ai/api/v1"
	DefaultMaxTokens     = 2000
)

// envKeys lists the environment variables consulted when no API key is configured.
var envKeys = map[Provider][]string{
	ProviderOpenAI:     {"OPENAI_API_KEY"},
	ProviderOpenRouter: {"OPENROUTER_API_KEY", "OPENAI_API_KEY"},
	ProviderAnthropic:  {"ANTHROPIC_API_KEY"},
	ProviderGemini:     {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// Config selects and configures a chat model.
type Config struct {
	Provider  Provider
	Model     string
	APIKey    string
	BaseURL   string
	Timeout   time.Duration
	MaxTokens int
}

// ValidateProvider checks if the given provider string is supported.
func ValidateProvider(p string) (Provider, error) {
	switch Provider(p) {
	case ProviderOpenAI, ProviderOpenRouter, ProviderOllama, ProviderAnthropic, ProviderGemini:
		return Provider(p), nil
	default:
		return "", fmt.Errorf("unsupported provider: %s", p)
	}
}

// ResolveAPIKey returns the configured key or the first non-empty env fallback.
func (c Config) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	for _, name := range envKeys[c.Provider] {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// NewChatModel creates the eino chat model for cfg.
func NewChatModel(ctx context.Context, cfg Config) (model.BaseChatModel, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("%s model name is required", cfg.Provider)
	}
	apiKey := cfg.ResolveAPIKey()
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	switch cfg.Provider {
	case ProviderOpenAI, ProviderOpenRouter:
		if apiKey == "" {
			return nil, fmt.Errorf("%s API key is required", cfg.Provider)
		}
		baseURL := cfg.BaseURL
		if baseURL == "" && cfg.Provider == ProviderOpenRouter {
			baseURL = DefaultOpenRouterURL
		}
		return openai.NewChatModel(ctx, &openai.ChatModelConfig{
			Model:     cfg.Model,
			APIKey:    apiKey,
			BaseURL:   baseURL,
			Timeout:   cfg.Timeout,
			MaxTokens: &maxTokens,
		})

	case ProviderOllama:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = DefaultOllamaURL
		}
		return ollama.NewChatModel(ctx, &ollama.ChatModelConfig{
			BaseURL: baseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
		})

	case ProviderAnthropic:
		if apiKey == "" {
			return nil, fmt.Errorf("anthropic API key is required")
		}
		return claude.NewChatModel(ctx, &claude.Config{
			APIKey:    apiKey,
			Model:     cfg.Model,
			MaxTokens: maxTokens,
		})

	case ProviderGemini:
		if apiKey == "" {
			return nil, fmt.Errorf("gemini API key is required")
		}
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  apiKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("creating gemini client: %w", err)
		}
		return gemini.NewChatModel(ctx, &gemini.Config{
			Client:    client,
			Model:     cfg.Model,
			MaxTokens: &maxTokens,
		})

	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s (supported: openai, openrouter, ollama, anthropic, gemini)", cfg.Provider)
	}
}
