package llm

import (
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ProviderConfig selects and configures a concrete provider client.
type ProviderConfig struct {
	Provider string // anthropic, openai, ollama
	APIKey   string
	Model    string
	BaseURL  string

	// RequestsPerMinute caps outbound request rate for chat providers.
	// Zero means the client default.
	RequestsPerMinute int
}

func (cfg ProviderConfig) limiter() *rate.Limiter {
	if cfg.RequestsPerMinute <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 2)
}

// NewChatModel creates the tool-calling chat client for a provider.
// Ollama is not supported here: the tool loop needs native tool-use
// support, which only the cloud providers offer.
func NewChatModel(cfg ProviderConfig) (ChatModel, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{APIKey: cfg.APIKey, Model: cfg.Model, Limiter: cfg.limiter()}), nil
	case "openai":
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL, Limiter: cfg.limiter()}), nil
	default:
		return nil, fmt.Errorf("unsupported chat provider: %q", cfg.Provider)
	}
}

// NewTextGenerator creates the completion client used for summarization.
func NewTextGenerator(cfg ProviderConfig) (TextGenerator, error) {
	switch cfg.Provider {
	case "anthropic":
		return NewAnthropicClient(AnthropicConfig{APIKey: cfg.APIKey, Model: cfg.Model}), nil
	case "openai":
		return NewOpenAIClient(OpenAIConfig{APIKey: cfg.APIKey, Model: cfg.Model, BaseURL: cfg.BaseURL}), nil
	case "ollama", "":
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: cfg.Model}), nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %q", cfg.Provider)
	}
}

// NewEmbeddingGenerator creates the embedding client for a provider.
// Returns (nil, nil) for providers without embedding support (Anthropic);
// summary search is simply disabled in that case.
func NewEmbeddingGenerator(cfg ProviderConfig, embeddingModel string) (EmbeddingGenerator, error) {
	switch cfg.Provider {
	case "openai":
		return NewOpenAIEmbeddingClient(OpenAIEmbeddingConfig{APIKey: cfg.APIKey, Model: embeddingModel, BaseURL: cfg.BaseURL}), nil
	case "ollama", "":
		model := embeddingModel
		if model == "" {
			model = "nomic-embed-text"
		}
		return NewOllamaClient(OllamaConfig{BaseURL: cfg.BaseURL, Model: model}), nil
	default:
		return nil, nil
	}
}
