package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Upstream failure classes the orchestrator reacts to. Adapters wrap
// transport errors into one of these so callers never switch on provider
// internals.
var (
	ErrUnavailable     = errors.New("llm upstream unavailable")
	ErrRateLimited     = errors.New("llm upstream rate limited")
	ErrInvalidResponse = errors.New("llm returned an invalid response")
)

// Message is one role-tagged entry of a chat prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Request is a fully assembled prompt for one completion call.
type Request struct {
	Messages []Message `json:"messages"`
}

// Response is the completion text for a request.
type Response struct {
	Text string `json:"text"`
}

// Generator produces a completion for an assembled prompt.
type Generator interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// Config controls generator construction.
type Config struct {
	Provider string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	AzureEndpoint   string
	AzureAPIKey     string
	AzureDeployment string

	OllamaURL   string
	OllamaModel string
}

// NewGenerator builds the configured generator. Mode "auto" prefers Azure,
// then OpenAI, then Ollama, and falls back to the mock so local development
// works without any credentials.
func NewGenerator(cfg Config) (Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if mode == "" {
		mode = "auto"
	}

	switch mode {
	case "auto":
		if strings.TrimSpace(cfg.AzureAPIKey) != "" && strings.TrimSpace(cfg.AzureEndpoint) != "" {
			return NewAzureOpenAIGenerator(cfg.AzureEndpoint, cfg.AzureAPIKey, cfg.AzureDeployment), nil
		}
		if strings.TrimSpace(cfg.OpenAIAPIKey) != "" {
			return NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), nil
		}
		if strings.TrimSpace(cfg.OllamaURL) != "" {
			return NewOllamaGenerator(cfg.OllamaURL, cfg.OllamaModel), nil
		}
		return NewMockGenerator(), nil
	case "openai":
		if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
			return nil, errors.New("OPENAI_API_KEY is required for openai mode")
		}
		return NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel), nil
	case "azure":
		if strings.TrimSpace(cfg.AzureAPIKey) == "" || strings.TrimSpace(cfg.AzureEndpoint) == "" {
			return nil, errors.New("AZURE_OPENAI_ENDPOINT and AZURE_OPENAI_API_KEY are required for azure mode")
		}
		return NewAzureOpenAIGenerator(cfg.AzureEndpoint, cfg.AzureAPIKey, cfg.AzureDeployment), nil
	case "ollama":
		return NewOllamaGenerator(cfg.OllamaURL, cfg.OllamaModel), nil
	case "mock":
		return NewMockGenerator(), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
