package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/avandelay/parley/internal/reliability"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIGenerator talks to the OpenAI chat-completion API or any
// OpenAI-compatible endpoint.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIGenerator(apiKey, baseURL, model string) *OpenAIGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if strings.TrimSpace(baseURL) != "" {
		cfg.BaseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	}
	if strings.TrimSpace(model) == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(cfg), model: model}
}

// NewAzureOpenAIGenerator targets an Azure OpenAI deployment. The deployment
// name doubles as the model identifier on Azure.
func NewAzureOpenAIGenerator(endpoint, apiKey, deployment string) *OpenAIGenerator {
	cfg := openai.DefaultAzureConfig(apiKey, endpoint)
	if strings.TrimSpace(deployment) != "" {
		cfg.AzureModelMapperFunc = func(string) string { return deployment }
	}
	model := strings.TrimSpace(deployment)
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAIGenerator{client: openai.NewClientWithConfig(cfg), model: model}
}

func (g *OpenAIGenerator) Complete(ctx context.Context, req Request) (Response, error) {
	msgs := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: msgs,
	})
	if err != nil {
		return Response{}, classifyOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return Response{}, fmt.Errorf("%w: no choices returned", ErrInvalidResponse)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Response{}, fmt.Errorf("%w: empty completion", ErrInvalidResponse)
	}
	return Response{Text: text}, nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode == 429 {
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
		if reliability.IsRetryableHTTPStatus(apiErr.HTTPStatusCode) {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	// Transport-level failures (refused connection, DNS, TLS).
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
