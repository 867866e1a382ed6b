package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/avandelay/parley/internal/reliability"
)

// OllamaGenerator talks to a local Ollama server's chat API.
type OllamaGenerator struct {
	baseURL string
	model   string
	client  *http.Client
}

func NewOllamaGenerator(baseURL, model string) *OllamaGenerator {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = "http://localhost:11434"
	}
	if strings.TrimSpace(model) == "" {
		model = "llama3.2"
	}
	return &OllamaGenerator{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type ollamaChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type ollamaChatResponse struct {
	Message Message `json:"message"`
	Done    bool    `json:"done"`
}

func (g *OllamaGenerator) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := g.completeOnce(ctx, req)
	if err == nil {
		return resp, nil
	}
	// One retry for transient upstream failures; the orchestrator contract
	// forbids uncapped retries.
	if !isRetryable(err) {
		return Response{}, err
	}
	select {
	case <-ctx.Done():
		return Response{}, fmt.Errorf("%w: %v", ErrUnavailable, ctx.Err())
	case <-time.After(reliability.ExponentialBackoff(0, 200*time.Millisecond, time.Second)):
	}
	return g.completeOnce(ctx, req)
}

func (g *OllamaGenerator) completeOnce(ctx context.Context, req Request) (Response, error) {
	payload, err := json.Marshal(ollamaChatRequest{
		Model:    g.model,
		Messages: req.Messages,
		Stream:   false,
	})
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := g.client.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusTooManyRequests {
		return Response{}, fmt.Errorf("%w: ollama status %d", ErrRateLimited, res.StatusCode)
	}
	if res.StatusCode != http.StatusOK {
		if reliability.IsRetryableHTTPStatus(res.StatusCode) {
			return Response{}, fmt.Errorf("%w: ollama status %d", ErrUnavailable, res.StatusCode)
		}
		return Response{}, fmt.Errorf("%w: ollama status %d", ErrInvalidResponse, res.StatusCode)
	}

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(res.Body).Decode(&chatResp); err != nil {
		return Response{}, fmt.Errorf("%w: decode response: %v", ErrInvalidResponse, err)
	}
	text := strings.TrimSpace(chatResp.Message.Content)
	if text == "" {
		return Response{}, fmt.Errorf("%w: empty completion", ErrInvalidResponse)
	}
	return Response{Text: text}, nil
}

func isRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrRateLimited)
}
