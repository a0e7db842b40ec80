// Package llm is a minimal client for the OpenAI Chat Completions wire
// format. It works against any compatible API (OpenAI, Azure OpenAI,
// OpenRouter, vLLM, Ollama) selected via the configured base URL.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Provider is the upstream model boundary. The extraction engine depends on
// this interface so tests can substitute a scripted fake.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Request is a single non-streaming completion request.
type Request struct {
	Model       string
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Response carries the assistant's text content.
type Response struct {
	Content string
	Model   string
}

// ProviderError is returned when the API responds with a non-200 status.
type ProviderError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("llm: HTTP %d: %s: %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("llm: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsRateLimited reports a rate-limit response (HTTP 429).
func (e *ProviderError) IsRateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsServerError reports an upstream 5xx.
func (e *ProviderError) IsServerError() bool {
	return e.StatusCode >= 500
}

// Client implements Provider over net/http.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewClient creates a client for the given OpenAI-compatible base URL
// (e.g., "https://api.openai.com/v1"). The per-call timeout bounds each
// request independent of caller context.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
}

// Complete sends the request and blocks until the full response is available.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	wire := wireRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		wire.Messages = append(wire.Messages, wireMessage{Role: "system", Content: req.System})
	}
	wire.Messages = append(wire.Messages, wireMessage{Role: "user", Content: req.User})

	body, err := json.Marshal(wire)
	if err != nil {
		return nil, fmt.Errorf("llm: marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm: sending request: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, readProviderError(httpResp)
	}

	var wireResp wireResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&wireResp); err != nil {
		return nil, fmt.Errorf("llm: decoding response: %w", err)
	}
	if len(wireResp.Choices) == 0 {
		return nil, fmt.Errorf("llm: response has no choices")
	}

	return &Response{
		Content: wireResp.Choices[0].Message.Content,
		Model:   wireResp.Model,
	}, nil
}

// readProviderError parses the common error body format used by OpenAI and
// compatible APIs: {"error":{"type":"...","message":"..."}}. Extra fields
// (OpenAI's "code" and "param") are ignored.
func readProviderError(httpResp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(httpResp.Body, 4096))

	var wireErr struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wireErr) == nil && wireErr.Error.Message != "" {
		return &ProviderError{
			StatusCode: httpResp.StatusCode,
			Type:       wireErr.Error.Type,
			Message:    wireErr.Error.Message,
		}
	}

	return &ProviderError{
		StatusCode: httpResp.StatusCode,
		Message:    string(body),
	}
}
