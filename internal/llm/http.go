package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"silver/internal/config"
)

// maxErrorBody bounds how much of a failed response is kept in StatusError.
const maxErrorBody = 2048

// HTTPClient talks to an OpenAI-compatible chat completions endpoint.
//
// Zero values in the config are given defaults:
//   - Timeout:   60s
//   - MaxTokens: 2048
type HTTPClient struct {
	endpoint  string
	apiKey    string
	maxTokens int
	http      *http.Client
	log       *zap.Logger
}

// NewHTTPClient builds a client from cfg. transport may be nil.
func NewHTTPClient(cfg config.LLM, transport http.RoundTripper, log *zap.Logger) (*HTTPClient, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("llm: endpoint must not be empty")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if transport == nil {
		transport = http.DefaultTransport
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &HTTPClient{
		endpoint:  cfg.Endpoint,
		apiKey:    cfg.APIKey,
		maxTokens: cfg.MaxTokens,
		http:      &http.Client{Timeout: cfg.Timeout, Transport: transport},
		log:       log.Named("llm"),
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
		Text    string      `json:"text"`
	} `json:"choices"`
}

// Complete sends one chat completion request and returns the first choice.
func (c *HTTPClient) Complete(ctx context.Context, model, prompt string) (string, error) {
	if model == "" {
		return "", errors.New("llm: model must not be empty")
	}
	body, err := json.Marshal(chatRequest{
		Model:     model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("llm: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: %s: %w", c.endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("llm: response has no choices")
	}
	text := out.Choices[0].Message.Content
	if text == "" {
		text = out.Choices[0].Text
	}
	c.log.Debug("completion",
		zap.String("model", model),
		zap.Int("prompt_bytes", len(prompt)),
		zap.Int("response_bytes", len(text)),
		zap.Duration("elapsed", time.Since(start)),
	)
	return text, nil
}
