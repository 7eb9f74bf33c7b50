// Package llm generates conversational answers through any OpenAI-compatible
// chat completion API (vLLM, Ollama, OpenAI).
//
// Requests are not retried: by the time a completion runs, the caller has
// already spent its transcription retry budget and the user is waiting.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Result is a completed chat answer.
type Result struct {
	// Text is the assistant reply.
	Text string

	// Model is the model the backend reports it used.
	Model string

	// LatencyMs is the wall-clock request latency.
	LatencyMs int64
}

// Completion carries an async completion outcome.
type Completion struct {
	Result *Result
	Err    error
}

// Client talks to an OpenAI-compatible chat completion endpoint.
type Client struct {
	baseURL string
	apiKey  string
	config  *Config
	http    *http.Client
	logger  *slog.Logger
}

// New creates a new completion client.
func New(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		config:  cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger.With("component", "llm"),
	}, nil
}

// Complete generates one chat answer for the given messages.
func (c *Client) Complete(ctx context.Context, messages []Message) (*Result, error) {
	start := time.Now()

	payload := map[string]interface{}{
		"model":       c.config.Model,
		"messages":    messages,
		"max_tokens":  c.config.MaxTokens,
		"temperature": c.config.Temperature,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST",
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llm: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.parseError(resp)
	}

	var result chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode: %w", ErrMalformedResponse, err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	text := strings.TrimSpace(result.Choices[0].Message.Content)

	c.logger.Info("completion generated",
		"model", result.Model,
		"chars", len(text),
		"latency_ms", time.Since(start).Milliseconds(),
	)

	return &Result{
		Text:      text,
		Model:     result.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// CompleteAsync runs Complete in its own goroutine and delivers the outcome
// on the returned channel. The channel is buffered so the worker never
// blocks on a caller that went away.
func (c *Client) CompleteAsync(ctx context.Context, messages []Message) <-chan Completion {
	out := make(chan Completion, 1)
	go func() {
		result, err := c.Complete(ctx, messages)
		out <- Completion{Result: result, Err: err}
		close(out)
	}()
	return out
}

// Close releases resources.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// parseError reads and parses an error response.
func (c *Client) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		code = errResp.Error.Code
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    message,
		Code:       code,
	}
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}
