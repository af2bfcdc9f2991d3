// Package llm talks to a local Ollama server through /api/generate. It
// backs entity extraction, synonym generation and LLM intent
// classification.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	amerrors "github.com/Aman-CERP/amanrag/internal/errors"
)

const (
	DefaultHost    = "http://localhost:11434"
	DefaultModel   = "llama3.2:1b"
	DefaultTimeout = 2 * time.Second
)

// Config configures the generate client.
type Config struct {
	Host    string
	Model   string
	Timeout time.Duration

	// Temperature 0 keeps answers repeatable.
	Temperature float64

	Retry amerrors.RetryConfig
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Host:    DefaultHost,
		Model:   DefaultModel,
		Timeout: DefaultTimeout,
		Retry:   amerrors.DefaultRetryConfig(),
	}
}

// Client calls Ollama's /api/generate endpoint.
type Client struct {
	http   *http.Client
	config Config
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewClient creates a generate client. No request is made.
func NewClient(cfg Config) *Client {
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}
	cfg.Host = strings.TrimRight(cfg.Host, "/")
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry.Multiplier == 0 {
		cfg.Retry = amerrors.DefaultRetryConfig()
	}
	return &Client{http: &http.Client{}, config: cfg}
}

// Model returns the configured model name.
func (c *Client) Model() string {
	return c.config.Model
}

// Generate sends prompt and returns the model's full response. With
// jsonFormat set Ollama constrains the output to JSON. Transient failures
// are retried; caller cancellation and deadlines are returned as-is.
func (c *Client) Generate(ctx context.Context, prompt string, jsonFormat bool) (string, error) {
	req := generateRequest{
		Model:   c.config.Model,
		Prompt:  prompt,
		Options: map[string]any{"temperature": c.config.Temperature},
	}
	if jsonFormat {
		req.Format = "json"
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	return amerrors.RetryWithResult(ctx, c.config.Retry, func() (string, error) {
		out, err := c.do(ctx, body)
		if err != nil {
			slog.Debug("llm_generate_failed",
				slog.String("model", c.config.Model),
				slog.String("error", err.Error()))
		}
		return out, err
	})
}

func (c *Client) do(ctx context.Context, body []byte) (string, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.config.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return "", amerrors.New(amerrors.ErrCodeNetworkTimeout, "ollama generate timed out", err)
		}
		return "", amerrors.NetworkError("ollama generate failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", amerrors.NetworkError(msg, nil)
		}
		return "", amerrors.New(amerrors.ErrCodeInvalidInput, msg, nil)
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", amerrors.New(amerrors.ErrCodeMalformedResponse, "decode generate response", err)
	}
	return result.Response, nil
}

// Available checks that the Ollama server answers.
func (c *Client) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}
