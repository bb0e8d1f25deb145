package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dotsetgreg/dotcompanion/pkg/logger"
)

const (
	defaultHTTPTimeout = 120 * time.Second
	maxErrorBody       = 2000
)

// Client talks to an OpenAI-compatible chat completions server such as
// llama.cpp. A server that is still loading its model answers 503; those
// calls are retried with a short backoff.
type Client struct {
	name         string
	apiBase      string
	defaultModel string
	auth         AuthStrategy
	httpClient   *http.Client
	attempts     int
	backoff      time.Duration
}

// ClientOptions configures NewClient. Zero values pick defaults.
type ClientOptions struct {
	Name     string
	APIBase  string
	Model    string
	Timeout  time.Duration
	Auth     AuthStrategy
	Attempts int
	Backoff  time.Duration
}

func NewClient(opts ClientOptions) (*Client, error) {
	name := strings.TrimSpace(strings.ToLower(opts.Name))
	if name == "" {
		name = ProviderLocal
	}
	apiBase := strings.TrimRight(strings.TrimSpace(opts.APIBase), "/")
	if apiBase == "" {
		return nil, fmt.Errorf("%s API base not configured", name)
	}
	u, err := url.Parse(apiBase)
	if err != nil {
		return nil, fmt.Errorf("parse %s API base: %w", name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%s API base must be an http(s) URL, got %q", name, apiBase)
	}

	c := &Client{
		name:         name,
		apiBase:      apiBase,
		defaultModel: strings.TrimSpace(opts.Model),
		auth:         opts.Auth,
		httpClient:   &http.Client{Timeout: opts.Timeout},
		attempts:     opts.Attempts,
		backoff:      opts.Backoff,
	}
	if c.auth == nil {
		c.auth = NewNoAuth()
	}
	if c.httpClient.Timeout <= 0 {
		c.httpClient.Timeout = defaultHTTPTimeout
	}
	if c.attempts <= 0 {
		c.attempts = 3
	}
	if c.backoff <= 0 {
		c.backoff = time.Second
	}
	return c, nil
}

type chatRequest struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	ToolChoice  string           `json:"tool_choice,omitempty"`
	MaxTokens   int              `json:"max_tokens,omitempty"`
	Temperature float64          `json:"temperature"`
	Stop        []string         `json:"stop,omitempty"`
}

// statusError carries a non-2xx answer from the server.
type statusError struct {
	provider string
	status   int
	message  string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%s API request failed: status=%d error=%s", e.provider, e.status, e.message)
}

func (e *statusError) retryable() bool {
	return e.status == http.StatusServiceUnavailable || e.status == http.StatusTooManyRequests || e.status >= 500
}

func (c *Client) Chat(ctx context.Context, messages []Message, defs []ToolDefinition, opts ChatOptions) (*LLMResponse, error) {
	req := chatRequest{
		Model:       c.defaultModel,
		Messages:    messages,
		MaxTokens:   opts.MaxTokens,
		Temperature: opts.Temperature,
		Stop:        opts.Stop,
	}
	if len(defs) > 0 {
		req.Tools = defs
		req.ToolChoice = "auto"
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal %s request: %w", c.name, err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		body, err := c.post(ctx, "/chat/completions", payload)
		if err == nil {
			resp, perr := parseChatResponse(body)
			if perr != nil {
				return nil, fmt.Errorf("parse %s response: %w", c.name, perr)
			}
			return resp, nil
		}
		lastErr = err

		var se *statusError
		if errors.As(err, &se) && !se.retryable() {
			return nil, err
		}
		if ctx.Err() != nil || attempt == c.attempts {
			break
		}
		logger.DebugCF("provider", "Retrying completion request", map[string]interface{}{
			"provider": c.name,
			"attempt":  attempt,
			"error":    err.Error(),
		})
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.backoff * time.Duration(attempt)):
		}
	}
	return nil, lastErr
}

// Ping checks that the server answers its model listing.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiBase+"/models", nil)
	if err != nil {
		return err
	}
	if err := c.auth.Apply(ctx, req); err != nil {
		return fmt.Errorf("apply %s auth: %w", c.name, err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("reach %s server: %w", c.name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode >= http.StatusBadRequest {
		return &statusError{provider: c.name, status: resp.StatusCode, message: http.StatusText(resp.StatusCode)}
	}
	return nil
}

func (c *Client) GetDefaultModel() string {
	if c == nil {
		return ""
	}
	return c.defaultModel
}

func (c *Client) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if err := c.auth.Apply(ctx, req); err != nil {
		return nil, fmt.Errorf("apply %s auth: %w", c.name, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send %s request: %w", c.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", c.name, err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, &statusError{
			provider: c.name,
			status:   resp.StatusCode,
			message:  augmentProviderError(extractAPIError(body)),
		}
	}
	return body, nil
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   json.RawMessage `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function *struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *UsageInfo `json:"usage"`
}

func parseChatResponse(body []byte) (*LLMResponse, error) {
	var raw chatResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if len(raw.Choices) == 0 {
		return &LLMResponse{FinishReason: "stop", Usage: raw.Usage}, nil
	}

	choice := raw.Choices[0]
	out := &LLMResponse{
		Content:      contentText(choice.Message.Content),
		FinishReason: choice.FinishReason,
		Usage:        raw.Usage,
	}
	for _, tc := range choice.Message.ToolCalls {
		if tc.Function == nil || strings.TrimSpace(tc.Function.Name) == "" {
			continue
		}
		args := map[string]interface{}{}
		if strings.TrimSpace(tc.Function.Arguments) != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]interface{}{"raw": tc.Function.Arguments}
			}
		}
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Type:      tc.Type,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

// contentText accepts either a plain string or an array of text parts.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Text    string `json:"text"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Text != "" {
			b.WriteString(p.Text)
		} else {
			b.WriteString(p.Content)
		}
	}
	return b.String()
}

func extractAPIError(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "empty response body"
	}

	var payload struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		var nested struct {
			Message string `json:"message"`
		}
		if len(payload.Error) > 0 && json.Unmarshal(payload.Error, &nested) == nil && strings.TrimSpace(nested.Message) != "" {
			return strings.TrimSpace(nested.Message)
		}
		var flat string
		if len(payload.Error) > 0 && json.Unmarshal(payload.Error, &flat) == nil && strings.TrimSpace(flat) != "" {
			return strings.TrimSpace(flat)
		}
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
	}

	if len(trimmed) > maxErrorBody {
		return trimmed[:maxErrorBody] + "..."
	}
	return trimmed
}
