// Package upstream implements the upstream client (spec §4.A): a non-
// streaming and streaming chat-completion call against an
// OpenRouter-compatible gateway, plus a secondary native Anthropic path
// (spec §6). Grounded on internal/circuitbreaker/http_wrapper.go's
// breaker-wrapped http.Client idiom (5xx classified as failures, 4xx not)
// and cmd/gateway/internal/openai/streamer.go's scanner/heartbeat SSE
// handling, inverted here for client-side consumption instead of
// server-side production.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hivetechs/consensus/internal/circuitbreaker"
	"github.com/hivetechs/consensus/internal/consensuserrors"
	"github.com/hivetechs/consensus/internal/consensustypes"
)

// httpDoer is satisfied by both *http.Client and *circuitbreaker.HTTPWrapper,
// letting Complete/doStream/ListModels call Do without caring which one is
// in front of the wire.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a chat-completion client against an OpenRouter-compatible
// gateway.
type Client struct {
	httpClient httpDoer
	baseURL    string
	apiKey     string
	logger     *zap.Logger
}

// Options configures a new Client.
type Options struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// New builds a Client. BaseURL defaults to OpenRouter's API root. Requests
// are issued through a circuitbreaker.HTTPWrapper (spec §4.A), which
// classifies 5xx responses as breaker failures and leaves 4xx alone so a
// flaky gateway trips the breaker without penalizing legitimate client
// errors like a bad model name.
func New(opts Options, logger *zap.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = "https://openrouter.ai/api/v1"
	}
	inner := &http.Client{Timeout: timeout}
	return &Client{
		httpClient: circuitbreaker.NewHTTPWrapper(inner, "gateway-http", "upstream-gateway", logger),
		baseURL:    baseURL,
		apiKey:     opts.APIKey,
		logger:     logger,
	}
}

// HasAPIKey reports whether the client was configured with a non-empty
// gateway API key, so callers can fail fast (spec.md §4.F pre-flight step 1,
// `NoApiKey`) instead of discovering emptiness lazily on the first request.
func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

type chatRequest struct {
	Model       string                     `json:"model"`
	Messages    []consensustypes.Message   `json:"messages"`
	Temperature float64                    `json:"temperature,omitempty"`
	MaxTokens   *int                       `json:"max_tokens,omitempty"`
	Stream      bool                       `json:"stream,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error,omitempty"`
}

// Complete issues a single non-streaming chat-completion call.
func (c *Client) Complete(ctx context.Context, model string, messages []consensustypes.Message, temperature float64, maxTokens *int) (string, consensustypes.Usage, error) {
	if c.apiKey == "" {
		return "", consensustypes.Usage{}, consensuserrors.ErrNoAPIKey
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", consensustypes.Usage{}, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", consensustypes.Usage{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", consensustypes.Usage{}, classifyTransportError(model, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", consensustypes.Usage{}, consensuserrors.NewUpstreamError(consensuserrors.ErrNetwork, model, resp.StatusCode, err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", consensustypes.Usage{}, classifyStatusError(model, resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", consensustypes.Usage{}, consensuserrors.NewUpstreamError(consensuserrors.ErrProtocol, model, resp.StatusCode, err)
	}
	if parsed.Error != nil {
		return "", consensustypes.Usage{}, classifyStatusError(model, parsed.Error.Code, []byte(parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return "", consensustypes.Usage{}, consensuserrors.NewUpstreamError(consensuserrors.ErrProtocol, model, resp.StatusCode, fmt.Errorf("no choices in response"))
	}

	usage := consensustypes.Usage{
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		TotalTokens:      parsed.Usage.TotalTokens,
	}
	return parsed.Choices[0].Message.Content, usage, nil
}

func classifyTransportError(model string, err error) error {
	type timeouter interface{ Timeout() bool }
	if te, ok := err.(timeouter); ok && te.Timeout() {
		return consensuserrors.NewUpstreamError(consensuserrors.ErrTimeout, model, 0, err)
	}
	return consensuserrors.NewUpstreamError(consensuserrors.ErrNetwork, model, 0, err)
}

func classifyStatusError(model string, code int, body []byte) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return consensuserrors.NewUpstreamError(consensuserrors.ErrInvalidKey, model, code, fmt.Errorf("%s", body))
	case code == http.StatusPaymentRequired:
		return consensuserrors.NewUpstreamError(consensuserrors.ErrInsufficientCredits, model, code, fmt.Errorf("%s", body))
	case code == http.StatusNotFound:
		return consensuserrors.NewUpstreamError(consensuserrors.ErrModelNotFound, model, code, fmt.Errorf("%s", body))
	case code == http.StatusTooManyRequests:
		return consensuserrors.NewUpstreamError(consensuserrors.ErrRateLimited, model, code, fmt.Errorf("%s", body))
	case code >= 500:
		return consensuserrors.NewUpstreamError(consensuserrors.ErrServer, model, code, fmt.Errorf("%s", body))
	default:
		return consensuserrors.NewUpstreamError(consensuserrors.ErrProtocol, model, code, fmt.Errorf("%s", body))
	}
}
