package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/hivetechs/consensus/internal/consensuserrors"
	"github.com/hivetechs/consensus/internal/consensustypes"
)

// StreamChunk is one incremental delta from a streaming completion.
type StreamChunk struct {
	Delta string
	Done  bool
	Usage *consensustypes.Usage
}

type streamChunkWire struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Stream issues a streaming chat-completion call and invokes onChunk for
// every delta as it arrives, applying the same retry policy as
// CompleteWithRetry (spec.md §4.A: up to 3 attempts, exponential backoff
// starting at 1s, retrying only RateLimited/Timeout/Network/Server
// classifications). A retry only happens when the failing attempt produced
// no content delta yet — once onChunk has been called with a non-empty
// Delta, the caller may already have fanned that partial output out (e.g.
// stage_chunk events), so a retry would duplicate it; such failures are
// returned immediately instead.
func (c *Client) Stream(ctx context.Context, model string, messages []consensustypes.Message, temperature float64, maxTokens *int, onChunk func(StreamChunk)) (consensustypes.Usage, error) {
	classifier := consensuserrors.NewErrorClassifier()
	delay := initialRetryDelay

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		usage, emitted, err := c.doStream(ctx, model, messages, temperature, maxTokens, onChunk)
		if err == nil {
			return usage, nil
		}
		lastErr = err

		if emitted || !classifier.IsRetryable(err) || attempt == maxAttempts {
			return consensustypes.Usage{}, err
		}

		select {
		case <-ctx.Done():
			return consensustypes.Usage{}, ctx.Err()
		case <-time.After(delay):
		}
		delay *= backoffMultiplier
	}
	return consensustypes.Usage{}, lastErr
}

// doStream performs a single streaming attempt. It reports whether any
// content delta was handed to onChunk before the attempt failed, which Stream
// uses to decide whether a retry is safe.
func (c *Client) doStream(ctx context.Context, model string, messages []consensustypes.Message, temperature float64, maxTokens *int, onChunk func(StreamChunk)) (consensustypes.Usage, bool, error) {
	if c.apiKey == "" {
		return consensustypes.Usage{}, false, consensuserrors.ErrNoAPIKey
	}

	body, err := json.Marshal(chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      true,
	})
	if err != nil {
		return consensustypes.Usage{}, false, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return consensustypes.Usage{}, false, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return consensustypes.Usage{}, false, classifyTransportError(model, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return consensustypes.Usage{}, false, classifyStatusError(model, resp.StatusCode, nil)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, scannerInitialBufBytes()), scannerMaxBufBytes())

	var usage consensustypes.Usage
	var emitted bool
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			onChunk(StreamChunk{Done: true, Usage: &usage})
			return usage, emitted, nil
		}

		var wire streamChunkWire
		if err := json.Unmarshal([]byte(data), &wire); err != nil {
			return usage, emitted, consensuserrors.NewUpstreamError(consensuserrors.ErrProtocol, model, resp.StatusCode, err)
		}
		if wire.Usage != nil {
			usage = consensustypes.Usage{
				PromptTokens:     wire.Usage.PromptTokens,
				CompletionTokens: wire.Usage.CompletionTokens,
				TotalTokens:      wire.Usage.TotalTokens,
			}
		}
		if len(wire.Choices) > 0 && wire.Choices[0].Delta.Content != "" {
			onChunk(StreamChunk{Delta: wire.Choices[0].Delta.Content})
			emitted = true
		}
		if len(wire.Choices) > 0 && wire.Choices[0].FinishReason != nil {
			onChunk(StreamChunk{Done: true, Usage: &usage})
			return usage, emitted, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return usage, emitted, consensuserrors.NewUpstreamError(consensuserrors.ErrNetwork, model, resp.StatusCode, err)
	}
	onChunk(StreamChunk{Done: true, Usage: &usage})
	return usage, emitted, nil
}

const (
	defaultScannerBufBytes = 64 * 1024
	maxScannerBufBytesCap  = 1 * 1024 * 1024
	defaultScannerMaxBytes = 16 * 1024 * 1024
	maxScannerMaxBytesCap  = 64 * 1024 * 1024
)

func scannerInitialBufBytes() int {
	return envIntCapped("CONSENSUS_SSE_SCANNER_BUFFER_BYTES", defaultScannerBufBytes, maxScannerBufBytesCap)
}

func scannerMaxBufBytes() int {
	return envIntCapped("CONSENSUS_SSE_SCANNER_MAX_BYTES", defaultScannerMaxBytes, maxScannerMaxBytesCap)
}

func envIntCapped(key string, def, max int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
