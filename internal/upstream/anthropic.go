package upstream

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/hivetechs/consensus/internal/consensuserrors"
	"github.com/hivetechs/consensus/internal/consensustypes"
)

// defaultAnthropicMaxTokens mirrors goadesign-goa-ai's effectiveMaxTokens
// fallback when a stage provides no explicit cap.
const defaultAnthropicMaxTokens = 4096

// AnthropicClient is the secondary native-SDK gateway (spec §6), used when
// a profile pins a stage directly to an Anthropic model instead of routing
// it through the OpenRouter-compatible gateway. Grounded directly on
// goadesign-goa-ai/features/model/anthropic/client.go's Options/Client
// shape and resolveModelID/effectiveMaxTokens/effectiveTemperature helpers.
type AnthropicClient struct {
	client *anthropic.Client
	logger *zap.Logger
}

// NewAnthropicClient builds a secondary-gateway client from an API key.
func NewAnthropicClient(apiKey string, logger *zap.Logger) *AnthropicClient {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{client: &c, logger: logger}
}

func effectiveMaxTokens(maxTokens *int) int64 {
	if maxTokens != nil && *maxTokens > 0 {
		return int64(*maxTokens)
	}
	return defaultAnthropicMaxTokens
}

func encodeMessages(messages []consensustypes.Message) ([]anthropic.MessageParam, string) {
	var system string
	var out []anthropic.MessageParam
	for _, m := range messages {
		switch m.Role {
		case consensustypes.RoleSystem:
			system = m.Content
		case consensustypes.RoleUser:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		case consensustypes.RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	return out, system
}

// Complete issues a single non-streaming Anthropic Messages API call.
func (c *AnthropicClient) Complete(ctx context.Context, model string, messages []consensustypes.Message, temperature float64, maxTokens *int) (string, consensustypes.Usage, error) {
	msgs, system := encodeMessages(messages)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   effectiveMaxTokens(maxTokens),
		Messages:    msgs,
		Temperature: anthropic.Float(temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", consensustypes.Usage{}, consensuserrors.NewUpstreamError(consensuserrors.ErrServer, model, 0, err)
	}

	var text string
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", consensustypes.Usage{}, consensuserrors.NewUpstreamError(consensuserrors.ErrProtocol, model, 0, fmt.Errorf("no text content in response"))
	}

	usage := consensustypes.Usage{
		PromptTokens:     int(resp.Usage.InputTokens),
		CompletionTokens: int(resp.Usage.OutputTokens),
		TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}
	return text, usage, nil
}

// Stream issues a streaming Anthropic Messages API call, forwarding text
// deltas via onChunk. Grounded on goadesign-goa-ai's anthropicStreamer.run
// type-switch over ssestream events, collapsed to the text-delta case this
// module's stage executor needs.
func (c *AnthropicClient) Stream(ctx context.Context, model string, messages []consensustypes.Message, temperature float64, maxTokens *int, onChunk func(StreamChunk)) (consensustypes.Usage, error) {
	msgs, system := encodeMessages(messages)
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   effectiveMaxTokens(maxTokens),
		Messages:    msgs,
		Temperature: anthropic.Float(temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	var usage consensustypes.Usage
	var message anthropic.Message

	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return usage, consensuserrors.NewUpstreamError(consensuserrors.ErrProtocol, model, 0, err)
		}

		switch delta := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta.Delta.Text != "" {
				onChunk(StreamChunk{Delta: delta.Delta.Text})
			}
		case anthropic.MessageDeltaEvent:
			usage.CompletionTokens = int(delta.Usage.OutputTokens)
		}
	}
	if err := stream.Err(); err != nil {
		return usage, consensuserrors.NewUpstreamError(consensuserrors.ErrNetwork, model, 0, err)
	}

	usage.PromptTokens = int(message.Usage.InputTokens)
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	onChunk(StreamChunk{Done: true, Usage: &usage})
	return usage, nil
}
