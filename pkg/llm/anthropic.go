package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/forgesight/forgesight/pkg/models"
)

// anthropicDefaultMaxTokens caps completions when the request leaves
// MaxTokens unset; the Messages API requires an explicit value.
const anthropicDefaultMaxTokens = 4096

// messagesAPI is the subset of the Anthropic SDK used by the adapter.
// Satisfied by *sdk.MessageService; tests pass a fake.
type messagesAPI interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// AnthropicClient implements Client via the Messages API.
type AnthropicClient struct {
	msg messagesAPI
}

// NewAnthropicClient builds the adapter.
func NewAnthropicClient(apiKey string) (*AnthropicClient, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	api := sdk.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicClient{msg: &api.Messages}, nil
}

// Complete issues one blocking Messages call.
func (c *AnthropicClient) Complete(ctx context.Context, req *Request) (*Response, error) {
	params, err := encodeAnthropicRequest(req)
	if err != nil {
		return nil, err
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}
	return translateAnthropicResponse(msg), nil
}

// CompleteStream streams text deltas through onToken and returns the
// accumulated response.
func (c *AnthropicClient) CompleteStream(ctx context.Context, req *Request, onToken func(string)) (*Response, error) {
	params, err := encodeAnthropicRequest(req)
	if err != nil {
		return nil, err
	}
	stream := c.msg.NewStreaming(ctx, *params)
	defer func() { _ = stream.Close() }()

	var msg sdk.Message
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return nil, fmt.Errorf("anthropic stream accumulate: %w", err)
		}
		if onToken == nil {
			continue
		}
		if delta := event.AsAny(); delta != nil {
			if d, ok := delta.(sdk.ContentBlockDeltaEvent); ok && d.Delta.Text != "" {
				onToken(d.Delta.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic messages.new stream: %w", err)
	}
	return translateAnthropicResponse(&msg), nil
}

func encodeAnthropicRequest(req *Request) (*sdk.MessageNewParams, error) {
	if len(req.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}
	params := &sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: int64(maxTokens),
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	for _, m := range req.Messages {
		switch m.Role {
		case models.RoleSystem:
			params.System = append(params.System, sdk.TextBlockParam{Text: m.Content})
		case models.RoleUser:
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		case models.RoleAssistant:
			blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.ToolCalls)+1)
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if len(tc.Arguments) > 0 {
					if err := json.Unmarshal(tc.Arguments, &input); err != nil {
						return nil, fmt.Errorf("anthropic: tool call %s arguments: %w", tc.Name, err)
					}
				}
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(blocks) > 0 {
				params.Messages = append(params.Messages, sdk.NewAssistantMessage(blocks...))
			}
		case models.RoleTool:
			// Tool results travel as user-role content blocks.
			params.Messages = append(params.Messages,
				sdk.NewUserMessage(sdk.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError)))
		default:
			return nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(params.Messages) == 0 {
		return nil, errors.New("anthropic: at least one user/assistant message is required")
	}

	for _, def := range req.Tools {
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: def.InputSchema}, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		params.Tools = append(params.Tools, u)
	}
	return params, nil
}

func translateAnthropicResponse(msg *sdk.Message) *Response {
	out := &Response{
		StopReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			args, err := json.Marshal(block.Input)
			if err != nil {
				args = []byte("{}")
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	return out
}
