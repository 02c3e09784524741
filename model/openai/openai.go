// Package openai provides an implementation of model.Model using the OpenAI
// Chat Completions API (including streaming + function/tool calling). It
// adapts the normalized Request/Result structures into the SDK's message
// format and back.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/hupe1980/agentweave/model"
)

const providerName = "openai"

// Options configure the OpenAI model adapter.
// Fields mirror a subset of Chat Completion parameters intentionally kept
// minimal; extend via functional options without breaking callers.
type Options struct {
	Model               string
	Temperature         float64
	MaxCompletionTokens int64
	APIKey              string
}

// Model wraps the OpenAI Chat Completions API behind the generic model.Model interface.
type Model struct {
	client *openai.Client
	opts   Options
}

// NewModel creates a new OpenAI model using the official client.
func NewModel(optFns ...func(o *Options)) *Model {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}

	client := openai.NewClient(clientOpts...)

	return NewModelFromClient(&client, optFns...)
}

// NewModelFromClient creates a new OpenAI model from an existing client.
func NewModelFromClient(client *openai.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		Temperature:         0.7,
		MaxCompletionTokens: 4096,
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Model{client: client, opts: opts}
}

// Invoke implements model.Model.
func (m *Model) Invoke(ctx context.Context, req model.Request) (*model.Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	resp, err := m.client.Chat.Completions.New(ctx, m.buildParams(req))
	if err != nil {
		return nil, m.classify(err)
	}

	if len(resp.Choices) == 0 {
		return nil, model.NewMalformed(providerName, "no choices returned", nil)
	}

	choice := resp.Choices[0]

	res := &model.Result{
		Text:   choice.Message.Content,
		Status: statusOf(choice.FinishReason),
		Usage: &model.TokenUsage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}

	for _, tc := range choice.Message.ToolCalls {
		args := map[string]any{}
		if tc.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, model.NewMalformed(providerName, "tool call arguments are not a JSON object", err)
			}
		}

		res.ToolCalls = append(res.ToolCalls, model.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}

	return res, nil
}

// InvokeStream implements model.Model. Text deltas are forwarded as the
// provider emits them; tool use is not streamed.
func (m *Model) InvokeStream(ctx context.Context, req model.Request) (<-chan string, <-chan error) {
	deltaCh := make(chan string, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(deltaCh)
		defer close(errCh)

		if err := req.Validate(); err != nil {
			errCh <- err
			return
		}

		stream := m.client.Chat.Completions.NewStreaming(ctx, m.buildParams(req))

		for stream.Next() {
			chunk := stream.Current()

			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}

				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case deltaCh <- choice.Delta.Content:
				}
			}
		}

		if err := stream.Err(); err != nil {
			errCh <- m.classify(err)
		}
	}()

	return deltaCh, errCh
}

// buildParams assembles the OpenAI request parameters including tool definitions.
func (m *Model) buildParams(req model.Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Messages:            m.buildMessages(req),
		Model:               m.opts.Model,
		Temperature:         openai.Float(m.opts.Temperature),
		MaxCompletionTokens: openai.Int(m.opts.MaxCompletionTokens),
	}

	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	if len(req.Tools) == 0 {
		return params
	}

	tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
	for i, tdef := range req.Tools {
		tools[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        tdef.Name,
				Description: openai.String(tdef.Description),
				Parameters:  tdef.Parameters,
			},
		}
	}
	params.Tools = tools

	return params
}

// buildMessages converts the rendered instructions, history and the current
// prompt into OpenAI chat messages.
func (m *Model) buildMessages(req model.Request) []openai.ChatCompletionMessageParamUnion {
	var messages []openai.ChatCompletionMessageParamUnion

	if instructions := model.RenderInstructions(req); instructions != "" {
		messages = append(messages, openai.SystemMessage(instructions))
	}

	for _, msg := range req.History {
		switch msg.Role {
		case model.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case model.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case model.RoleAssistant:
			if len(msg.ToolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(msg.Content))
				continue
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: buildToolCalls(msg.ToolCalls),
				},
			})
		case model.RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			if msg.Content != "" {
				messages = append(messages, openai.UserMessage(msg.Content))
			}
		}
	}

	if req.Prompt != "" {
		messages = append(messages, openai.UserMessage(req.Prompt))
	}

	return messages
}

// buildToolCalls converts normalized tool calls back into OpenAI format;
// arguments are re-serialized to the JSON string the wire format expects.
func buildToolCalls(calls []model.ToolCall) []openai.ChatCompletionMessageToolCallParam {
	out := make([]openai.ChatCompletionMessageToolCallParam, len(calls))

	for i, tc := range calls {
		args := "{}"
		if tc.Arguments != nil {
			if raw, err := json.Marshal(tc.Arguments); err == nil {
				args = string(raw)
			}
		}

		out[i] = openai.ChatCompletionMessageToolCallParam{
			ID:   tc.ID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      tc.Name,
				Arguments: args,
			},
		}
	}

	return out
}

// classify maps SDK failures onto the provider error taxonomy so retry
// decisions do not depend on OpenAI specifics.
func (m *Model) classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewTimeout(providerName, err)
	}

	var apierr *openai.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case http.StatusTooManyRequests:
			return model.NewRateLimited(providerName, err)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return model.NewTimeout(providerName, err)
		}
	}

	return fmt.Errorf("openai api error: %w", err)
}

func statusOf(finishReason string) model.Status {
	if finishReason == "length" {
		return model.StatusTruncated
	}
	return model.StatusComplete
}

// Info returns metadata describing this OpenAI model implementation.
func (m *Model) Info() model.Info {
	return model.Info{
		Name:          m.opts.Model,
		Provider:      providerName,
		SupportsTools: true,
	}
}
