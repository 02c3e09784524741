package model

import (
	"context"
	"fmt"
	"sync"

	"github.com/hupe1980/agentweave/core"
)

// Role identifies the author of a conversation message.
type Role string

const (
	// RoleSystem carries instructions for the model.
	RoleSystem Role = "system"
	// RoleUser carries caller input.
	RoleUser Role = "user"
	// RoleAssistant carries model output, including tool call requests.
	RoleAssistant Role = "assistant"
	// RoleTool carries a tool result re-injected into the conversation.
	RoleTool Role = "tool"
)

// Message is one turn of conversation history.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`   // assistant turns requesting tools
	ToolCallID string     `json:"tool_call_id,omitempty"` // tool turns answering a request
}

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider branching.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Profile names a model capability tier rather than a concrete vendor model.
// Patterns request profiles; a Registry resolves them.
type Profile string

const (
	// ProfileFast favors latency; used for classification and evaluation calls.
	ProfileFast Profile = "fast"
	// ProfileBalanced is the general purpose tier.
	ProfileBalanced Profile = "balanced"
	// ProfileDeep favors quality; used for specialist and aggregation calls.
	ProfileDeep Profile = "deep"
)

// Request captures the normalized input of one generation call. Requests are
// built fresh per call and never mutated after issuance.
type Request struct {
	Profile      Profile          `json:"profile,omitempty"`
	Instructions string           `json:"instructions,omitempty"` // system prompt
	Prompt       string           `json:"prompt"`                 // current user turn
	History      []Message        `json:"history,omitempty"`      // prior turns, oldest first
	Schema       *core.Schema     `json:"-"`                      // output shape the backend is instructed to honor
	Tools        []ToolDefinition `json:"tools,omitempty"`
	MaxTokens    int              `json:"max_tokens,omitempty"`
	Temperature  *float64         `json:"temperature,omitempty"`
}

// Validate rejects requests that carry nothing to generate from.
func (r Request) Validate() error {
	if r.Prompt == "" && len(r.History) == 0 {
		return core.NewInputError("prompt must be non-empty")
	}
	return nil
}

// Status describes how a generation finished.
type Status string

const (
	// StatusComplete means the model finished on its own.
	StatusComplete Status = "complete"
	// StatusTruncated means the output hit a length limit.
	StatusTruncated Status = "truncated"
	// StatusErrored means the provider reported a failure mid-generation.
	StatusErrored Status = "errored"
)

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Result is the outcome of one blocking generation call.
type Result struct {
	Text      string      `json:"text"`
	ToolCalls []ToolCall  `json:"tool_calls,omitempty"`
	Status    Status      `json:"status"`
	Usage     *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "mock", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required to drive generation.
//
// Invoke blocks until the provider finishes. InvokeStream returns the raw
// text deltas as they arrive: the delta channel is finite, closed on
// completion, and a stream is not restartable once consumed; a failure is
// delivered on the error channel. Both honor ctx cancellation at every
// suspension point. The schema on a request instructs the backend but never
// guarantees structural correctness; downstream validation is mandatory.
type Model interface {
	Invoke(ctx context.Context, req Request) (*Result, error)
	InvokeStream(ctx context.Context, req Request) (<-chan string, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockTurn scripts one generation outcome for a MockModel.
type MockTurn struct {
	Text      string
	ToolCalls []ToolCall
	Deltas    []string // streamed verbatim when set; otherwise Text is split
	Status    Status
	Err       error
}

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Turns enqueued with Enqueue are consumed first-in-first-out; otherwise
// responses registered with AddResponse are keyed by prompt.
type MockModel struct {
	info Info

	mu        sync.Mutex
	responses map[string]string
	queue     []MockTurn
	requests  []Request
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.responses[prompt] = response
}

// Enqueue appends a scripted turn consumed before any keyed response.
func (m *MockModel) Enqueue(turns ...MockTurn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.queue = append(m.queue, turns...)
}

// Requests returns a copy of every request the mock has received, in order.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Request, len(m.requests))
	copy(out, m.requests)

	return out
}

func (m *MockModel) next(req Request) MockTurn {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, req)

	if len(m.queue) > 0 {
		turn := m.queue[0]
		m.queue = m.queue[1:]
		return turn
	}

	if resp, ok := m.responses[req.Prompt]; ok {
		return MockTurn{Text: resp}
	}

	return MockTurn{Text: fmt.Sprintf("Mock response to: %s", req.Prompt)}
}

// Invoke implements Model.
func (m *MockModel) Invoke(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	turn := m.next(req)
	if turn.Err != nil {
		return nil, turn.Err
	}

	status := turn.Status
	if status == "" {
		status = StatusComplete
	}

	return &Result{Text: turn.Text, ToolCalls: turn.ToolCalls, Status: status}, nil
}

// InvokeStream implements Model; emits scripted deltas (or rune chunks of the
// scripted text) then closes.
func (m *MockModel) InvokeStream(ctx context.Context, req Request) (<-chan string, <-chan error) {
	deltaCh := make(chan string, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(deltaCh)
		defer close(errCh)

		if err := req.Validate(); err != nil {
			errCh <- err
			return
		}

		turn := m.next(req)
		if turn.Err != nil {
			errCh <- turn.Err
			return
		}

		deltas := turn.Deltas
		if deltas == nil {
			for _, r := range turn.Text {
				deltas = append(deltas, string(r))
			}
		}

		for _, d := range deltas {
			select {
			case <-ctx.Done():
				errCh <- ctx.Err()
				return
			case deltaCh <- d:
			}
		}
	}()

	return deltaCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
