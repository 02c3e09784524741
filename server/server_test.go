package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/pattern"
	"github.com/hupe1980/agentweave/runner"
)

type stubExecutor struct {
	name     string
	schema   *core.Schema
	validate func(input pattern.Input) error
	execute  func(exec *core.Execution, input pattern.Input) error
}

var _ pattern.Executor = (*stubExecutor)(nil)

func (s *stubExecutor) Name() string { return s.name }

func (s *stubExecutor) Schema() *core.Schema { return s.schema }

func (s *stubExecutor) Validate(input pattern.Input) error {
	if s.validate != nil {
		return s.validate(input)
	}

	_, err := pattern.ValidateText(input)

	return err
}

func (s *stubExecutor) Execute(exec *core.Execution, input pattern.Input) error {
	if s.execute != nil {
		return s.execute(exec, input)
	}

	exec.Emit().EmitText("ok")
	exec.Emit().EmitFinalText()

	return nil
}

func newTestServer(t *testing.T, executors ...pattern.Executor) *Server {
	t.Helper()

	r := runner.New()
	require.NoError(t, r.Register(executors...))

	cfg := DefaultConfig()
	cfg.RateLimit.Enabled = false

	return New(cfg, r)
}

func doRequest(s *Server, method, path, body string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	s.Handler().ServeHTTP(rec, req)

	return rec
}

func ndjsonLines(t *testing.T, body string) []map[string]any {
	t.Helper()

	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(body), "\n") {
		var value map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &value), "line %q", line)
		out = append(out, value)
	}

	return out
}

// ----- Streaming Tests -----

func TestServerStreamsValueFramesAsNDJSON(t *testing.T) {
	s := newTestServer(t, &stubExecutor{
		name:   "sequential",
		schema: core.NewSchema(core.String("draft", "draft"), core.String("final", "final")),
		execute: func(exec *core.Execution, _ pattern.Input) error {
			exec.Emit().EmitValue(map[string]any{"draft": "first cut"})
			exec.Emit().EmitFinalValue(map[string]any{"draft": "first cut", "final": "polished"})
			return nil
		},
	})

	rec := doRequest(s, http.MethodPost, "/api/v1/patterns/sequential", `{"input": "write a haiku"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-ndjson", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.NotEmpty(t, rec.Header().Get("X-Execution-Id"))
	assert.True(t, rec.Flushed)

	lines := ndjsonLines(t, rec.Body.String())
	require.Len(t, lines, 2)

	assert.Equal(t, map[string]any{"draft": "first cut"}, lines[0])
	assert.Equal(t, map[string]any{"draft": "first cut", "final": "polished"}, lines[1])
}

func TestServerStreamsTextFramesAsPlainText(t *testing.T) {
	s := newTestServer(t, &stubExecutor{
		name: "tooluse",
		execute: func(exec *core.Execution, _ pattern.Input) error {
			exec.Emit().EmitText("The answer ")
			exec.Emit().EmitText("is 4.")
			exec.Emit().EmitFinalText()
			return nil
		},
	})

	rec := doRequest(s, http.MethodPost, "/api/v1/patterns/tooluse", `{"input": "2+2?"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Execution-Id"))
	assert.Equal(t, "The answer is 4.", rec.Body.String())
}

func TestServerWritesTerminalErrorLine(t *testing.T) {
	s := newTestServer(t, &stubExecutor{
		name:   "evaluator",
		schema: core.NewSchema(core.String("final", "final")),
		execute: func(exec *core.Execution, _ pattern.Input) error {
			exec.Emit().EmitValue(map[string]any{"final": "partial"})
			return &core.SchemaViolationError{Violations: []core.FieldViolation{
				{Field: "score", Message: "required field is missing"},
			}}
		},
	})

	rec := doRequest(s, http.MethodPost, "/api/v1/patterns/evaluator", `{"input": "rate this"}`)

	require.Equal(t, http.StatusOK, rec.Code, "stream already started, status stays 200")

	lines := ndjsonLines(t, rec.Body.String())
	require.Len(t, lines, 2)

	errLine := lines[1]
	assert.Equal(t, string(core.CodeSchemaViolation), errLine["code"])
	assert.NotEmpty(t, errLine["error"])
	assert.NotEmpty(t, errLine["timestamp"])
	require.Len(t, errLine["violations"], 1)
}

func TestServerForwardsMessagesToPattern(t *testing.T) {
	var got pattern.Input

	s := newTestServer(t, &stubExecutor{
		name:     "tooluse",
		validate: func(pattern.Input) error { return nil },
		execute: func(exec *core.Execution, input pattern.Input) error {
			got = input
			exec.Emit().EmitText("ok")
			exec.Emit().EmitFinalText()
			return nil
		},
	})

	body := `{"messages": [{"role": "system", "content": "be brief"}, {"role": "user", "content": "hello"}]}`
	rec := doRequest(s, http.MethodPost, "/api/v1/patterns/tooluse", body)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, got.Messages, 2)
	assert.EqualValues(t, "system", got.Messages[0].Role)
	assert.Equal(t, "be brief", got.Messages[0].Content)
	assert.EqualValues(t, "user", got.Messages[1].Role)
}

// ----- Error Path Tests -----

func TestServerUnknownPatternReturns404(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodPost, "/api/v1/patterns/psychic", `{"input": "hello"}`)

	require.Equal(t, http.StatusNotFound, rec.Code)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Contains(t, envelope["error"], "unknown pattern")
	assert.NotEmpty(t, envelope["timestamp"])
}

func TestServerInvalidInputReturns400(t *testing.T) {
	s := newTestServer(t, &stubExecutor{name: "sequential"})

	rec := doRequest(s, http.MethodPost, "/api/v1/patterns/sequential", `{"input": "   "}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.NotEmpty(t, envelope["error"])
	assert.NotEmpty(t, envelope["timestamp"])
}

func TestServerMalformedBodyReturns400(t *testing.T) {
	s := newTestServer(t, &stubExecutor{name: "sequential"})

	rec := doRequest(s, http.MethodPost, "/api/v1/patterns/sequential", `{"input":`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// ----- Cancel Tests -----

func TestServerCancelStopsExecution(t *testing.T) {
	r := runner.New()
	require.NoError(t, r.Register(&stubExecutor{
		name: "tooluse",
		execute: func(exec *core.Execution, _ pattern.Input) error {
			<-exec.Context().Done()
			return exec.Context().Err()
		},
	}))

	cfg := DefaultConfig()
	cfg.RateLimit.Enabled = false
	s := New(cfg, r)

	exec, err := r.Run(t.Context(), "tooluse", pattern.Input{Text: "hello"})
	require.NoError(t, err)

	rec := doRequest(s, http.MethodDelete, "/api/v1/executions/"+exec.ID, "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, exec.ID, body["execution_id"])

	var frames []core.Frame
	for f := range exec.Frames() {
		frames = append(frames, f)
	}
	require.Len(t, frames, 1)

	failure, ok := frames[0].Err()
	require.True(t, ok)
	assert.Equal(t, core.CodeCancelled, failure.Code)
}

func TestServerCancelUnknownExecutionReturns404(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodDelete, "/api/v1/executions/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

// ----- Probe Tests -----

func TestServerHealthAndReady(t *testing.T) {
	s := newTestServer(t, &stubExecutor{name: "sequential"})

	rec := doRequest(s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(s, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []any{"sequential"}, body["patterns"])
}

func TestServerReadyWithoutPatternsReturns503(t *testing.T) {
	s := newTestServer(t)

	rec := doRequest(s, http.MethodGet, "/ready", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

// ----- Rate Limit Tests -----

func TestServerRateLimitRejectsBursts(t *testing.T) {
	r := runner.New()
	require.NoError(t, r.Register(&stubExecutor{name: "sequential"}))

	cfg := DefaultConfig()
	cfg.RateLimit = RateLimitConfig{Enabled: true, RPS: 0.001, Burst: 1}
	s := New(cfg, r)

	first := doRequest(s, http.MethodPost, "/api/v1/patterns/sequential", `{"input": "hello"}`)
	require.Equal(t, http.StatusOK, first.Code)

	second := doRequest(s, http.MethodPost, "/api/v1/patterns/sequential", `{"input": "hello"}`)
	require.Equal(t, http.StatusTooManyRequests, second.Code)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &envelope))
	assert.Contains(t, envelope["error"], "rate limit")

	// Probes stay outside the limited group.
	probe := doRequest(s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, probe.Code)
}

func TestClientLimiterIsolatesClients(t *testing.T) {
	limiter := newClientLimiter(0.001, 1)

	require.True(t, limiter.allow("10.0.0.1"))
	require.False(t, limiter.allow("10.0.0.1"))
	require.True(t, limiter.allow("10.0.0.2"))
}

func TestClientLimiterPrunesIdleClients(t *testing.T) {
	limiter := newClientLimiter(1, 1)
	limiter.ttl = 10 * time.Millisecond

	limiter.allow("10.0.0.1")
	require.Len(t, limiter.clients, 1)

	time.Sleep(25 * time.Millisecond)
	limiter.allow("10.0.0.2")

	limiter.mu.Lock()
	defer limiter.mu.Unlock()
	assert.NotContains(t, limiter.clients, "10.0.0.1")
}
