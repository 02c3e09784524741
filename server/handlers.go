package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/hupe1980/agentweave/core"
	"github.com/hupe1980/agentweave/model"
	"github.com/hupe1980/agentweave/pattern"
	"github.com/hupe1980/agentweave/runner"
)

type runRequest struct {
	Input    string       `json:"input"`
	Messages []runMessage `json:"messages"`
}

type runMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// handleRun starts one pattern execution and streams its frames. Failures
// before the first byte use the JSON error envelope with a matching status;
// failures after that arrive as the stream's terminal error line.
func (s *Server) handleRun(c *gin.Context) {
	name := c.Param("pattern")

	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope("invalid request body: "+err.Error()))
		return
	}

	input := pattern.Input{Text: req.Input}
	for _, m := range req.Messages {
		input.Messages = append(input.Messages, model.Message{Role: model.Role(m.Role), Content: m.Content})
	}

	exec, err := s.runner.Run(c.Request.Context(), name, input)
	if err != nil {
		status := http.StatusInternalServerError

		switch {
		case errors.Is(err, runner.ErrUnknownPattern):
			status = http.StatusNotFound
		case core.ErrorCodeOf(err) == core.CodeInputValidation:
			status = http.StatusBadRequest
		}

		c.JSON(status, errorEnvelope(err.Error()))

		return
	}

	s.streamExecution(c, exec)
}

// streamExecution writes the frame stream. Patterns with a schema stream
// NDJSON value snapshots; text patterns stream raw deltas. A disconnected
// client cancels the execution through the request context, so the loop
// keeps draining until the runner closes the channel.
func (s *Server) streamExecution(c *gin.Context, exec *core.Execution) {
	textMode := exec.Schema() == nil

	header := c.Writer.Header()
	if textMode {
		header.Set("Content-Type", "text/plain; charset=utf-8")
	} else {
		header.Set("Content-Type", "application/x-ndjson")
	}
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	header.Set("X-Execution-Id", exec.ID)

	c.Status(http.StatusOK)
	c.Writer.Flush()

	clientGone := false

	for frame := range exec.Frames() {
		if clientGone {
			continue
		}

		line, ok := encodeFrame(frame, textMode)
		if !ok {
			continue
		}

		if _, err := c.Writer.Write(line); err != nil {
			s.logger.Debug("server.stream.client_gone", "execution_id", exec.ID)
			clientGone = true

			continue
		}

		c.Writer.Flush()
	}
}

// encodeFrame renders one frame as wire bytes. Frames that carry nothing for
// the chosen mode report ok=false.
func encodeFrame(f core.Frame, textMode bool) ([]byte, bool) {
	switch p := f.Payload.(type) {
	case core.ValuePayload:
		data, err := json.Marshal(p.Value)
		if err != nil {
			return nil, false
		}

		return append(data, '\n'), true

	case core.TextPayload:
		// The terminal text frame repeats the accumulated text; clients
		// already received it delta by delta.
		if !textMode || f.Terminal || p.Delta == "" {
			return nil, false
		}

		return []byte(p.Delta), true

	case core.ErrorPayload:
		line := map[string]any{
			"error":     p.Message,
			"code":      string(p.Code),
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		if len(p.Violations) > 0 {
			line["violations"] = p.Violations
		}

		data, err := json.Marshal(line)
		if err != nil {
			return nil, false
		}

		return append(data, '\n'), true
	}

	return nil, false
}

// handleCancel requests cooperative cancellation of an in-flight execution.
func (s *Server) handleCancel(c *gin.Context) {
	id := c.Param("id")

	if err := s.runner.Cancel(id); err != nil {
		if errors.Is(err, runner.ErrUnknownExecution) {
			c.JSON(http.StatusNotFound, errorEnvelope(err.Error()))
			return
		}

		c.JSON(http.StatusInternalServerError, errorEnvelope(err.Error()))

		return
	}

	c.JSON(http.StatusAccepted, gin.H{"execution_id": id, "status": "cancelling"})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleReady reports ready once at least one pattern is registered.
func (s *Server) handleReady(c *gin.Context) {
	patterns := s.runner.Patterns()
	if len(patterns) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": "no patterns registered"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready", "patterns": patterns})
}
