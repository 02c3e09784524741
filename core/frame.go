package core

// Frame is one observable unit of progress in a streamed execution. Sequence
// numbers start at 0 and increase without gaps; exactly one frame per
// execution carries Terminal=true, and it is always the last.
type Frame struct {
	Seq      int     `json:"seq"`
	Payload  Payload `json:"payload"`
	Terminal bool    `json:"terminal"`
}

// Payload is the closed set of frame contents. Implementations are
// ValuePayload, TextPayload and ErrorPayload.
type Payload interface {
	isPayload()
}

// ValuePayload carries a best-effort partial (or final) structured value.
type ValuePayload struct {
	Value map[string]any `json:"value"`
}

func (ValuePayload) isPayload() {}

// TextPayload carries a raw text delta plus the text accumulated so far.
type TextPayload struct {
	Delta string `json:"delta"`
	Text  string `json:"text"`
}

func (TextPayload) isPayload() {}

// ErrorPayload marks a terminal failure. It crosses the streaming boundary in
// place of a value so callers always receive a well-formed terminal signal.
type ErrorPayload struct {
	Code       ErrorCode        `json:"code"`
	Message    string           `json:"message"`
	Violations []FieldViolation `json:"violations,omitempty"`
}

func (ErrorPayload) isPayload() {}

// Value returns the structured value carried by the frame, if any.
func (f Frame) Value() (map[string]any, bool) {
	if p, ok := f.Payload.(ValuePayload); ok {
		return p.Value, true
	}
	return nil, false
}

// TextDelta returns the text delta carried by the frame, if any.
func (f Frame) TextDelta() (string, bool) {
	if p, ok := f.Payload.(TextPayload); ok {
		return p.Delta, true
	}
	return "", false
}

// Err returns the failure carried by the frame, if any.
func (f Frame) Err() (ErrorPayload, bool) {
	if p, ok := f.Payload.(ErrorPayload); ok {
		return p, true
	}
	return ErrorPayload{}, false
}

// Failed reports whether the frame carries a failure payload.
func (f Frame) Failed() bool {
	_, ok := f.Payload.(ErrorPayload)
	return ok
}
