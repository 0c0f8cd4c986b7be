// Package ollama holds the Ollama native wire format the bridge speaks to its
// backend: /api/chat requests and NDJSON stream records.
package ollama

import (
	"encoding/json"
	"math"

	"github.com/tidwall/gjson"
)

const (
	// ChatPath is the backend chat endpoint.
	ChatPath = "/api/chat"

	// TagsPath is the backend model catalog endpoint.
	TagsPath = "/api/tags"

	// OwnedBy is the owner label reported for every backend model.
	OwnedBy = "ollama"
)

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	NumPredict  *int      `json:"num_predict,omitempty"`
	Stream      bool      `json:"stream"`
}

// Message is a chat message. On the request side content is always text and
// images travel separately as base64 payloads or URLs.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	Thinking   string     `json:"thinking,omitempty"`
	Images     []string   `json:"images,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a function invocation. Arguments is a JSON object toward the
// backend; records coming back may carry either an object or a string.
type ToolCall struct {
	ID       string           `json:"id,omitempty"`
	Function ToolCallFunction `json:"function"`
}

type ToolCallFunction struct {
	Index     *int            `json:"index,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Tool declares a callable function.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatResponse is one NDJSON record of a streamed /api/chat response, or the
// whole body of a non-streamed one. Timestamps and durations are not read.
type ChatResponse struct {
	Model      string   `json:"model,omitempty"`
	Message    *Message `json:"message,omitempty"`
	Done       bool     `json:"done"`
	DoneReason string   `json:"done_reason,omitempty"`

	// Final record metrics
	PromptEvalCount Count `json:"prompt_eval_count,omitempty"`
	EvalCount       Count `json:"eval_count,omitempty"`
}

// Count is a token counter. Any whole JSON number is accepted, so 3 and 3.0
// both decode to 3; fractions, strings and out of range values decode to
// zero, which callers read as missing.
type Count int

func (c *Count) UnmarshalJSON(b []byte) error {
	*c = 0
	r := gjson.ParseBytes(b)
	if r.Type != gjson.Number || r.Num != math.Trunc(r.Num) || math.Abs(r.Num) > math.MaxInt32 {
		return nil
	}
	*c = Count(r.Num)
	return nil
}
