package translate

import (
	"encoding/json"
	"errors"
	"math"

	"github.com/tidwall/gjson"

	"github.com/papercomputeco/ollamabridge/pkg/llm/provider/openai"
)

// ErrNotChatRequest is returned for request bodies that are not a JSON object.
var ErrNotChatRequest = errors.New("request body is not a JSON object")

// decodeRequest reads an OpenAI chat request field by field. A field holding
// the wrong JSON type is dropped with a warning; only a body that is not a
// JSON object fails.
func (t *RequestTranscoder) decodeRequest(body []byte) (*openai.ChatCompletionRequest, error) {
	if !gjson.ValidBytes(body) {
		return nil, ErrNotChatRequest
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, ErrNotChatRequest
	}

	req := &openai.ChatCompletionRequest{
		Model:       t.stringField(root, "model"),
		Temperature: t.floatField(root, "temperature"),
		TopP:        t.floatField(root, "top_p"),
		MaxTokens:   t.intField(root, "max_tokens"),
		Stream:      t.boolField(root, "stream"),
	}

	for i, m := range t.arrayField(root, "messages") {
		if !m.IsObject() {
			t.dropField("messages", i, m)
			continue
		}
		req.Messages = append(req.Messages, t.decodeMessage(m))
	}

	for i, tool := range t.arrayField(root, "tools") {
		if !tool.IsObject() {
			t.dropField("tools", i, tool)
			continue
		}
		fn := tool.Get("function")
		req.Tools = append(req.Tools, openai.Tool{
			Type: t.stringField(tool, "type"),
			Function: openai.FunctionDefinition{
				Name:        t.stringField(fn, "name"),
				Description: t.stringField(fn, "description"),
				Parameters:  rawField(fn, "parameters"),
			},
		})
	}

	return req, nil
}

func (t *RequestTranscoder) decodeMessage(m gjson.Result) openai.Message {
	msg := openai.Message{
		Role:    t.stringField(m, "role"),
		Content: rawField(m, "content"),
	}

	for i, tc := range t.arrayField(m, "tool_calls") {
		if !tc.IsObject() {
			t.dropField("tool_calls", i, tc)
			continue
		}
		fn := tc.Get("function")
		msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
			ID:   t.stringField(tc, "id"),
			Type: t.stringField(tc, "type"),
			Function: openai.FunctionCall{
				Name:      t.stringField(fn, "name"),
				Arguments: rawField(fn, "arguments"),
			},
		})
	}

	// Numeric ids are kept in their literal form.
	switch id := m.Get("tool_call_id"); id.Type {
	case gjson.String:
		msg.ToolCallID = id.Str
	case gjson.Number:
		msg.ToolCallID = id.Raw
	case gjson.Null:
	default:
		if id.Exists() {
			t.dropField("tool_call_id", -1, id)
		}
	}

	return msg
}

func (t *RequestTranscoder) stringField(obj gjson.Result, key string) string {
	v := obj.Get(key)
	switch v.Type {
	case gjson.String:
		return v.Str
	case gjson.Null:
		return ""
	default:
		t.dropField(key, -1, v)
		return ""
	}
}

func (t *RequestTranscoder) floatField(obj gjson.Result, key string) *float64 {
	v := obj.Get(key)
	switch v.Type {
	case gjson.Number:
		f := v.Num
		return &f
	case gjson.Null:
		return nil
	default:
		t.dropField(key, -1, v)
		return nil
	}
}

// intField accepts any whole number, including exponent forms such as 1e3.
func (t *RequestTranscoder) intField(obj gjson.Result, key string) *int {
	v := obj.Get(key)
	switch v.Type {
	case gjson.Number:
		if v.Num == math.Trunc(v.Num) && math.Abs(v.Num) <= math.MaxInt32 {
			n := int(v.Num)
			return &n
		}
		t.dropField(key, -1, v)
		return nil
	case gjson.Null:
		return nil
	default:
		t.dropField(key, -1, v)
		return nil
	}
}

func (t *RequestTranscoder) boolField(obj gjson.Result, key string) *bool {
	v := obj.Get(key)
	switch v.Type {
	case gjson.True, gjson.False:
		b := v.Bool()
		return &b
	case gjson.Null:
		return nil
	default:
		t.dropField(key, -1, v)
		return nil
	}
}

func (t *RequestTranscoder) arrayField(obj gjson.Result, key string) []gjson.Result {
	v := obj.Get(key)
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	if !v.IsArray() {
		t.dropField(key, -1, v)
		return nil
	}
	return v.Array()
}

// dropField reports a field left out of the backend request. index is the
// element position for list entries and -1 otherwise.
func (t *RequestTranscoder) dropField(key string, index int, v gjson.Result) {
	attrs := []any{"field", key, "value", truncate([]byte(v.Raw), 128)}
	if index >= 0 {
		attrs = append(attrs, "index", index)
	}
	t.logger.Warn("dropping request field with unexpected type", attrs...)
}

// rawField returns the raw JSON of a field, or nil when it is absent.
func rawField(obj gjson.Result, key string) json.RawMessage {
	v := obj.Get(key)
	if !v.Exists() {
		return nil
	}
	return json.RawMessage(v.Raw)
}
