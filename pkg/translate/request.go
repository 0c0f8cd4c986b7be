package translate

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/papercomputeco/ollamabridge/pkg/llm"
	"github.com/papercomputeco/ollamabridge/pkg/llm/provider/ollama"
	"github.com/papercomputeco/ollamabridge/pkg/llm/provider/openai"
)

// emptyArguments is sent for tool calls whose arguments are missing or
// cannot be decoded into an object.
var emptyArguments = json.RawMessage(`{}`)

// RequestTranscoder rewrites OpenAI chat completion requests into Ollama
// /api/chat requests. It never fails on a field: inconsistent fields are
// dropped or defaulted and reported through the logger.
type RequestTranscoder struct {
	logger *slog.Logger
}

// NewRequestTranscoder creates a RequestTranscoder reporting field level
// problems to logger.
func NewRequestTranscoder(logger *slog.Logger) *RequestTranscoder {
	return &RequestTranscoder{logger: logger}
}

// Transcode maps req into an Ollama chat request.
func (t *RequestTranscoder) Transcode(req *openai.ChatCompletionRequest) *ollama.ChatRequest {
	out := &ollama.ChatRequest{
		Model:       req.Model,
		Messages:    make([]ollama.Message, 0, len(req.Messages)),
		Temperature: req.Temperature,
		TopP:        req.TopP,
		NumPredict:  req.MaxTokens,
		Stream:      req.Stream == nil || *req.Stream,
	}

	for i := range req.Messages {
		out.Messages = append(out.Messages, t.transcodeMessage(&req.Messages[i]))
	}

	if len(req.Tools) > 0 {
		out.Tools = make([]ollama.Tool, 0, len(req.Tools))
		for _, tool := range req.Tools {
			typ := tool.Type
			if typ == "" {
				typ = "function"
			}
			out.Tools = append(out.Tools, ollama.Tool{
				Type: typ,
				Function: ollama.ToolFunction{
					Name:        tool.Function.Name,
					Description: tool.Function.Description,
					Parameters:  tool.Function.Parameters,
				},
			})
		}
	}

	return out
}

// TranscodeBody decodes a raw request body and re-encodes it in Ollama form.
// Fields are read one at a time, so a field of the wrong type is dropped
// without losing the rest of the request. When the body is not a JSON object
// the original bytes are returned with a nil request so the call still
// reaches the backend.
func (t *RequestTranscoder) TranscodeBody(body []byte) ([]byte, *ollama.ChatRequest) {
	req, err := t.decodeRequest(body)
	if err != nil {
		t.logger.Warn("forwarding untranslated chat request",
			"error", err,
		)
		return body, nil
	}

	out := t.Transcode(req)
	encoded, err := json.Marshal(out)
	if err != nil {
		t.logger.Warn("forwarding untranslated chat request",
			"error", fmt.Errorf("encoding backend request: %w", err),
		)
		return body, nil
	}

	return encoded, out
}

func (t *RequestTranscoder) transcodeMessage(msg *openai.Message) ollama.Message {
	content, images := NormalizeContent(msg.Content)
	out := ollama.Message{
		Role:    msg.Role,
		Content: content,
		Images:  images,
	}

	if len(msg.ToolCalls) > 0 {
		out.ToolCalls = make([]ollama.ToolCall, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, ollama.ToolCall{
				ID: tc.ID,
				Function: ollama.ToolCallFunction{
					Name:      tc.Function.Name,
					Arguments: t.argumentsObject(tc.Function.Name, tc.Function.Arguments),
				},
			})
		}
	}

	if msg.Role == llm.RoleTool {
		out.ToolCallID = msg.ToolCallID
	}

	return out
}

// argumentsObject converts OpenAI tool call arguments, normally a JSON
// encoded string, into the JSON object Ollama expects.
func (t *RequestTranscoder) argumentsObject(name string, raw json.RawMessage) json.RawMessage {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return emptyArguments
	}

	if raw[0] == '{' {
		return compact(raw)
	}

	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil {
		t.logger.Warn("unsupported tool call arguments, sending empty object",
			"tool", name,
			"arguments", string(raw),
		)
		return emptyArguments
	}

	decoded := bytes.TrimSpace([]byte(encoded))
	if len(decoded) == 0 || decoded[0] != '{' || !json.Valid(decoded) {
		t.logger.Warn("failed to parse tool call arguments, sending empty object",
			"tool", name,
			"arguments", encoded,
		)
		return emptyArguments
	}

	return compact(decoded)
}

func compact(raw []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return json.RawMessage(raw)
	}
	return buf.Bytes()
}
