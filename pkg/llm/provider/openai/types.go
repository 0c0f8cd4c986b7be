// Package openai holds the OpenAI chat completions wire format spoken by
// bridge clients: requests in, streamed chunks and model lists out.
package openai

import "encoding/json"

// Object literals used in the "object" field of responses.
const (
	ObjectChatCompletion      = "chat.completion"
	ObjectChatCompletionChunk = "chat.completion.chunk"
	ObjectList                = "list"
	ObjectModel               = "model"
)

// Finish reasons reported on the terminal choice of a completion.
const (
	FinishReasonStop      = "stop"
	FinishReasonToolCalls = "tool_calls"
	FinishReasonLength    = "length"
)

// Content part types.
const (
	ContentTypeText     = "text"
	ContentTypeImageURL = "image_url"
)

// ChatCompletionRequest is the body of POST /v1/chat/completions.
type ChatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Stream      *bool     `json:"stream,omitempty"`
}

// Message is one entry of a chat request.
type Message struct {
	Role string `json:"role"` // "system", "user", "assistant", "tool"

	// Content is a JSON string, an array of ContentPart, or null.
	Content json.RawMessage `json:"content,omitempty"`

	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ContentPart is one element of multimodal message content.
type ContentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image either remotely or as a data URI.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// ToolCall is a tool invocation previously returned by the assistant and
// replayed in the conversation history.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Type     string       `json:"type,omitempty"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the tool name and its arguments. Clients send
// arguments as a JSON encoded string, but some send the object directly.
type FunctionCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// Tool declares a function the model may call.
type Tool struct {
	Type     string             `json:"type"`
	Function FunctionDefinition `json:"function"`
}

// FunctionDefinition describes a callable function. Parameters is an opaque
// JSON schema.
type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ChatCompletionChunk is the payload of one SSE event in a streamed
// completion.
type ChatCompletionChunk struct {
	ID                string        `json:"id"`
	Object            string        `json:"object"`
	Created           int64         `json:"created"`
	Model             string        `json:"model"`
	Choices           []ChunkChoice `json:"choices"`
	SystemFingerprint string        `json:"system_fingerprint"`
	Usage             Usage         `json:"usage"`
}

// ChunkChoice is the single choice carried by every chunk.
type ChunkChoice struct {
	Index int   `json:"index"`
	Delta Delta `json:"delta"`

	// FinishReason is nil (JSON null) until the terminal chunk.
	FinishReason         *string              `json:"finish_reason"`
	ContentFilterResults ContentFilterResults `json:"content_filter_results"`
}

// Delta is the incremental message update of a chunk.
type Delta struct {
	Role      string         `json:"role,omitempty"`
	Content   string         `json:"content,omitempty"`
	ToolCalls []ToolCallItem `json:"tool_calls,omitempty"`
}

// ToolCallItem is a tool call as emitted to clients. Arguments is always a
// JSON encoded string.
type ToolCallItem struct {
	Index    int              `json:"index"`
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction is the function half of a ToolCallItem.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ContentFilterResults mirrors the Azure style moderation block. The bridge
// performs no moderation, so every flag is false.
type ContentFilterResults struct {
	Hate      FilterResult         `json:"hate"`
	SelfHarm  FilterResult         `json:"self_harm"`
	Sexual    FilterResult         `json:"sexual"`
	Violence  FilterResult         `json:"violence"`
	Jailbreak DetectedFilterResult `json:"jailbreak"`
	Profanity DetectedFilterResult `json:"profanity"`
}

type FilterResult struct {
	Filtered bool `json:"filtered"`
}

type DetectedFilterResult struct {
	Filtered bool `json:"filtered"`
	Detected bool `json:"detected"`
}

// Usage is the token accounting block attached to every chunk.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`

	// PromptTokensDetails is never populated and serializes as null.
	PromptTokensDetails     *PromptTokensDetails    `json:"prompt_tokens_details"`
	CompletionTokensDetails CompletionTokensDetails `json:"completion_tokens_details"`
}

type PromptTokensDetails struct {
	CachedTokens int `json:"cached_tokens"`
}

type CompletionTokensDetails struct {
	AudioTokens              int `json:"audio_tokens"`
	ReasoningTokens          int `json:"reasoning_tokens"`
	AcceptedPredictionTokens int `json:"accepted_prediction_tokens"`
	RejectedPredictionTokens int `json:"rejected_prediction_tokens"`
}

// ChatCompletion is the non-streaming response to a chat request.
type ChatCompletion struct {
	ID                string             `json:"id"`
	Object            string             `json:"object"`
	Created           int64              `json:"created"`
	Model             string             `json:"model"`
	Choices           []CompletionChoice `json:"choices"`
	SystemFingerprint string             `json:"system_fingerprint"`
	Usage             Usage              `json:"usage"`
}

type CompletionChoice struct {
	Index                int                  `json:"index"`
	Message              ResponseMessage      `json:"message"`
	FinishReason         *string              `json:"finish_reason"`
	ContentFilterResults ContentFilterResults `json:"content_filter_results"`
}

// ResponseMessage is the assistant message of a non-streaming completion.
type ResponseMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolCalls []ToolCallItem `json:"tool_calls,omitempty"`
}

// ModelList is the body of GET /v1/models.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}
