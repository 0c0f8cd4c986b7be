package translate

import (
	"bytes"
	"encoding/json"

	"github.com/papercomputeco/ollamabridge/pkg/ident"
	"github.com/papercomputeco/ollamabridge/pkg/llm"
	"github.com/papercomputeco/ollamabridge/pkg/llm/provider/ollama"
	"github.com/papercomputeco/ollamabridge/pkg/llm/provider/openai"
)

// MapChunk converts one Ollama stream record into an OpenAI chunk and
// advances state. Every record currently produces a chunk; a nil return is
// reserved for records with nothing to translate.
func MapChunk(rec *ollama.ChatResponse, state *StreamState) *openai.ChatCompletionChunk {
	if rec.Model != "" {
		state.Model = rec.Model
	}

	var (
		msg       ollama.Message
		toolCalls bool
	)
	if rec.Message != nil {
		msg = *rec.Message
		toolCalls = msg.ToolCalls != nil
	}

	chunk := &openai.ChatCompletionChunk{
		ID:      state.ChatID(),
		Object:  openai.ObjectChatCompletionChunk,
		Created: state.Created(),
		Model:   state.Model,
		Choices: []openai.ChunkChoice{{Index: 0}},
		Usage:   usageFor(rec, &msg, state.ContentChunks),
	}
	choice := &chunk.Choices[0]

	if !state.FirstChunkEmitted {
		choice.Delta.Role = llm.RoleAssistant
	}

	if msg.Content != "" {
		choice.Delta.Content = msg.Content
		choice.Delta.Role = llm.RoleAssistant
	}

	if toolCalls {
		choice.Delta.Role = llm.RoleAssistant
		choice.Delta.ToolCalls = toolCallItems(msg.ToolCalls)
	}

	if rec.Done {
		reason := finishReason(rec.DoneReason, toolCalls)
		choice.FinishReason = &reason
		if msg.Content == "" && !toolCalls {
			choice.Delta = openai.Delta{Role: llm.RoleAssistant}
		}
	}

	if msg.Content != "" || toolCalls {
		state.ContentChunks++
	}
	state.FirstChunkEmitted = true

	return chunk
}

func finishReason(doneReason string, toolCalls bool) string {
	switch {
	case doneReason == "stop":
		return openai.FinishReasonStop
	case toolCalls:
		return openai.FinishReasonToolCalls
	default:
		return openai.FinishReasonLength
	}
}

// usageFor derives token accounting from the record's eval counters. A zero or
// negative counter is treated as missing.
func usageFor(rec *ollama.ChatResponse, msg *ollama.Message, contentChunks int) openai.Usage {
	prompt := DefaultPromptTokens
	if rec.PromptEvalCount > 0 {
		prompt = int(rec.PromptEvalCount)
	}

	completion := contentChunks
	if rec.EvalCount > 0 {
		completion = int(rec.EvalCount)
	}

	u := openai.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
	if msg.Thinking != "" {
		u.CompletionTokensDetails.ReasoningTokens = 1
	}
	return u
}

func toolCallItems(calls []ollama.ToolCall) []openai.ToolCallItem {
	items := make([]openai.ToolCallItem, 0, len(calls))
	for _, tc := range calls {
		index := 0
		if tc.Function.Index != nil {
			index = *tc.Function.Index
		}

		id := tc.ID
		if id == "" {
			id = ident.NewToolCallID()
		}

		items = append(items, openai.ToolCallItem{
			Index: index,
			ID:    id,
			Type:  "function",
			Function: openai.ToolCallFunction{
				Name:      tc.Function.Name,
				Arguments: argumentsString(tc.Function.Arguments),
			},
		})
	}
	return items
}

// argumentsString renders backend tool call arguments as the JSON encoded
// string OpenAI clients expect. A string value is used verbatim.
func argumentsString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "{}"
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}

	return string(compact(raw))
}
