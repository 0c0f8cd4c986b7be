package translate

import (
	"bytes"
	"errors"
	"strings"

	"github.com/papercomputeco/ollamabridge/pkg/llm"
	"github.com/papercomputeco/ollamabridge/pkg/llm/provider/openai"
)

// ErrEmptyResponse is returned by Aggregate when the backend body holds no
// decodable record.
var ErrEmptyResponse = errors.New("backend response contained no records")

// Aggregate folds a buffered (stream:false) backend response into a single
// chat.completion object. The body normally holds one JSON object; any
// number of newline separated records is accepted and merged in order, with
// the final line used even when it lacks a trailing newline.
func Aggregate(body []byte, state *StreamState) (*openai.ChatCompletion, error) {
	var (
		content   strings.Builder
		toolCalls []openai.ToolCallItem
		finish    *string
		usage     openai.Usage
		records   int
	)

	for line := range bytes.SplitSeq(body, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		rec, err := DecodeRecord(line)
		if err != nil {
			continue
		}

		chunk := MapChunk(rec, state)
		if chunk == nil {
			continue
		}
		records++

		delta := chunk.Choices[0].Delta
		content.WriteString(delta.Content)
		toolCalls = append(toolCalls, delta.ToolCalls...)
		if fr := chunk.Choices[0].FinishReason; fr != nil {
			finish = fr
		}
		usage = chunk.Usage
	}

	if records == 0 {
		return nil, ErrEmptyResponse
	}

	return &openai.ChatCompletion{
		ID:      state.ChatID(),
		Object:  openai.ObjectChatCompletion,
		Created: state.Created(),
		Model:   state.Model,
		Choices: []openai.CompletionChoice{{
			Index: 0,
			Message: openai.ResponseMessage{
				Role:      llm.RoleAssistant,
				Content:   content.String(),
				ToolCalls: toolCalls,
			},
			FinishReason: finish,
		}},
		Usage: usage,
	}, nil
}
