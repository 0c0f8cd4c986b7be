package translate

import (
	"time"

	"github.com/papercomputeco/ollamabridge/pkg/ident"
)

// DefaultPromptTokens is reported as prompt_tokens when the backend does not
// send prompt_eval_count. It is not measured from anything; clients of the
// original bridge saw this value, so it is kept as is.
const DefaultPromptTokens = 24

// StreamState is the per-response state threaded through MapChunk. It is
// owned by a single transcoding loop and must not be shared.
type StreamState struct {
	chatID  string
	created int64

	// Model is the last non-empty model name seen on the stream.
	Model string

	// ContentChunks counts records that carried content or tool calls.
	ContentChunks int

	// FirstChunkEmitted flips to true once the first chunk is built.
	FirstChunkEmitted bool
}

// NewStreamState starts a stream with a fresh chat id created now.
func NewStreamState() *StreamState {
	return NewStreamStateAt(ident.NewChatID(), time.Now())
}

// NewStreamStateAt starts a stream with a fixed id and creation time.
func NewStreamStateAt(chatID string, created time.Time) *StreamState {
	return &StreamState{
		chatID:  chatID,
		created: created.Unix(),
	}
}

// ChatID returns the identifier shared by every chunk of the stream.
func (s *StreamState) ChatID() string {
	return s.chatID
}

// Created returns the stream creation time in Unix seconds.
func (s *StreamState) Created() int64 {
	return s.created
}
