// Package ident generates the opaque identifiers the bridge stamps onto
// translated responses. Identifiers are random, not unique by construction,
// and carry no security weight.
package ident

import (
	"math/rand/v2"
	"strings"

	"github.com/google/uuid"
)

const (
	// ToolCallPrefix is prepended to every generated tool call ID.
	ToolCallPrefix = "call_"

	toolCallAlphabet = "abcdefghijklmnopqrstuvwxyz"
	toolCallLength   = 8
)

// NewChatID returns a 32 character lowercase hex identifier for a streamed
// completion.
func NewChatID() string {
	u := uuid.New()
	return strings.ReplaceAll(u.String(), "-", "")
}

// NewToolCallID returns "call_" followed by 8 random lowercase letters.
func NewToolCallID() string {
	var b strings.Builder
	b.Grow(len(ToolCallPrefix) + toolCallLength)
	b.WriteString(ToolCallPrefix)
	for range toolCallLength {
		b.WriteByte(toolCallAlphabet[rand.IntN(len(toolCallAlphabet))])
	}
	return b.String()
}
