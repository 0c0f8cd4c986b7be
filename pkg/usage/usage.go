// Package usage models the per-completion token ledger kept by the bridge.
package usage

import (
	"sort"
	"time"
)

// Record is the ledger entry for one completed chat request.
type Record struct {
	// ID is the chat completion id returned to the client.
	ID string `json:"id"`

	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	FinishReason     string `json:"finish_reason,omitempty"`
	Streaming        bool   `json:"streaming"`

	// Status is the HTTP status returned to the client.
	Status int `json:"status"`

	// Skipped counts malformed backend records dropped while streaming.
	Skipped int `json:"skipped,omitempty"`

	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// ModelStats aggregates records for one model.
type ModelStats struct {
	Model            string `json:"model"`
	Requests         int    `json:"requests"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
}

// Summary is the ledger total across all models.
type Summary struct {
	Requests    int          `json:"requests"`
	TotalTokens int          `json:"total_tokens"`
	Models      []ModelStats `json:"models"`
}

// Summarize totals records per model. Models are sorted by name.
func Summarize(records []*Record) Summary {
	byModel := map[string]*ModelStats{}
	sum := Summary{Models: []ModelStats{}}

	for _, r := range records {
		if r == nil {
			continue
		}
		stats, ok := byModel[r.Model]
		if !ok {
			stats = &ModelStats{Model: r.Model}
			byModel[r.Model] = stats
		}
		stats.Requests++
		stats.PromptTokens += r.PromptTokens
		stats.CompletionTokens += r.CompletionTokens
		stats.TotalTokens += r.TotalTokens

		sum.Requests++
		sum.TotalTokens += r.TotalTokens
	}

	for _, stats := range byModel {
		sum.Models = append(sum.Models, *stats)
	}
	sort.Slice(sum.Models, func(i, j int) bool {
		return sum.Models[i].Model < sum.Models[j].Model
	})

	return sum
}
