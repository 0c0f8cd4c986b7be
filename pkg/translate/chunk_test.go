package translate

import (
	"encoding/json"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/ollamabridge/pkg/llm/provider/ollama"
	"github.com/papercomputeco/ollamabridge/pkg/llm/provider/openai"
)

func record(line string) *ollama.ChatResponse {
	rec, err := DecodeRecord([]byte(line))
	Expect(err).NotTo(HaveOccurred())
	return rec
}

func mapAll(state *StreamState, lines ...string) []*openai.ChatCompletionChunk {
	chunks := make([]*openai.ChatCompletionChunk, 0, len(lines))
	for _, l := range lines {
		chunk := MapChunk(record(l), state)
		Expect(chunk).NotTo(BeNil())
		chunks = append(chunks, chunk)
	}
	return chunks
}

var _ = Describe("MapChunk", func() {
	var state *StreamState

	BeforeEach(func() {
		state = NewStreamStateAt("0123456789abcdef0123456789abcdef", time.Unix(1700000000, 0))
	})

	It("translates a content stream ending in stop", func() {
		chunks := mapAll(state,
			`{"model":"x","message":{"content":"Hel"}}`,
			`{"model":"x","message":{"content":"lo"}}`,
			`{"model":"x","done":true,"done_reason":"stop"}`,
		)

		Expect(chunks[0].Choices[0].Delta).To(Equal(openai.Delta{Role: "assistant", Content: "Hel"}))
		Expect(chunks[0].Choices[0].FinishReason).To(BeNil())

		// Content bearing deltas always name their role.
		Expect(chunks[1].Choices[0].Delta).To(Equal(openai.Delta{Role: "assistant", Content: "lo"}))
		Expect(chunks[1].Choices[0].FinishReason).To(BeNil())

		Expect(chunks[2].Choices[0].Delta).To(Equal(openai.Delta{Role: "assistant"}))
		Expect(chunks[2].Choices[0].FinishReason).To(HaveValue(Equal("stop")))
	})

	It("fills the fixed chunk envelope", func() {
		chunk := mapAll(state, `{"model":"llama3","message":{"content":"hi"}}`)[0]

		Expect(chunk.ID).To(Equal("0123456789abcdef0123456789abcdef"))
		Expect(chunk.Object).To(Equal("chat.completion.chunk"))
		Expect(chunk.Created).To(Equal(int64(1700000000)))
		Expect(chunk.Model).To(Equal("llama3"))
		Expect(chunk.Choices).To(HaveLen(1))
		Expect(chunk.Choices[0].Index).To(Equal(0))
		Expect(chunk.SystemFingerprint).To(BeEmpty())
	})

	It("serializes null finish_reason and fixed false filter results", func() {
		chunk := mapAll(state, `{"model":"x","message":{"content":"hi"}}`)[0]

		raw, err := json.Marshal(chunk)
		Expect(err).NotTo(HaveOccurred())

		Expect(string(raw)).To(ContainSubstring(`"finish_reason":null`))
		Expect(string(raw)).To(ContainSubstring(`"system_fingerprint":""`))
		Expect(string(raw)).To(ContainSubstring(`"prompt_tokens_details":null`))
		Expect(string(raw)).To(ContainSubstring(
			`"content_filter_results":{"hate":{"filtered":false},"self_harm":{"filtered":false},` +
				`"sexual":{"filtered":false},"violence":{"filtered":false},` +
				`"jailbreak":{"filtered":false,"detected":false},"profanity":{"filtered":false,"detected":false}}`))
	})

	It("keeps the last non-empty model name", func() {
		chunks := mapAll(state,
			`{"model":"a","message":{"content":"1"}}`,
			`{"message":{"content":"2"}}`,
			`{"model":"","message":{"content":"3"}}`,
		)
		Expect(chunks[1].Model).To(Equal("a"))
		Expect(chunks[2].Model).To(Equal("a"))
		Expect(state.Model).To(Equal("a"))
	})

	It("emits a chunk with an empty model until one is seen", func() {
		chunk := mapAll(state, `{"message":{"content":"x"}}`)[0]
		Expect(chunk.Model).To(BeEmpty())
	})

	Describe("role announcement", func() {
		It("announces the role on the first chunk even without content", func() {
			chunks := mapAll(state,
				`{"model":"x","message":{"role":"assistant","content":""}}`,
				`{"model":"x","message":{"role":"assistant","content":""}}`,
			)
			Expect(chunks[0].Choices[0].Delta).To(Equal(openai.Delta{Role: "assistant"}))
			Expect(chunks[1].Choices[0].Delta).To(Equal(openai.Delta{}))
		})

		It("flips FirstChunkEmitted exactly once", func() {
			Expect(state.FirstChunkEmitted).To(BeFalse())
			mapAll(state, `{"message":{"content":""}}`)
			Expect(state.FirstChunkEmitted).To(BeTrue())
			mapAll(state, `{"message":{"content":"a"}}`, `{"done":true}`)
			Expect(state.FirstChunkEmitted).To(BeTrue())
		})
	})

	Describe("finish reason", func() {
		It("only sets finish_reason on the done record, which is the last chunk", func() {
			chunks := mapAll(state,
				`{"model":"x","message":{"content":"a"}}`,
				`{"model":"x","message":{"content":"b"}}`,
				`{"model":"x","message":{"content":""}}`,
				`{"model":"x","message":{"content":"c"}}`,
				`{"model":"x","done":true,"done_reason":"stop"}`,
			)

			terminal := 0
			for i, c := range chunks {
				if c.Choices[0].FinishReason != nil {
					terminal++
					Expect(i).To(Equal(len(chunks) - 1))
				}
			}
			Expect(terminal).To(Equal(1))
		})

		It("reports tool_calls when the done record carries tool calls", func() {
			chunk := mapAll(state,
				`{"model":"x","message":{"tool_calls":[{"function":{"name":"f","arguments":{"a":1}}}]},"done":true,"done_reason":"tool"}`,
			)[0]
			Expect(chunk.Choices[0].FinishReason).To(HaveValue(Equal("tool_calls")))
			Expect(chunk.Choices[0].Delta.ToolCalls).To(HaveLen(1))
		})

		It("prefers stop over tool_calls", func() {
			chunk := mapAll(state,
				`{"message":{"tool_calls":[{"function":{"name":"f"}}]},"done":true,"done_reason":"stop"}`,
			)[0]
			Expect(chunk.Choices[0].FinishReason).To(HaveValue(Equal("stop")))
		})

		It("reports length for any other done reason", func() {
			for _, line := range []string{
				`{"done":true,"done_reason":"length"}`,
				`{"done":true,"done_reason":"load"}`,
				`{"done":true}`,
			} {
				chunk := MapChunk(record(line), state)
				Expect(chunk.Choices[0].FinishReason).To(HaveValue(Equal("length")))
			}
		})

		It("keeps content on a done record that carries content", func() {
			chunks := mapAll(state,
				`{"message":{"content":"a"}}`,
				`{"message":{"content":"tail"},"done":true,"done_reason":"stop"}`,
			)
			Expect(chunks[1].Choices[0].Delta).To(Equal(openai.Delta{Role: "assistant", Content: "tail"}))
		})
	})

	Describe("tool calls", func() {
		It("re-encodes object arguments as a JSON string", func() {
			chunk := mapAll(state,
				`{"message":{"tool_calls":[{"id":"call_x","function":{"index":2,"name":"get_weather","arguments":{"city":"Paris"}}}]}}`,
			)[0]

			Expect(chunk.Choices[0].Delta.Role).To(Equal("assistant"))
			Expect(chunk.Choices[0].Delta.ToolCalls).To(Equal([]openai.ToolCallItem{{
				Index: 2,
				ID:    "call_x",
				Type:  "function",
				Function: openai.ToolCallFunction{
					Name:      "get_weather",
					Arguments: `{"city":"Paris"}`,
				},
			}}))
		})

		It("uses string arguments verbatim", func() {
			chunk := mapAll(state,
				`{"message":{"tool_calls":[{"function":{"name":"f","arguments":"{\"a\": 1}"}}]}}`,
			)[0]
			Expect(chunk.Choices[0].Delta.ToolCalls[0].Function.Arguments).To(Equal(`{"a": 1}`))
		})

		It("round trips arguments so the string decodes to the original object", func() {
			original := map[string]any{"q": "weather", "days": float64(3)}
			obj, err := json.Marshal(original)
			Expect(err).NotTo(HaveOccurred())

			var decoded map[string]any
			Expect(json.Unmarshal([]byte(argumentsString(obj)), &decoded)).To(Succeed())
			Expect(decoded).To(Equal(original))
		})

		It("defaults index, id, name and arguments", func() {
			chunk := mapAll(state, `{"message":{"tool_calls":[{"function":{}}]}}`)[0]
			item := chunk.Choices[0].Delta.ToolCalls[0]

			Expect(item.Index).To(Equal(0))
			Expect(item.ID).To(MatchRegexp(`^call_[a-z]{8}$`))
			Expect(item.Type).To(Equal("function"))
			Expect(item.Function.Name).To(BeEmpty())
			Expect(item.Function.Arguments).To(Equal("{}"))
		})

		It("generates distinct ids per call", func() {
			chunk := mapAll(state, `{"message":{"tool_calls":[{"function":{"name":"a"}},{"function":{"name":"b"}}]}}`)[0]
			items := chunk.Choices[0].Delta.ToolCalls
			Expect(items).To(HaveLen(2))
			Expect(items[0].ID).To(MatchRegexp(`^call_[a-z]{8}$`))
			Expect(items[1].ID).To(MatchRegexp(`^call_[a-z]{8}$`))
		})
	})

	Describe("usage", func() {
		// DefaultPromptTokens is a fixed fallback rather than a measured
		// value; this pins it so any change is deliberate.
		It("falls back to the fixed default of 24 prompt tokens", func() {
			Expect(DefaultPromptTokens).To(Equal(24))

			chunk := mapAll(state, `{"message":{"content":"a"}}`)[0]
			Expect(chunk.Usage.PromptTokens).To(Equal(24))
		})

		It("treats a zero prompt counter as missing", func() {
			chunk := mapAll(state, `{"done":true,"prompt_eval_count":0,"eval_count":0}`)[0]
			Expect(chunk.Usage.PromptTokens).To(Equal(DefaultPromptTokens))
			Expect(chunk.Usage.CompletionTokens).To(Equal(0))
		})

		It("counts content chunks when eval_count is absent", func() {
			chunks := mapAll(state,
				`{"message":{"content":"a"}}`,
				`{"message":{"content":""}}`,
				`{"message":{"content":"b"}}`,
				`{"message":{"tool_calls":[{"function":{"name":"f"}}]}}`,
				`{"done":true}`,
			)

			completions := []int{}
			for _, c := range chunks {
				completions = append(completions, c.Usage.CompletionTokens)
			}
			Expect(completions).To(Equal([]int{0, 1, 1, 2, 3}))
			Expect(state.ContentChunks).To(Equal(3))
		})

		It("uses the backend counters when present", func() {
			chunk := mapAll(state, `{"done":true,"done_reason":"stop","prompt_eval_count":11,"eval_count":7}`)[0]
			Expect(chunk.Usage.PromptTokens).To(Equal(11))
			Expect(chunk.Usage.CompletionTokens).To(Equal(7))
			Expect(chunk.Usage.TotalTokens).To(Equal(18))
		})

		It("reports one reasoning token when thinking is present", func() {
			chunks := mapAll(state,
				`{"message":{"thinking":"hmm"}}`,
				`{"message":{"content":"ok"}}`,
			)
			Expect(chunks[0].Usage.CompletionTokensDetails.ReasoningTokens).To(Equal(1))
			Expect(chunks[1].Usage.CompletionTokensDetails.ReasoningTokens).To(Equal(0))
		})
	})

	It("shares one id and creation time across the stream", func() {
		fresh := NewStreamState()
		chunks := mapAll(fresh, `{"message":{"content":"a"}}`, `{"done":true}`)

		Expect(chunks[0].ID).To(MatchRegexp(`^[0-9a-f]{32}$`))
		Expect(chunks[1].ID).To(Equal(chunks[0].ID))
		Expect(chunks[1].Created).To(Equal(chunks[0].Created))
	})
})

var _ = Describe("DecodeRecord", func() {
	DescribeTable("rejects lines that are not a JSON object",
		func(line string) {
			_, err := DecodeRecord([]byte(line))
			Expect(err).To(MatchError(ErrMalformedRecord))
		},
		Entry("truncated", `{"bad json`),
		Entry("null", `null`),
		Entry("number", `42`),
		Entry("array", `[]`),
		Entry("wrong field type", `{"done":"yes"}`),
	)

	It("decodes a final record with metrics", func() {
		rec, err := DecodeRecord([]byte(`{"model":"m","created_at":"2024-01-01T00:00:00Z","done":true,"done_reason":"stop","eval_count":3}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Done).To(BeTrue())
		Expect(rec.EvalCount).To(BeEquivalentTo(3))
		Expect(rec.PromptEvalCount).To(BeZero())
	})

	It("accepts a created_at that is not RFC 3339", func() {
		rec, err := DecodeRecord([]byte(`{"model":"m","created_at":"yesterday","message":{"role":"assistant","content":"hi"},"done":false}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Model).To(Equal("m"))
		Expect(rec.Message.Content).To(Equal("hi"))
	})

	It("accepts a numeric created_at and total_duration", func() {
		rec, err := DecodeRecord([]byte(`{"created_at":1704067200,"total_duration":"12ms","done":true}`))
		Expect(err).NotTo(HaveOccurred())
		Expect(rec.Done).To(BeTrue())
	})

	DescribeTable("reads eval counters leniently",
		func(counter string, want int) {
			rec, err := DecodeRecord([]byte(`{"done":true,"eval_count":` + counter + `}`))
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.EvalCount).To(BeEquivalentTo(want))
		},
		Entry("float with zero fraction", `3.0`, 3),
		Entry("exponent", `1e2`, 100),
		Entry("fraction", `2.5`, 0),
		Entry("string", `"3"`, 0),
		Entry("null", `null`, 0),
	)

	It("uses a float eval_count as completion tokens", func() {
		rec, err := DecodeRecord([]byte(`{"model":"m","done":true,"done_reason":"stop","prompt_eval_count":9.0,"eval_count":3.0}`))
		Expect(err).NotTo(HaveOccurred())

		chunk := MapChunk(rec, NewStreamState())
		Expect(chunk.Usage.PromptTokens).To(Equal(9))
		Expect(chunk.Usage.CompletionTokens).To(Equal(3))
		Expect(chunk.Usage.TotalTokens).To(Equal(12))
	})
})
