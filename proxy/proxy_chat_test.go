package proxy

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/ollamabridge/pkg/llm/provider/ollama"
	"github.com/papercomputeco/ollamabridge/pkg/llm/provider/openai"
	"github.com/papercomputeco/ollamabridge/pkg/sse"
	"github.com/papercomputeco/ollamabridge/pkg/storage/inmemory"
)

func boolPtr(b bool) *bool {
	return &b
}

// ndjsonHandler writes each record as its own flushed line.
func ndjsonHandler(records ...string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		flusher, ok := w.(http.Flusher)
		Expect(ok).To(BeTrue())

		for _, rec := range records {
			fmt.Fprintln(w, rec)
			flusher.Flush()
		}
	}
}

// readChunks decodes an SSE body into chunks and reports whether the
// [DONE] sentinel closed it.
func readChunks(body string) ([]openai.ChatCompletionChunk, bool) {
	var (
		chunks []openai.ChatCompletionChunk
		done   bool
	)
	r := sse.NewReader(strings.NewReader(body))
	for {
		ev, err := r.Next()
		Expect(err).NotTo(HaveOccurred())
		if ev == nil {
			return chunks, done
		}
		if ev.IsDone() {
			done = true
			continue
		}
		var chunk openai.ChatCompletionChunk
		Expect(json.Unmarshal([]byte(ev.Data), &chunk)).To(Succeed())
		chunks = append(chunks, chunk)
	}
}

var _ = Describe("Chat completions endpoint", func() {
	var (
		p        *Proxy
		driver   *inmemory.Driver
		upstream *fakeOllama
	)

	BeforeEach(func() {
		upstream = newFakeOllama()
		p, driver = newTestProxy(Config{UpstreamURL: upstream.URL})
	})

	AfterEach(func() {
		if p != nil {
			p.Close()
		}
		upstream.Close()
	})

	Context("when the client streams", func() {
		BeforeEach(func() {
			upstream.chat = ndjsonHandler(
				`{"model":"llama3","message":{"role":"assistant","content":"Hel"},"done":false}`,
				`{"model":"llama3","message":{"role":"assistant","content":"lo"},"done":false}`,
				`{"model":"llama3","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":5,"eval_count":2}`,
			)
		})

		It("sends a translated request upstream", func() {
			readBody(postChat(p, chatBody(nil)))

			reqs := upstream.received()
			Expect(reqs).To(HaveLen(1))
			Expect(reqs[0].Path).To(Equal(ollama.ChatPath))
			Expect(reqs[0].Header.Get("Authorization")).To(Equal("Bearer sk-test"))
			Expect(reqs[0].Header.Get("Content-Type")).To(Equal("application/json"))

			var sent ollama.ChatRequest
			Expect(json.Unmarshal(reqs[0].Body, &sent)).To(Succeed())
			Expect(sent.Model).To(Equal("llama3"))
			Expect(sent.Stream).To(BeTrue())
			Expect(sent.Messages).To(HaveLen(2))
			Expect(sent.Messages[1].Content).To(Equal("Say hello"))
		})

		It("returns an SSE stream of chat completion chunks", func() {
			resp := postChat(p, chatBody(boolPtr(true)))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))
			Expect(resp.Header.Get("Cache-Control")).To(Equal("no-cache"))

			chunks, done := readChunks(readBody(resp))
			Expect(done).To(BeTrue())
			Expect(chunks).To(HaveLen(3))

			Expect(chunks[0].Object).To(Equal("chat.completion.chunk"))
			Expect(chunks[0].ID).To(MatchRegexp(`^[0-9a-f]{32}$`))
			Expect(chunks[0].Choices[0].Delta.Role).To(Equal("assistant"))
			Expect(chunks[0].Choices[0].Delta.Content).To(Equal("Hel"))
			Expect(chunks[0].Choices[0].FinishReason).To(BeNil())
			Expect(chunks[1].Choices[0].Delta.Content).To(Equal("lo"))

			last := chunks[2]
			Expect(last.Choices[0].FinishReason).NotTo(BeNil())
			Expect(*last.Choices[0].FinishReason).To(Equal("stop"))
			Expect(last.Usage.PromptTokens).To(Equal(5))
			Expect(last.Usage.CompletionTokens).To(Equal(2))
			Expect(last.Usage.TotalTokens).To(Equal(7))

			for _, c := range chunks {
				Expect(c.ID).To(Equal(chunks[0].ID))
				Expect(c.Created).To(Equal(chunks[0].Created))
				Expect(c.Model).To(Equal("llama3"))
			}
		})

		It("records usage for the completed stream", func() {
			resp := postChat(p, chatBody(nil))
			chunks, _ := readChunks(readBody(resp))

			// Drain the worker pool so the record is stored
			p.Close()
			p = nil

			records, err := driver.List(GinkgoT().Context(), 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].ID).To(Equal(chunks[0].ID))
			Expect(records[0].Model).To(Equal("llama3"))
			Expect(records[0].Streaming).To(BeTrue())
			Expect(records[0].PromptTokens).To(Equal(5))
			Expect(records[0].CompletionTokens).To(Equal(2))
			Expect(records[0].TotalTokens).To(Equal(7))
			Expect(records[0].FinishReason).To(Equal("stop"))
			Expect(records[0].Status).To(Equal(http.StatusOK))
		})
	})

	Context("when the backend stream has malformed lines", func() {
		BeforeEach(func() {
			upstream.chat = ndjsonHandler(
				`{"model":"llama3","message":{"role":"assistant","content":"ok"},"done":false}`,
				`not json`,
				``,
				`{"model":"llama3","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`,
			)
		})

		It("skips them and finishes the stream", func() {
			resp := postChat(p, chatBody(nil))
			chunks, done := readChunks(readBody(resp))
			Expect(done).To(BeTrue())
			Expect(chunks).To(HaveLen(2))
			Expect(chunks[1].Usage.PromptTokens).To(Equal(24))

			p.Close()
			p = nil

			records, err := driver.List(GinkgoT().Context(), 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Skipped).To(Equal(1))
		})
	})

	Context("when the backend returns tool calls", func() {
		BeforeEach(func() {
			upstream.chat = ndjsonHandler(
				`{"model":"llama3","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"get_weather","arguments":{"city":"Paris"}}}]},"done":false}`,
				`{"model":"llama3","message":{"role":"assistant","content":""},"done":true,"done_reason":"tool_calls"}`,
			)
		})

		It("emits OpenAI tool call deltas", func() {
			resp := postChat(p, chatBody(nil))
			chunks, _ := readChunks(readBody(resp))
			Expect(chunks).To(HaveLen(2))

			calls := chunks[0].Choices[0].Delta.ToolCalls
			Expect(calls).To(HaveLen(1))
			Expect(calls[0].Type).To(Equal("function"))
			Expect(calls[0].ID).To(HavePrefix("call_"))
			Expect(calls[0].Function.Name).To(Equal("get_weather"))
			Expect(calls[0].Function.Arguments).To(MatchJSON(`{"city":"Paris"}`))
		})
	})

	Context("when the client does not stream", func() {
		BeforeEach(func() {
			upstream.chat = func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				io.WriteString(w, `{"model":"llama3","message":{"role":"assistant","content":"Hello!"},"done":true,"done_reason":"stop","prompt_eval_count":9,"eval_count":3}`)
			}
		})

		It("asks the backend for a single response", func() {
			readBody(postChat(p, chatBody(boolPtr(false))))

			var sent ollama.ChatRequest
			Expect(json.Unmarshal(upstream.received()[0].Body, &sent)).To(Succeed())
			Expect(sent.Stream).To(BeFalse())
		})

		It("returns a chat completion object", func() {
			resp := postChat(p, chatBody(boolPtr(false)))
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(HavePrefix("application/json"))

			var completion openai.ChatCompletion
			Expect(json.Unmarshal([]byte(readBody(resp)), &completion)).To(Succeed())
			Expect(completion.Object).To(Equal("chat.completion"))
			Expect(completion.ID).To(MatchRegexp(`^[0-9a-f]{32}$`))
			Expect(completion.Model).To(Equal("llama3"))
			Expect(completion.Choices).To(HaveLen(1))
			Expect(completion.Choices[0].Message.Role).To(Equal("assistant"))
			Expect(completion.Choices[0].Message.Content).To(Equal("Hello!"))
			Expect(*completion.Choices[0].FinishReason).To(Equal("stop"))
			Expect(completion.Usage.TotalTokens).To(Equal(12))
		})

		It("records a non-streaming usage entry", func() {
			readBody(postChat(p, chatBody(boolPtr(false))))

			p.Close()
			p = nil

			records, err := driver.List(GinkgoT().Context(), 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].Streaming).To(BeFalse())
			Expect(records[0].TotalTokens).To(Equal(12))
		})

		It("reports a bad gateway for an empty backend body", func() {
			upstream.chat = func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusOK)
			}

			resp := postChat(p, chatBody(boolPtr(false)))
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
		})
	})

	Context("when the backend rejects the request", func() {
		BeforeEach(func() {
			upstream.chat = func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusNotFound)
				io.WriteString(w, `{"error":"model \"nope\" not found"}`)
			}
		})

		It("passes the status and body through", func() {
			resp := postChat(p, chatBody(nil))
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
			Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))
			Expect(readBody(resp)).To(Equal(`{"error":"model \"nope\" not found"}`))
		})

		It("records no usage", func() {
			readBody(postChat(p, chatBody(nil)))

			p.Close()
			p = nil

			records, err := driver.List(GinkgoT().Context(), 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(BeEmpty())
		})
	})

	Context("when the request body is not valid JSON", func() {
		BeforeEach(func() {
			upstream.chat = func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusBadRequest)
				io.WriteString(w, `{"error":"invalid character"}`)
			}
		})

		It("forwards the body untranslated", func() {
			resp := postChat(p, `{"model":`)
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
			Expect(readBody(resp)).To(Equal(`{"error":"invalid character"}`))
			Expect(string(upstream.received()[0].Body)).To(Equal(`{"model":`))
		})
	})

	Context("when an untranslated body is accepted by the backend", func() {
		BeforeEach(func() {
			upstream.chat = ndjsonHandler(
				`{"model":"llama3","message":{"role":"assistant","content":"hi"},"done":false}`,
				`{"model":"llama3","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop"}`,
			)
		})

		It("answers with an SSE stream", func() {
			resp := postChat(p, `["not","an","object"]`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))

			chunks, done := readChunks(readBody(resp))
			Expect(done).To(BeTrue())
			Expect(chunks).To(HaveLen(2))
			Expect(chunks[0].Choices[0].Delta.Content).To(Equal("hi"))
			Expect(string(upstream.received()[0].Body)).To(Equal(`["not","an","object"]`))
		})
	})

	Context("when a request field has the wrong type", func() {
		BeforeEach(func() {
			upstream.chat = ndjsonHandler(
				`{"model":"llama3","message":{"role":"assistant","content":"ok"},"done":true,"done_reason":"stop"}`,
			)
		})

		It("drops only that field and translates the rest", func() {
			resp := postChat(p, `{"model":"llama3","temperature":"0.7","max_tokens":1e3,"messages":[{"role":"user","content":"hi"}]}`)
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))
			readBody(resp)

			var sent ollama.ChatRequest
			Expect(json.Unmarshal(upstream.received()[0].Body, &sent)).To(Succeed())
			Expect(sent.Model).To(Equal("llama3"))
			Expect(sent.Temperature).To(BeNil())
			Expect(sent.NumPredict).To(HaveValue(Equal(1000)))
			Expect(sent.Messages).To(HaveLen(1))
		})
	})

	Context("when the backend error body is cut short", func() {
		BeforeEach(func() {
			upstream.chat = func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Length", "100")
				w.WriteHeader(http.StatusInternalServerError)
				io.WriteString(w, `{"error":`)
			}
		})

		It("reports a bad gateway", func() {
			resp := postChat(p, chatBody(nil))
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			Expect(readBody(resp)).To(ContainSubstring(`"error":"Internal server error: `))
		})
	})

	Context("when the proxy closes right after a stream", func() {
		BeforeEach(func() {
			upstream.chat = ndjsonHandler(
				`{"model":"llama3","message":{"role":"assistant","content":"bye"},"done":true,"done_reason":"stop","eval_count":1}`,
			)
		})

		It("stores the usage record without panicking", func() {
			readBody(postChat(p, chatBody(nil)))

			Expect(func() { _ = p.Close() }).NotTo(Panic())
			p = nil

			records, err := driver.List(GinkgoT().Context(), 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(records).To(HaveLen(1))
		})
	})

	Context("when the backend is unreachable", func() {
		It("reports a bad gateway in the error envelope", func() {
			upstream.Close()

			resp := postChat(p, chatBody(nil))
			Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
			Expect(readBody(resp)).To(ContainSubstring(`"error":"Internal server error: `))
		})
	})
})
