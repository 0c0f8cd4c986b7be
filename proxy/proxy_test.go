package proxy

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/papercomputeco/ollamabridge/pkg/llm"
	"github.com/papercomputeco/ollamabridge/pkg/llm/provider/openai"
	"github.com/papercomputeco/ollamabridge/pkg/logger"
	"github.com/papercomputeco/ollamabridge/pkg/storage/inmemory"
)

// fakeOllama is an httptest backend that records what the bridge sent.
type fakeOllama struct {
	*httptest.Server

	mu       sync.Mutex
	requests []capturedRequest

	chat func(w http.ResponseWriter, r *http.Request)
	tags func(w http.ResponseWriter, r *http.Request)
}

type capturedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

func newFakeOllama() *fakeOllama {
	f := &fakeOllama{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.requests = append(f.requests, capturedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Header: r.Header.Clone(),
			Body:   body,
		})
		f.mu.Unlock()

		switch {
		case r.URL.Path == "/api/chat" && f.chat != nil:
			f.chat(w, r)
		case r.URL.Path == "/api/tags" && f.tags != nil:
			f.tags(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	return f
}

func (f *fakeOllama) received() []capturedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]capturedRequest(nil), f.requests...)
}

// newTestProxy creates a Proxy pointed at upstreamURL with an in-memory
// usage ledger.
func newTestProxy(cfg Config) (*Proxy, *inmemory.Driver) {
	driver := inmemory.NewDriver()
	cfg.ListenAddr = ":0"
	p, err := New(cfg, driver, nil, logger.Nop())
	Expect(err).NotTo(HaveOccurred())
	return p, driver
}

func readBody(resp *http.Response) string {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	Expect(err).NotTo(HaveOccurred())
	return string(body)
}

const tagsBody = `{"models":[
	{"name":"llama3:8b","modified_at":"2024-05-01T10:00:00Z","size":1},
	{"name":"qwen2.5:7b","modified_at":"2024-06-01T10:00:00.123456789Z"}
]}`

var _ = Describe("New", func() {
	It("requires an upstream URL", func() {
		_, err := New(Config{}, inmemory.NewDriver(), nil, logger.Nop())
		Expect(err).To(HaveOccurred())
	})

	It("requires a storage driver", func() {
		_, err := New(Config{UpstreamURL: "http://localhost:11434"}, nil, nil, logger.Nop())
		Expect(err).To(HaveOccurred())
	})

	It("applies defaults and trims the upstream URL", func() {
		p, _ := newTestProxy(Config{UpstreamURL: "http://localhost:11434/"})
		defer p.Close()

		Expect(p.config.UpstreamURL).To(Equal("http://localhost:11434"))
		Expect(p.config.UpstreamTimeout).To(Equal(5 * time.Minute))
		Expect(p.config.ModelsCacheTTL).To(Equal(time.Minute))
		Expect(p.models).NotTo(BeNil())
	})

	It("disables the models cache for a negative TTL", func() {
		p, _ := newTestProxy(Config{UpstreamURL: "http://localhost:11434", ModelsCacheTTL: -1})
		defer p.Close()

		Expect(p.models).To(BeNil())
	})
})

var _ = Describe("Routing", func() {
	var (
		p        *Proxy
		upstream *fakeOllama
	)

	BeforeEach(func() {
		upstream = newFakeOllama()
		p, _ = newTestProxy(Config{UpstreamURL: upstream.URL})
	})

	AfterEach(func() {
		p.Close()
		upstream.Close()
	})

	It("answers unknown endpoints with the not found envelope", func() {
		resp, err := p.server.Test(httptest.NewRequest(http.MethodGet, "/v1/embeddings", nil), -1)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))

		var envelope llm.ErrorResponse
		Expect(json.Unmarshal([]byte(readBody(resp)), &envelope)).To(Succeed())
		Expect(envelope.Error).To(Equal("Endpoint not found"))
		Expect(upstream.received()).To(BeEmpty())
	})

	It("answers a GET on the chat endpoint with not found", func() {
		resp, err := p.server.Test(httptest.NewRequest(http.MethodGet, "/v1/chat/completions", nil), -1)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
	})

	It("answers CORS preflight requests", func() {
		req := httptest.NewRequest(http.MethodOptions, "/v1/chat/completions", nil)
		req.Header.Set("Origin", "https://app.example.com")
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)

		resp, err := p.server.Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
		Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		Expect(resp.Header.Get("Access-Control-Allow-Methods")).To(Equal("GET,POST,OPTIONS"))
		Expect(resp.Header.Get("Access-Control-Allow-Headers")).To(Equal("Content-Type, Authorization"))
		Expect(resp.Header.Get("Access-Control-Max-Age")).To(Equal("86400"))
	})

	It("adds CORS headers to regular responses", func() {
		req := httptest.NewRequest(http.MethodGet, "/nowhere", nil)
		req.Header.Set("Origin", "https://app.example.com")

		resp, err := p.server.Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
	})
})

var _ = Describe("Models endpoint", func() {
	var (
		p        *Proxy
		upstream *fakeOllama
	)

	BeforeEach(func() {
		upstream = newFakeOllama()
		upstream.tags = func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			io.WriteString(w, tagsBody)
		}
		p, _ = newTestProxy(Config{UpstreamURL: upstream.URL})
	})

	AfterEach(func() {
		p.Close()
		upstream.Close()
	})

	getModels := func(auth string) *http.Response {
		req := httptest.NewRequest(http.MethodGet, "/v1/models", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		resp, err := p.server.Test(req, -1)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	It("translates the backend catalog", func() {
		resp := getModels("Bearer k1")
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
		Expect(resp.Header.Get("Content-Type")).To(HavePrefix("application/json"))

		var list openai.ModelList
		Expect(json.Unmarshal([]byte(readBody(resp)), &list)).To(Succeed())
		Expect(list.Object).To(Equal("list"))
		Expect(list.Data).To(HaveLen(2))
		Expect(list.Data[0]).To(Equal(openai.Model{
			ID:      "llama3:8b",
			Object:  "model",
			Created: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC).Unix(),
			OwnedBy: "ollama",
		}))
		Expect(list.Data[1].ID).To(Equal("qwen2.5:7b"))
	})

	It("forwards the client Authorization header", func() {
		readBody(getModels("Bearer k1"))

		reqs := upstream.received()
		Expect(reqs).To(HaveLen(1))
		Expect(reqs[0].Method).To(Equal(http.MethodGet))
		Expect(reqs[0].Path).To(Equal("/api/tags"))
		Expect(reqs[0].Header.Get("Authorization")).To(Equal("Bearer k1"))
	})

	It("serves repeat requests from cache per Authorization value", func() {
		readBody(getModels("Bearer k1"))
		readBody(getModels("Bearer k1"))
		Expect(upstream.received()).To(HaveLen(1))

		readBody(getModels("Bearer k2"))
		Expect(upstream.received()).To(HaveLen(2))
	})

	It("passes backend errors through untranslated", func() {
		upstream.tags = func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			io.WriteString(w, `{"error":"unauthorized"}`)
		}

		resp := getModels("Bearer bad")
		Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		Expect(readBody(resp)).To(Equal(`{"error":"unauthorized"}`))
	})

	It("does not cache backend errors", func() {
		upstream.tags = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}

		readBody(getModels("Bearer k1"))
		readBody(getModels("Bearer k1"))
		Expect(upstream.received()).To(HaveLen(2))
	})

	It("returns an empty list for an unexpected catalog shape", func() {
		upstream.tags = func(w http.ResponseWriter, _ *http.Request) {
			io.WriteString(w, `{"models":"nope"}`)
		}

		body := readBody(getModels("Bearer k3"))
		Expect(body).To(MatchJSON(`{"object":"list","data":[]}`))
	})

	It("reports a bad gateway when the backend is unreachable", func() {
		upstream.Close()

		resp := getModels("Bearer k4")
		Expect(resp.StatusCode).To(Equal(http.StatusBadGateway))
		Expect(readBody(resp)).To(ContainSubstring("Internal server error: "))
	})
})

// chatBody builds a minimal chat completion request body.
func chatBody(stream *bool) string {
	req := map[string]any{
		"model": "llama3",
		"messages": []map[string]any{
			{"role": "system", "content": "Be brief."},
			{"role": "user", "content": []map[string]any{
				{"type": "text", "text": "Say hello"},
			}},
		},
	}
	if stream != nil {
		req["stream"] = *stream
	}
	b, err := json.Marshal(req)
	Expect(err).NotTo(HaveOccurred())
	return string(b)
}

func postChat(p *Proxy, body string) *http.Response {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer sk-test")
	resp, err := p.server.Test(req, -1)
	Expect(err).NotTo(HaveOccurred())
	return resp
}
