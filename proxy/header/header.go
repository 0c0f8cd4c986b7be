// Package header decides which headers cross the bridge in each direction.
//
//	Client <--> Bridge <--> Ollama backend
//
// Each leg negotiates compression, hops and encoding independently, and the
// bridge rewrites bodies, so size and encoding headers never carry over.
package header

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Handler copies headers between the client and backend legs.
type Handler struct {
	// apiKey is sent as a bearer token when the client supplies no
	// Authorization header of its own.
	apiKey string
}

// NewHandler creates a Handler. An empty apiKey disables the fallback.
func NewHandler(apiKey string) *Handler {
	return &Handler{apiKey: strings.TrimSpace(apiKey)}
}

// skipRequest lists client request headers that are not sent upstream.
var skipRequest = map[string]struct{}{
	"Connection": {},

	// Rewritten by http.Transport from the upstream URL.
	"Host": {},

	// http.Transport adds its own and decompresses transparently.
	"Accept-Encoding": {},

	// The body is re-encoded, so its length changes.
	"Content-Length": {},

	// Browser origin headers are meaningless to the backend.
	"Origin":  {},
	"Referer": {},
}

// skipResponse lists backend response headers that are not copied back.
var skipResponse = map[string]struct{}{
	"Connection":        {},
	"Transfer-Encoding": {},

	// http.Transport already decompressed the body. The compress middleware
	// sets its own encoding and length for the client leg.
	"Content-Encoding": {},
	"Content-Length":   {},

	// The bridge answers CORS itself.
	"Access-Control-Allow-Origin":  {},
	"Access-Control-Allow-Methods": {},
	"Access-Control-Allow-Headers": {},
	"Access-Control-Max-Age":       {},
}

// SetUpstreamRequestHeaders copies forwardable client headers onto req and
// applies the Authorization fallback.
func (h *Handler) SetUpstreamRequestHeaders(c *fiber.Ctx, req *http.Request) {
	c.Request().Header.VisitAll(func(key, value []byte) {
		k := string(key)
		if _, skip := skipRequest[k]; !skip {
			req.Header.Add(k, string(value))
		}
	})

	if req.Header.Get(fiber.HeaderAuthorization) == "" && h.apiKey != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+h.apiKey)
	}
}

// SetClientResponseHeaders copies forwardable backend response headers onto
// the client response.
func (h *Handler) SetClientResponseHeaders(c *fiber.Ctx, resp *http.Response) {
	for k, v := range resp.Header {
		if _, skip := skipResponse[k]; !skip {
			c.Set(k, strings.Join(v, ", "))
		}
	}
}
