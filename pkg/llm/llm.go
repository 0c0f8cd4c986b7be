// Package llm holds the pieces shared by both chat wire formats the bridge
// speaks. The format specific types live under provider/.
package llm

// Message roles common to both formats.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ErrorResponse is the JSON envelope for every error the bridge itself
// returns to a client.
type ErrorResponse struct {
	Error string `json:"error"`
}
