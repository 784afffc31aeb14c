// Package llm defines the generative-collaborator interface and its
// implementations. The core depends on nothing beyond "eventually returns
// text, possibly malformed JSON if JSON mode was requested."
package llm

import "context"

// Role constants for Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single turn in the conversation handed to the collaborator.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the input to a provider's Complete call.
type Request struct {
	System   string
	Messages []Message
	Model    string // override provider default if set
	JSONMode bool   // ask for a JSON object; best-effort only
}

// Provider is the generative collaborator abstraction.
type Provider interface {
	// Complete sends a completion request and waits for the full text.
	Complete(ctx context.Context, req Request) (string, error)

	// ModelID returns the current model identifier string.
	ModelID() string
}
