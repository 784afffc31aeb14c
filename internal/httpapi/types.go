// Package httpapi exposes the consultation pipeline over HTTP.
package httpapi

import "github.com/crucible-dev/crucible/internal/staleness"

// ProblemDetail follows RFC 7807 for error responses.
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

// SendMessageRequest is the body of POST .../messages.
type SendMessageRequest struct {
	Text string `json:"text"`
	Mode string `json:"mode,omitempty"` // guided, balanced, expert; empty means balanced
}

// SelectOptionRequest is the body of POST .../select.
type SelectOptionRequest struct {
	MessageID string `json:"message_id"`
	OptionID  string `json:"option_id"`
}

// CompleteRequest is the body of POST .../complete.
type CompleteRequest struct {
	Force bool `json:"force"`
}

// StaleProblem is the 409 body returned when completing a stale stage without
// force. It echoes the staleness reasons so the client can confirm.
type StaleProblem struct {
	ProblemDetail
	Staleness staleness.Result `json:"staleness"`
}

// HealthResponse is the body of the probe endpoints.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}
