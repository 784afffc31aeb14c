// Package session holds the per-(project, stage) consultation state and its
// SQLite-backed store.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	cerrors "github.com/crucible-dev/crucible/internal/errors"
	"github.com/crucible-dev/crucible/internal/stage"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Option is one choice inside a Recommendation.
type Option struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Recommended bool   `json:"recommended,omitempty"`
}

// Recommendation is a structured multiple-choice decision prompt attached to
// an assistant message. At most one option carries the recommended flag.
type Recommendation struct {
	Context    string   `json:"context"`
	Options    []Option `json:"options"`
	SelectedID string   `json:"selected_id,omitempty"`
}

// Validate enforces the recommendation invariants.
func (r *Recommendation) Validate() error {
	if len(r.Options) == 0 {
		return fmt.Errorf("recommendation has no options: %w", cerrors.ErrInvalidInput)
	}
	recommended := 0
	seen := make(map[string]bool, len(r.Options))
	for _, o := range r.Options {
		if o.ID == "" {
			return fmt.Errorf("recommendation option missing id: %w", cerrors.ErrInvalidInput)
		}
		if seen[o.ID] {
			return fmt.Errorf("duplicate recommendation option id %q: %w", o.ID, cerrors.ErrInvalidInput)
		}
		seen[o.ID] = true
		if o.Recommended {
			recommended++
		}
	}
	if recommended > 1 {
		return fmt.Errorf("%d options marked recommended, want at most 1: %w", recommended, cerrors.ErrInvalidInput)
	}
	return nil
}

// Normalize repairs an over-flagged recommendation by keeping the first
// recommended option and clearing the rest. Returns how many flags were
// cleared so callers can log the contract violation.
func (r *Recommendation) Normalize() int {
	cleared := 0
	found := false
	for i := range r.Options {
		if !r.Options[i].Recommended {
			continue
		}
		if found {
			r.Options[i].Recommended = false
			cleared++
			continue
		}
		found = true
	}
	return cleared
}

// Option returns the option with the given id.
func (r *Recommendation) Option(id string) (Option, bool) {
	for _, o := range r.Options {
		if o.ID == id {
			return o, true
		}
	}
	return Option{}, false
}

// Message is one entry in the append-only conversation log. The only
// permitted in-place mutation is recording the selected option on an
// assistant message that carried a Recommendation.
type Message struct {
	ID             string          `json:"id"`
	Role           string          `json:"role"`
	Text           string          `json:"text"`
	Recommendation *Recommendation `json:"recommendation,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// NewMessage creates a message with a fresh id and UTC timestamp.
func NewMessage(role, text string) Message {
	return Message{
		ID:        uuid.New().String(),
		Role:      role,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}
}

// Session is the single persisted consultation state for one
// (project, stage) pair.
type Session struct {
	ProjectID string               `json:"project_id"`
	Stage     stage.Stage          `json:"stage"`
	Mode      stage.ComplexityMode `json:"mode"`
	Messages  []Message            `json:"messages"`

	// Artifact is the cumulative document. Turns either leave it unchanged
	// or replace it with a strictly larger cumulative version, never a diff.
	Artifact string `json:"artifact"`

	// CompletedTopics grows monotonically; only a session delete clears it.
	CompletedTopics []string `json:"completed_topics"`

	// UpstreamSnapshots records the fingerprint of each upstream artifact
	// this session last acted against, keyed by stage name.
	UpstreamSnapshots map[string]string `json:"upstream_snapshots"`

	UpdatedAt time.Time `json:"updated_at"`
}

// New creates an empty session for a (project, stage) pair.
func New(projectID string, s stage.Stage, mode stage.ComplexityMode) *Session {
	if mode == "" {
		mode = stage.ModeBalanced
	}
	return &Session{
		ProjectID:         projectID,
		Stage:             s,
		Mode:              mode,
		UpstreamSnapshots: make(map[string]string),
	}
}

// Append adds a message to the log.
func (s *Session) Append(m Message) {
	s.Messages = append(s.Messages, m)
}

// MarkTopics merges newly covered topics into the completed set. The set
// only grows; repeats and unknown duplicates are ignored.
func (s *Session) MarkTopics(topics []string) {
	existing := make(map[string]bool, len(s.CompletedTopics))
	for _, t := range s.CompletedTopics {
		existing[t] = true
	}
	for _, t := range topics {
		if t == "" || existing[t] {
			continue
		}
		existing[t] = true
		s.CompletedTopics = append(s.CompletedTopics, t)
	}
}

// TopicDone reports whether a topic has been covered.
func (s *Session) TopicDone(topic string) bool {
	for _, t := range s.CompletedTopics {
		if t == topic {
			return true
		}
	}
	return false
}

// Select records the user's choice on the message carrying the
// recommendation. This is the one exception to message append-only-ness.
func (s *Session) Select(messageID, optionID string) (Option, error) {
	for i := range s.Messages {
		m := &s.Messages[i]
		if m.ID != messageID {
			continue
		}
		if m.Recommendation == nil {
			return Option{}, fmt.Errorf("message %s has no recommendation: %w", messageID, cerrors.ErrInvalidInput)
		}
		opt, ok := m.Recommendation.Option(optionID)
		if !ok {
			return Option{}, fmt.Errorf("option %s not in recommendation: %w", optionID, cerrors.ErrInvalidInput)
		}
		m.Recommendation.SelectedID = optionID
		return opt, nil
	}
	return Option{}, fmt.Errorf("message %s: %w", messageID, cerrors.ErrNotFound)
}

// Decisions returns the resolved choices made during the session, in order.
type Decision struct {
	Context string `json:"context"`
	Choice  string `json:"choice"`
}

// DecisionLog collects every selected recommendation as a decision entry.
func (s *Session) DecisionLog() []Decision {
	var out []Decision
	for _, m := range s.Messages {
		r := m.Recommendation
		if r == nil || r.SelectedID == "" {
			continue
		}
		if opt, ok := r.Option(r.SelectedID); ok {
			out = append(out, Decision{Context: r.Context, Choice: opt.Label})
		}
	}
	return out
}
