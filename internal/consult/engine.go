// Package consult implements the Socratic interview engine: one user turn
// in, one validated structured decision out.
package consult

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/crucible-dev/crucible/internal/llm"
	"github.com/crucible-dev/crucible/internal/metrics"
	"github.com/crucible-dev/crucible/internal/parse"
	"github.com/crucible-dev/crucible/internal/retry"
	"github.com/crucible-dev/crucible/internal/session"
	"github.com/crucible-dev/crucible/internal/stage"
)

// FallbackReply is shown when the collaborator cannot produce a usable turn.
// The user's message is never consumed by a fallback; re-sending retries.
const FallbackReply = "The consultation engine is offline right now. Your message was not lost — please send it again in a moment."

// Contract-violation kinds surfaced on a turn result.
const (
	ViolationMissingReply          = "missing_reply"
	ViolationArtifactRegression    = "artifact_regression"
	ViolationExcessRecommended     = "excess_recommended_flags"
	ViolationBadRecommendation     = "malformed_recommendation"
	ViolationMissingRecommendation = "list_text_without_recommendation"
)

// TurnInput is everything the engine needs to process one turn.
type TurnInput struct {
	Stage           stage.Stage
	Mode            stage.ComplexityMode
	History         []session.Message
	UserText        string
	Artifact        string
	CompletedTopics []string

	// RelayBrief is the handover text from the upstream relay, seeding the
	// stage's context. Empty for the first stage.
	RelayBrief string
}

// TurnResult is the validated outcome of one turn.
type TurnResult struct {
	Reply           string
	Artifact        string
	ArtifactChanged bool
	NewTopics       []string
	Recommendation  *session.Recommendation

	// Violations lists collaborator contract breaches the engine degraded
	// around rather than rejecting (logged, surfaced, accepted).
	Violations []string

	// Fallback is true when the collaborator failed and the safe fallback
	// reply was substituted. Callers must not persist anything for a
	// fallback turn.
	Fallback bool
}

// Engine drives consultation turns through the generative collaborator.
type Engine struct {
	provider llm.Provider
	registry *stage.Registry
	retryCfg retry.Config
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// NewEngine creates a consultation engine. metrics may be nil.
func NewEngine(provider llm.Provider, registry *stage.Registry, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	return &Engine{
		provider: provider,
		registry: registry,
		retryCfg: retry.DefaultConfig(),
		metrics:  m,
		logger:   logger.With().Str("component", "consult_engine").Logger(),
	}
}

// ProcessTurn runs one turn. Collaborator failures and exhausted parse
// repairs both resolve to the fallback result with a nil error; the raw
// text, when available, is logged for offline diagnosis and never shown to
// the user.
func (e *Engine) ProcessTurn(ctx context.Context, in TurnInput) (TurnResult, error) {
	def := e.registry.Definition(in.Stage)

	req := llm.Request{
		System:   systemInstruction(def, in),
		Messages: buildMessages(in),
		JSONMode: true,
	}

	var obj map[string]json.RawMessage
	start := time.Now()
	err := retry.Do(ctx, e.retryCfg, func(ctx context.Context) error {
		raw, err := e.provider.Complete(ctx, req)
		if err != nil {
			return err
		}
		parsed, tier, err := parse.Object(raw)
		if err != nil {
			if f, ok := err.(*parse.Failure); ok {
				e.logger.Warn().
					Str("stage", in.Stage.String()).
					Str("raw", f.Raw).
					Msg("structured output unparseable, will retry")
			}
			return err
		}
		if e.metrics != nil {
			e.metrics.RecordParseTier(tier.String())
		}
		obj = parsed
		return nil
	})
	if e.metrics != nil {
		e.metrics.CollaboratorLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		e.logger.Error().
			Err(err).
			Str("stage", in.Stage.String()).
			Msg("turn failed, returning fallback")
		if e.metrics != nil {
			e.metrics.RecordTurn(in.Stage.String(), "fallback")
		}
		return TurnResult{Reply: FallbackReply, Artifact: in.Artifact, Fallback: true}, nil
	}

	res := e.validate(obj, in, def)
	if e.metrics != nil {
		e.metrics.RecordTurn(in.Stage.String(), "ok")
		for _, v := range res.Violations {
			e.metrics.RecordViolation(v)
		}
	}
	return res, nil
}

// validate applies the defensive field-by-field contract checks: proceed
// with whatever fields are present, never crash on what is missing.
func (e *Engine) validate(obj map[string]json.RawMessage, in TurnInput, def stage.Definition) TurnResult {
	res := TurnResult{Artifact: in.Artifact}

	reply, ok := parse.String(obj, stage.FieldReply)
	if !ok || strings.TrimSpace(reply) == "" {
		res.Violations = append(res.Violations, ViolationMissingReply)
		reply = FallbackReply
	}
	res.Reply = reply

	// Artifact: full cumulative replacement or the explicit sentinel. The
	// engine never diffs or merges; a shorter document means the
	// collaborator dropped content, so the current artifact is kept.
	if artifact, ok := parse.String(obj, stage.FieldArtifact); ok {
		trimmed := strings.TrimSpace(artifact)
		switch {
		case trimmed == "" || strings.EqualFold(trimmed, "unchanged"):
			// explicit no-op
		case len(artifact) < len(in.Artifact):
			res.Violations = append(res.Violations, ViolationArtifactRegression)
		case artifact != in.Artifact:
			res.Artifact = artifact
			res.ArtifactChanged = true
		}
	}

	// Topics: only names the stage actually defines count as covered.
	if topics, ok := parse.StringSlice(obj, stage.FieldTopics); ok {
		known := make(map[string]bool, len(def.Topics))
		for _, t := range def.Topics {
			known[t] = true
		}
		for _, t := range topics {
			if known[t] {
				res.NewTopics = append(res.NewTopics, t)
			}
		}
	}

	if raw, ok := obj[stage.FieldRecommendation]; ok && string(raw) != "null" {
		var rec session.Recommendation
		if err := json.Unmarshal(raw, &rec); err != nil || len(rec.Options) == 0 {
			res.Violations = append(res.Violations, ViolationBadRecommendation)
		} else {
			if cleared := rec.Normalize(); cleared > 0 {
				res.Violations = append(res.Violations, ViolationExcessRecommended)
				e.logger.Warn().
					Int("cleared", cleared).
					Str("stage", in.Stage.String()).
					Msg("recommendation over-flagged, kept first")
			}
			if err := rec.Validate(); err != nil {
				res.Violations = append(res.Violations, ViolationBadRecommendation)
			} else {
				res.Recommendation = &rec
			}
		}
	}

	// The UI contract says discrete choices arrive as a Recommendation, not
	// as an in-text enumeration. Enforcement is heuristic and soft: accept
	// the turn, flag the breach.
	if res.Recommendation == nil && looksLikeChoiceList(res.Reply) {
		res.Violations = append(res.Violations, ViolationMissingRecommendation)
		e.logger.Warn().
			Str("stage", in.Stage.String()).
			Msg("reply enumerates choices without a recommendation object")
	}

	return res
}

// looksLikeChoiceList detects in-text option enumerations: multiple numbered
// or lettered list lines, or explicit "Option A"-style phrasing.
func looksLikeChoiceList(reply string) bool {
	lower := strings.ToLower(reply)
	if strings.Contains(lower, "option a") && strings.Contains(lower, "option b") {
		return true
	}
	if strings.Contains(lower, "option 1") && strings.Contains(lower, "option 2") {
		return true
	}

	listLines := 0
	for _, line := range strings.Split(reply, "\n") {
		trimmed := strings.TrimSpace(line)
		if len(trimmed) >= 3 && trimmed[0] >= '1' && trimmed[0] <= '9' && (trimmed[1] == '.' || trimmed[1] == ')') {
			listLines++
		}
	}
	return listLines >= 2 && strings.Contains(reply, "?")
}

func buildMessages(in TurnInput) []llm.Message {
	msgs := make([]llm.Message, 0, len(in.History)+1)
	for _, m := range in.History {
		role := llm.RoleUser
		if m.Role == session.RoleAssistant {
			role = llm.RoleAssistant
		}
		msgs = append(msgs, llm.Message{Role: role, Content: m.Text})
	}
	return append(msgs, llm.Message{Role: llm.RoleUser, Content: in.UserText})
}
