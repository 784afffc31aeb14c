// Package pipeline sequences the consultation flow per stage transition:
// load session, run the engine, persist, and on completion synthesize the
// relay that unlocks the next stage.
package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/crucible-dev/crucible/internal/consult"
	cerrors "github.com/crucible-dev/crucible/internal/errors"
	"github.com/crucible-dev/crucible/internal/metrics"
	"github.com/crucible-dev/crucible/internal/relay"
	"github.com/crucible-dev/crucible/internal/session"
	"github.com/crucible-dev/crucible/internal/staleness"
	"github.com/crucible-dev/crucible/internal/stage"
)

// StaleError is returned by CompletePhase when the stage is stale and the
// caller did not force. It is a confirmation echo, not a hard failure: retry
// with force to proceed anyway.
type StaleError struct {
	Result staleness.Result
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("stage is stale (%s); repeat with force to complete anyway",
		strings.Join(e.Result.Reasons, "; "))
}

// StageView is the full read model for one (project, stage).
type StageView struct {
	Project         string               `json:"project"`
	Stage           string               `json:"stage"`
	Persona         string               `json:"persona"`
	Goal            string               `json:"goal"`
	Mode            stage.ComplexityMode `json:"mode"`
	Unlocked        bool                 `json:"unlocked"`
	Complete        bool                 `json:"complete"`
	Messages        []session.Message    `json:"messages"`
	Artifact        string               `json:"artifact"`
	Topics          []string             `json:"topics"`
	CompletedTopics []string             `json:"completed_topics"`
	Staleness       staleness.Result     `json:"staleness"`
}

// StageSummary is the per-stage entry in the pipeline listing.
type StageSummary struct {
	Stage    string `json:"stage"`
	Persona  string `json:"persona"`
	Unlocked bool   `json:"unlocked"`
	Complete bool   `json:"complete"`
	Stale    bool   `json:"stale"`
	Started  bool   `json:"started"`
}

// TurnOutcome is what SendMessage and SelectOption hand back to the caller.
type TurnOutcome struct {
	Reply          string                  `json:"reply"`
	Recommendation *session.Recommendation `json:"recommendation,omitempty"`
	Artifact       string                  `json:"artifact"`
	NewTopics      []string                `json:"new_topics,omitempty"`
	Violations     []string                `json:"violations,omitempty"`
	Fallback       bool                    `json:"fallback"`
	Messages       []session.Message       `json:"messages"`
}

// Orchestrator wires the engine, stores, and synthesizer into the
// per-stage command surface the consumer sees.
type Orchestrator struct {
	sessions *session.Store
	relays   *relay.Store
	engine   *consult.Engine
	synth    *relay.Synthesizer
	registry *stage.Registry
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// New creates an orchestrator. metrics may be nil.
func New(
	sessions *session.Store,
	relays *relay.Store,
	engine *consult.Engine,
	synth *relay.Synthesizer,
	registry *stage.Registry,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Orchestrator {
	return &Orchestrator{
		sessions: sessions,
		relays:   relays,
		engine:   engine,
		synth:    synth,
		registry: registry,
		metrics:  m,
		logger:   logger.With().Str("component", "pipeline").Logger(),
	}
}

// Stages lists every stage with its unlock/completion/staleness state.
func (o *Orchestrator) Stages(ctx context.Context, projectID string) ([]StageSummary, error) {
	out := make([]StageSummary, 0, len(stage.All()))
	for _, st := range stage.All() {
		unlocked, err := o.unlocked(ctx, projectID, st)
		if err != nil {
			return nil, err
		}
		complete, err := o.relays.Exists(ctx, projectID, st)
		if err != nil {
			return nil, err
		}
		sess, err := o.sessions.Load(ctx, projectID, st)
		if err != nil {
			return nil, err
		}
		stale, err := o.staleness(ctx, projectID, st, sess)
		if err != nil {
			return nil, err
		}
		out = append(out, StageSummary{
			Stage:    st.String(),
			Persona:  o.registry.Definition(st).Persona,
			Unlocked: unlocked,
			Complete: complete,
			Stale:    stale.Stale,
			Started:  sess != nil,
		})
	}
	return out, nil
}

// View returns the read model for one stage. A stage with no session yet is
// shown with an ephemeral welcome message; the session itself is only
// created on the first real message.
func (o *Orchestrator) View(ctx context.Context, projectID string, st stage.Stage) (*StageView, error) {
	def := o.registry.Definition(st)

	unlocked, err := o.unlocked(ctx, projectID, st)
	if err != nil {
		return nil, err
	}
	complete, err := o.relays.Exists(ctx, projectID, st)
	if err != nil {
		return nil, err
	}

	sess, err := o.sessions.Load(ctx, projectID, st)
	if err != nil {
		return nil, err
	}

	view := &StageView{
		Project:  projectID,
		Stage:    st.String(),
		Persona:  def.Persona,
		Goal:     def.Goal,
		Mode:     stage.ModeBalanced,
		Unlocked: unlocked,
		Complete: complete,
		Topics:   def.Topics,
	}
	if sess != nil {
		view.Mode = sess.Mode
		view.Messages = sess.Messages
		view.Artifact = sess.Artifact
		view.CompletedTopics = sess.CompletedTopics
	} else {
		view.Messages = []session.Message{o.welcome(def)}
	}

	stale, err := o.staleness(ctx, projectID, st, sess)
	if err != nil {
		return nil, err
	}
	view.Staleness = stale
	return view, nil
}

// SendMessage runs one consultation turn. The artifact is computed before it
// is persisted, and persistence completes before the outcome is returned, so
// the caller never sees an artifact the store does not have. A fallback turn
// persists nothing.
func (o *Orchestrator) SendMessage(ctx context.Context, projectID string, st stage.Stage, text string, mode stage.ComplexityMode) (*TurnOutcome, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("message text is empty: %w", cerrors.ErrInvalidInput)
	}

	unlocked, err := o.unlocked(ctx, projectID, st)
	if err != nil {
		return nil, err
	}
	if !unlocked {
		prev, _ := st.Prev()
		return nil, fmt.Errorf("complete %s first: %w", prev, cerrors.ErrStageLocked)
	}

	sess, err := o.sessions.Load(ctx, projectID, st)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		if mode == "" {
			mode = stage.ModeBalanced
		}
		sess = session.New(projectID, st, mode)
		sess.Append(o.welcome(o.registry.Definition(st)))
	}

	return o.runTurn(ctx, sess, text)
}

// SelectOption records the user's choice on the recommendation message, then
// runs the follow-up decision turn. The selection is persisted before the
// follow-up, so a fallback on the follow-up never loses the choice.
func (o *Orchestrator) SelectOption(ctx context.Context, projectID string, st stage.Stage, messageID, optionID string) (*TurnOutcome, error) {
	sess, err := o.sessions.Load(ctx, projectID, st)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("no session for %s: %w", st, cerrors.ErrNotFound)
	}

	opt, err := sess.Select(messageID, optionID)
	if err != nil {
		return nil, err
	}
	if err := o.sessions.Save(ctx, sess); err != nil {
		return nil, err
	}

	return o.runTurn(ctx, sess, "Decision: "+opt.Label)
}

// ResetSession hard-deletes the stage session. All completed-topic and
// artifact state is gone; completing the stage again requires a fresh relay.
func (o *Orchestrator) ResetSession(ctx context.Context, projectID string, st stage.Stage) error {
	return o.sessions.Delete(ctx, projectID, st)
}

// CompletePhase synthesizes the relay for this stage, marking it complete
// and unlocking the next. Staleness rejects with a StaleError confirmation
// echo unless forced; forcing a completed stage re-synthesizes its relay,
// which is the redo path.
func (o *Orchestrator) CompletePhase(ctx context.Context, projectID string, st stage.Stage, force bool) (*relay.Artifact, error) {
	sess, err := o.sessions.Load(ctx, projectID, st)
	if err != nil {
		return nil, err
	}
	if sess == nil || strings.TrimSpace(sess.Artifact) == "" {
		return nil, fmt.Errorf("stage %s has no artifact to hand off: %w", st, cerrors.ErrPrecondition)
	}

	stale, err := o.staleness(ctx, projectID, st, sess)
	if err != nil {
		return nil, err
	}
	if stale.Stale && !force {
		return nil, &StaleError{Result: stale}
	}

	var prev *relay.Artifact
	if p, ok := st.Prev(); ok {
		prev, err = o.relays.Get(ctx, projectID, p)
		if err != nil {
			return nil, err
		}
	}

	nextPersona := "the project owner"
	if next, ok := st.Next(); ok {
		nextPersona = o.registry.Definition(next).Persona
	}

	snapshots, err := o.currentUpstream(ctx, projectID, st)
	if err != nil {
		return nil, err
	}
	snapshots[st.String()] = staleness.Fingerprint(sess.Artifact)

	art, err := o.synth.Synthesize(ctx, prev, relay.Input{
		ProjectID:    projectID,
		FromStage:    st,
		ArtifactText: sess.Artifact,
		Decisions:    sess.DecisionLog(),
		NextPersona:  nextPersona,
		Snapshots:    snapshots,
	})
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordRelay(st.String(), "error")
		}
		return nil, err
	}

	if err := o.relays.Save(ctx, art); err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.RecordRelay(st.String(), "ok")
	}

	o.logger.Info().
		Str("project", projectID).
		Str("stage", st.String()).
		Bool("forced", force).
		Msg("stage completed")
	return art, nil
}

// Relays lists the project's hand-off documents in pipeline order.
func (o *Orchestrator) Relays(ctx context.Context, projectID string) ([]*relay.Artifact, error) {
	return o.relays.List(ctx, projectID)
}

// ---- internals ----

// runTurn executes the engine against the session and persists the outcome.
func (o *Orchestrator) runTurn(ctx context.Context, sess *session.Session, text string) (*TurnOutcome, error) {
	var brief string
	if p, ok := sess.Stage.Prev(); ok {
		prevRelay, err := o.relays.Get(ctx, sess.ProjectID, p)
		if err != nil {
			return nil, err
		}
		if prevRelay != nil {
			brief = prevRelay.Handover
		}
	}

	res, err := o.engine.ProcessTurn(ctx, consult.TurnInput{
		Stage:           sess.Stage,
		Mode:            sess.Mode,
		History:         sess.Messages,
		UserText:        text,
		Artifact:        sess.Artifact,
		CompletedTopics: sess.CompletedTopics,
		RelayBrief:      brief,
	})
	if err != nil {
		return nil, err
	}

	if res.Fallback {
		// No partial writes: the session is returned as it was loaded.
		return &TurnOutcome{
			Reply:    res.Reply,
			Artifact: sess.Artifact,
			Fallback: true,
			Messages: sess.Messages,
		}, nil
	}

	sess.Append(session.NewMessage(session.RoleUser, text))
	reply := session.NewMessage(session.RoleAssistant, res.Reply)
	reply.Recommendation = res.Recommendation
	sess.Append(reply)

	sess.MarkTopics(res.NewTopics)
	if res.ArtifactChanged {
		sess.Artifact = res.Artifact
	}

	snapshots, err := o.currentUpstream(ctx, sess.ProjectID, sess.Stage)
	if err != nil {
		return nil, err
	}
	sess.UpstreamSnapshots = snapshots

	if err := o.sessions.Save(ctx, sess); err != nil {
		// The computed turn is returned anyway; the caller may retry the
		// save without re-running the collaborator.
		return nil, fmt.Errorf("turn computed but not persisted: %w", err)
	}

	return &TurnOutcome{
		Reply:          res.Reply,
		Recommendation: res.Recommendation,
		Artifact:       sess.Artifact,
		NewTopics:      res.NewTopics,
		Violations:     res.Violations,
		Messages:       sess.Messages,
	}, nil
}

// unlocked reports whether a stage can be worked on: the first stage always,
// later stages once the previous stage's relay exists.
func (o *Orchestrator) unlocked(ctx context.Context, projectID string, st stage.Stage) (bool, error) {
	p, ok := st.Prev()
	if !ok {
		return true, nil
	}
	return o.relays.Exists(ctx, projectID, p)
}

// staleness compares the stage's recorded upstream baseline (relay snapshots
// once complete, session snapshots otherwise) with the current upstream
// artifacts. A stage with no baseline has nothing to invalidate.
func (o *Orchestrator) staleness(ctx context.Context, projectID string, st stage.Stage, sess *session.Session) (staleness.Result, error) {
	var recorded map[string]string

	rel, err := o.relays.Get(ctx, projectID, st)
	if err != nil {
		return staleness.Result{}, err
	}
	switch {
	case rel != nil:
		recorded = make(map[string]string, len(rel.Snapshots))
		for name, fp := range rel.Snapshots {
			if name != st.String() {
				recorded[name] = fp
			}
		}
	case sess != nil && len(sess.Messages) > 0:
		recorded = sess.UpstreamSnapshots
	default:
		return staleness.Result{}, nil
	}

	current, err := o.currentUpstream(ctx, projectID, st)
	if err != nil {
		return staleness.Result{}, err
	}
	return staleness.Evaluate(recorded, current), nil
}

// currentUpstream fingerprints every upstream artifact that currently exists.
func (o *Orchestrator) currentUpstream(ctx context.Context, projectID string, st stage.Stage) (map[string]string, error) {
	out := make(map[string]string)
	for _, up := range st.Upstream() {
		sess, err := o.sessions.Load(ctx, projectID, up)
		if err != nil {
			return nil, err
		}
		if sess != nil && sess.Artifact != "" {
			out[up.String()] = staleness.Fingerprint(sess.Artifact)
		}
	}
	return out, nil
}

// welcome builds the seeded greeting for a fresh stage session.
func (o *Orchestrator) welcome(def stage.Definition) session.Message {
	text := fmt.Sprintf("Hi, I'm %s. %s Tell me where you'd like to start.", def.Persona, def.Goal)
	return session.NewMessage(session.RoleAssistant, text)
}
