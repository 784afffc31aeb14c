package relay

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	cerrors "github.com/crucible-dev/crucible/internal/errors"
	"github.com/crucible-dev/crucible/internal/llm"
	"github.com/crucible-dev/crucible/internal/parse"
	"github.com/crucible-dev/crucible/internal/retry"
	"github.com/crucible-dev/crucible/internal/session"
	"github.com/crucible-dev/crucible/internal/stage"
)

// Input carries everything a synthesis needs from the completing stage.
type Input struct {
	ProjectID    string
	FromStage    stage.Stage
	ArtifactText string
	Decisions    []session.Decision
	NextPersona  string
	Snapshots    map[string]string
}

// Synthesizer compresses a stage's final artifact and decision log into the
// four-section relay document, via the generative collaborator.
type Synthesizer struct {
	provider llm.Provider
	retryCfg retry.Config
	logger   zerolog.Logger
}

// NewSynthesizer creates a synthesizer on the given provider.
func NewSynthesizer(provider llm.Provider, logger zerolog.Logger) *Synthesizer {
	return &Synthesizer{
		provider: provider,
		retryCfg: retry.DefaultConfig(),
		logger:   logger.With().Str("component", "relay_synthesizer").Logger(),
	}
}

// Synthesize produces a relay artifact. An empty stage artifact is a caller
// error, not a recoverable one. The previous relay (nil for the genesis
// transition) seeds the carry-forward sections; the synthesis contract is
// carry forward, never drop.
func (s *Synthesizer) Synthesize(ctx context.Context, prev *Artifact, in Input) (*Artifact, error) {
	if strings.TrimSpace(in.ArtifactText) == "" {
		return nil, fmt.Errorf("relay requested with empty artifact for stage %s: %w",
			in.FromStage, cerrors.ErrPrecondition)
	}

	req := llm.Request{
		System: s.systemInstruction(prev, in),
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: s.userPayload(prev, in)},
		},
	}

	var doc string
	err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) error {
		out, err := s.provider.Complete(ctx, req)
		if err != nil {
			return err
		}
		if missing := parse.Sections(out, RequiredSections()); len(missing) > 0 {
			// Malformed structure is the collaborator being sloppy, the same
			// class as unparseable JSON; worth another attempt.
			return fmt.Errorf("relay output missing sections %v: %w", missing, cerrors.ErrParseFailure)
		}
		doc = out
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize relay for %s: %w", in.FromStage, err)
	}

	a := &Artifact{
		ProjectID: in.ProjectID,
		FromStage: in.FromStage,
		CoreSoul:  extractSection(doc, SectionCoreSoul),
		Progress:  extractSection(doc, SectionProgress),
		Handover:  extractSection(doc, SectionHandover),
		Risks:     extractSection(doc, SectionRisks),
		Snapshots: in.Snapshots,
		CreatedAt: time.Now().UTC(),
	}

	// Core Soul must survive the hand-off. A predecessor that had one and an
	// output that lost it is data loss, not a formatting slip.
	if prev != nil && strings.TrimSpace(prev.CoreSoul) != "" && strings.TrimSpace(a.CoreSoul) == "" {
		return nil, fmt.Errorf("relay dropped the Core Soul carried by the previous relay: %w",
			cerrors.ErrContractViolation)
	}

	s.logger.Info().
		Str("project", in.ProjectID).
		Str("from_stage", in.FromStage.String()).
		Bool("genesis", prev == nil).
		Int("decisions", len(in.Decisions)).
		Msg("relay synthesized")
	return a, nil
}

func (s *Synthesizer) systemInstruction(prev *Artifact, in Input) string {
	var b strings.Builder
	b.WriteString("You are the hand-off synthesizer for a staged project-definition pipeline. ")
	b.WriteString("Compress the completed stage below into a Markdown document with exactly these four sections, ")
	b.WriteString("each introduced by a '## ' header, in this order:\n")
	for _, name := range RequiredSections() {
		b.WriteString("## " + name + "\n")
	}
	b.WriteString("\nRules:\n")
	b.WriteString("- " + SectionCoreSoul + ": one sentence capturing the invariant essence of the project. ")
	if prev != nil {
		b.WriteString("Reproduce the previous relay's Core Soul verbatim unless this stage explicitly revised it.\n")
	} else {
		b.WriteString("This is the genesis relay; derive it purely from the stage artifact.\n")
	}
	b.WriteString("- " + SectionProgress + ": merge the previous relay's progress with this stage's work; never overwrite, always accumulate.\n")
	b.WriteString("- " + SectionHandover + ": directive text addressed to " + in.NextPersona + ", who runs the next stage.\n")
	b.WriteString("- " + SectionRisks + ": the union of previously carried risks and any new ones; never silently drop a risk.\n")
	b.WriteString("Output only the document, no preamble.")
	return b.String()
}

func (s *Synthesizer) userPayload(prev *Artifact, in Input) string {
	var b strings.Builder
	if prev != nil {
		b.WriteString("Previous relay:\n\n")
		b.WriteString(prev.Document())
	} else {
		b.WriteString("Previous relay: none (genesis, no predecessor).")
	}
	b.WriteString("\n\nCompleted stage: " + in.FromStage.String())
	b.WriteString("\n\nStage artifact:\n\n" + in.ArtifactText)
	if len(in.Decisions) > 0 {
		b.WriteString("\n\nDecisions made during the stage:\n")
		for _, d := range in.Decisions {
			b.WriteString(fmt.Sprintf("- %s -> %s\n", d.Context, d.Choice))
		}
	}
	return b.String()
}

// extractSection returns the body between a section's header line and the
// next header (or end of document).
func extractSection(doc, name string) string {
	lines := strings.Split(doc, "\n")
	lowName := strings.ToLower(name)

	start := -1
	for i, line := range lines {
		if isHeaderFor(line, lowName) {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return ""
	}

	end := len(lines)
	for i := start; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if strings.HasPrefix(trimmed, "#") || (strings.HasPrefix(trimmed, "**") && strings.HasSuffix(trimmed, "**")) {
			end = i
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
}

func isHeaderFor(line, lowName string) bool {
	trimmed := strings.TrimSpace(strings.ToLower(line))
	if !strings.HasPrefix(trimmed, "#") && !strings.HasPrefix(trimmed, "**") {
		return false
	}
	trimmed = strings.TrimLeft(trimmed, "# ")
	trimmed = strings.Trim(trimmed, "*: ")
	return trimmed == lowName || strings.HasPrefix(trimmed, lowName)
}
