// Package relay produces and stores the fixed-schema hand-off documents that
// bridge one stage's output into the next stage's input context. A relay
// row's existence is the authoritative signal that its source stage is
// complete and the next stage is unlocked.
package relay

import (
	"strings"
	"time"

	"github.com/crucible-dev/crucible/internal/stage"
)

// The four required relay sections, in document order.
const (
	SectionCoreSoul = "Core Soul"
	SectionProgress = "Pillar Progress"
	SectionHandover = "Handover Brief"
	SectionRisks    = "Technical Debt & Risks"
)

// RequiredSections lists every section a well-formed relay must carry.
func RequiredSections() []string {
	return []string{SectionCoreSoul, SectionProgress, SectionHandover, SectionRisks}
}

// Artifact is one stage-transition hand-off document.
type Artifact struct {
	ProjectID string      `json:"project_id"`
	FromStage stage.Stage `json:"from_stage"`

	// CoreSoul is the one-sentence invariant project essence. It survives
	// unchanged from the prior relay unless explicitly revised.
	CoreSoul string `json:"core_soul"`

	// Progress is the cumulative rolling summary, merged with (not
	// overwriting) the prior relay's progress.
	Progress string `json:"progress"`

	// Handover is directive text addressed to the next stage's persona.
	Handover string `json:"handover"`

	// Risks is the carried-over technical debt list: the union of prior and
	// new risks, never silently dropped.
	Risks string `json:"risks"`

	// Snapshots records the fingerprints of every stage artifact this relay
	// was synthesized against, keyed by stage name.
	Snapshots map[string]string `json:"snapshots"`

	CreatedAt time.Time `json:"created_at"`
}

// Document renders the relay in its canonical Markdown form.
func (a *Artifact) Document() string {
	var b strings.Builder
	b.WriteString("## " + SectionCoreSoul + "\n")
	b.WriteString(strings.TrimSpace(a.CoreSoul) + "\n\n")
	b.WriteString("## " + SectionProgress + "\n")
	b.WriteString(strings.TrimSpace(a.Progress) + "\n\n")
	b.WriteString("## " + SectionHandover + "\n")
	b.WriteString(strings.TrimSpace(a.Handover) + "\n\n")
	b.WriteString("## " + SectionRisks + "\n")
	b.WriteString(strings.TrimSpace(a.Risks) + "\n")
	return b.String()
}
