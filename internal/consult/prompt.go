package consult

import (
	"sort"
	"strings"

	"github.com/crucible-dev/crucible/internal/stage"
)

var modeInstructions = map[stage.ComplexityMode]string{
	stage.ModeGuided: "The user is new to this kind of planning. Explain terms as you " +
		"use them, keep questions concrete, and offer examples before asking for abstractions.",
	stage.ModeBalanced: "Assume general familiarity with building software. Be direct " +
		"but define domain-specific terms on first use.",
	stage.ModeExpert: "The user is an experienced practitioner. Skip explanations, use " +
		"precise terminology, and move fast.",
}

// systemInstruction assembles the full instruction contract for one turn.
func systemInstruction(def stage.Definition, in TurnInput) string {
	var b strings.Builder

	b.WriteString("You are " + def.Persona + ", one persona in a staged project-definition consultation.\n")
	b.WriteString("Stage goal: " + def.Goal + "\n\n")
	b.WriteString(modeInstructions[in.Mode] + "\n\n")

	if in.RelayBrief != "" {
		b.WriteString("Handover from the previous stage:\n" + in.RelayBrief + "\n\n")
	}

	done := make(map[string]bool, len(in.CompletedTopics))
	for _, t := range in.CompletedTopics {
		done[t] = true
	}
	b.WriteString("Topics this stage must cover:\n")
	for _, t := range def.Topics {
		if done[t] {
			b.WriteString("- " + t + " (covered)\n")
		} else {
			b.WriteString("- " + t + "\n")
		}
	}

	b.WriteString("\nConversation rules:\n")
	b.WriteString("- Advance exactly one clarifying question per turn.\n")
	b.WriteString("- When the user faces a discrete choice, present it through the " +
		"recommendation field, never as a list inside the reply text.\n")
	b.WriteString("- Mark at most one option as recommended.\n")

	b.WriteString("\nRespond with a single JSON object containing these fields:\n")
	b.WriteString("- \"" + stage.FieldReply + "\": your conversational reply\n")

	fields := make([]string, 0, len(def.OutputFields))
	for f := range def.OutputFields {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		b.WriteString("- \"" + f + "\": " + def.OutputFields[f] + "\n")
	}

	if in.Artifact != "" {
		b.WriteString("\nCurrent " + in.Stage.ArtifactName() + ":\n" + in.Artifact + "\n")
		b.WriteString("\nIf you extend it, return the complete replacement document in \"" +
			stage.FieldArtifact + "\" — the full cumulative text, never a fragment or diff.\n")
	}

	return b.String()
}
