// Package stage defines the fixed, ordered project-definition stages and
// their interview configuration (persona, goal, topics, output fields).
package stage

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Stage is one step in the fixed project-definition sequence.
type Stage int

const (
	Vision Stage = iota
	Strategy
	Substructure
	Aesthetic
	Backlog
	Build
	Integration
)

var stageNames = [...]string{
	Vision:       "vision",
	Strategy:     "strategy",
	Substructure: "substructure",
	Aesthetic:    "aesthetic",
	Backlog:      "backlog",
	Build:        "build",
	Integration:  "integration",
}

func (s Stage) String() string {
	if s < Vision || s > Integration {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// Valid returns true if s is one of the defined stages.
func (s Stage) Valid() bool { return s >= Vision && s <= Integration }

// MarshalJSON encodes the stage by name.
func (s Stage) MarshalJSON() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("cannot marshal invalid stage %d", int(s))
	}
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a stage from its name.
func (s *Stage) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	parsed, err := Parse(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Parse resolves a stage name to its Stage value.
func Parse(name string) (Stage, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range stageNames {
		if n == name {
			return Stage(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stage %q", name)
}

// All returns the stages in pipeline order.
func All() []Stage {
	out := make([]Stage, 0, len(stageNames))
	for i := range stageNames {
		out = append(out, Stage(i))
	}
	return out
}

// Next returns the following stage, or false if s is the last.
func (s Stage) Next() (Stage, bool) {
	if s >= Integration {
		return s, false
	}
	return s + 1, true
}

// Prev returns the preceding stage, or false if s is the first.
func (s Stage) Prev() (Stage, bool) {
	if s <= Vision {
		return s, false
	}
	return s - 1, true
}

// Upstream returns every stage before s in pipeline order. These are the
// artifact dependencies considered by the staleness evaluator.
func (s Stage) Upstream() []Stage {
	out := make([]Stage, 0, int(s))
	for i := Vision; i < s; i++ {
		out = append(out, i)
	}
	return out
}

// ComplexityMode selects the interaction style for a session. It affects
// system-instruction phrasing only, never data shape.
type ComplexityMode string

const (
	ModeGuided   ComplexityMode = "guided"
	ModeBalanced ComplexityMode = "balanced"
	ModeExpert   ComplexityMode = "expert"
)

// ParseMode validates a complexity mode string, defaulting to balanced.
func ParseMode(s string) (ComplexityMode, error) {
	switch ComplexityMode(strings.ToLower(strings.TrimSpace(s))) {
	case "":
		return ModeBalanced, nil
	case ModeGuided:
		return ModeGuided, nil
	case ModeBalanced:
		return ModeBalanced, nil
	case ModeExpert:
		return ModeExpert, nil
	}
	return "", fmt.Errorf("unknown complexity mode %q", s)
}

// Output field keys the collaborator is asked to fill per turn.
const (
	FieldReply          = "reply"
	FieldArtifact       = "artifact"
	FieldTopics         = "covered_topics"
	FieldRecommendation = "recommendation"
)

// Definition is the interview configuration for one stage.
type Definition struct {
	Persona string   `yaml:"persona"`
	Goal    string   `yaml:"goal"`
	Topics  []string `yaml:"topics"`

	// OutputFields maps extra response fields to the instruction text that
	// tells the collaborator how to fill them. FieldReply is always implied.
	OutputFields map[string]string `yaml:"output_fields"`
}

func defaultOutputFields(artifactName string) map[string]string {
	return map[string]string{
		FieldArtifact: "the full cumulative " + artifactName + " so far, or the literal string \"unchanged\" if this turn did not extend it",
		FieldTopics:   "array of topic names from the topic list that are now fully covered",
		FieldRecommendation: "when the user faces a discrete choice, an object with " +
			"\"context\" and \"options\" (id, label, description, recommended); " +
			"mark at most one option recommended; omit the field entirely otherwise",
	}
}

var defaults = map[Stage]Definition{
	Vision: {
		Persona: "Aurora, product visionary",
		Goal:    "Distill what this project is, who it serves, and why it must exist.",
		Topics:  []string{"problem", "audience", "differentiator", "success-criteria"},
	},
	Strategy: {
		Persona: "Magnus, technical strategist",
		Goal:    "Choose the technical approach: platform, runtime shape, and build-vs-buy lines.",
		Topics:  []string{"platform", "architecture-style", "third-party-services", "constraints"},
	},
	Substructure: {
		Persona: "Vera, data architect",
		Goal:    "Define the entities, relationships, and storage model the project rests on.",
		Topics:  []string{"entities", "relationships", "storage-engine", "access-patterns"},
	},
	Aesthetic: {
		Persona: "Ines, visual designer",
		Goal:    "Establish the look, feel, and interaction language of the product.",
		Topics:  []string{"tone", "layout", "typography", "color"},
	},
	Backlog: {
		Persona: "Theo, delivery planner",
		Goal:    "Break the agreed scope into an ordered, estimable backlog.",
		Topics:  []string{"epics", "milestones", "priorities", "cut-lines"},
	},
	Build: {
		Persona: "Rikard, build lead",
		Goal:    "Plan the implementation passes and the order work actually happens in.",
		Topics:  []string{"first-vertical-slice", "tooling", "testing-approach", "risks"},
	},
	Integration: {
		Persona: "Sol, integration engineer",
		Goal:    "Plan how the pieces ship together: environments, wiring, and launch checks.",
		Topics:  []string{"environments", "external-wiring", "launch-checklist", "rollback"},
	},
}

var artifactNames = map[Stage]string{
	Vision:       "vision statement",
	Strategy:     "technical strategy document",
	Substructure: "data schema document",
	Aesthetic:    "design brief",
	Backlog:      "backlog document",
	Build:        "build plan",
	Integration:  "integration plan",
}

// ArtifactName returns the human name of the document a stage builds.
func (s Stage) ArtifactName() string {
	if n, ok := artifactNames[s]; ok {
		return n
	}
	return "artifact"
}

// Registry holds the active stage definitions (defaults plus any overrides).
type Registry struct {
	defs map[Stage]Definition
}

// NewRegistry returns a registry seeded with the built-in definitions.
func NewRegistry() *Registry {
	defs := make(map[Stage]Definition, len(defaults))
	for s, d := range defaults {
		cp := d
		cp.Topics = append([]string(nil), d.Topics...)
		cp.OutputFields = defaultOutputFields(s.ArtifactName())
		for k, v := range d.OutputFields {
			cp.OutputFields[k] = v
		}
		defs[s] = cp
	}
	return &Registry{defs: defs}
}

// Definition returns the configuration for a stage.
func (r *Registry) Definition(s Stage) Definition {
	return r.defs[s]
}
