package stage

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// Override adjusts the prompt content of a single stage. The stage set and
// order are fixed; only persona, goal, and topics may be replaced.
type Override struct {
	Persona string   `yaml:"persona"`
	Goal    string   `yaml:"goal"`
	Topics  []string `yaml:"topics"`
}

// ApplyOverridesFile loads a YAML file of stage-name → Override and applies
// it to the registry. Missing file paths are the caller's problem; an empty
// path is a no-op.
func (r *Registry) ApplyOverridesFile(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open stage overrides: %w", err)
	}
	defer f.Close()
	return r.ApplyOverrides(f)
}

// ApplyOverrides reads YAML overrides from rd and applies them.
func (r *Registry) ApplyOverrides(rd io.Reader) error {
	raw, err := io.ReadAll(rd)
	if err != nil {
		return fmt.Errorf("read stage overrides: %w", err)
	}

	var overrides map[string]Override
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return fmt.Errorf("parse stage overrides: %w", err)
	}

	for name, ov := range overrides {
		s, err := Parse(name)
		if err != nil {
			return fmt.Errorf("stage overrides: %w", err)
		}
		def := r.defs[s]
		if ov.Persona != "" {
			def.Persona = ov.Persona
		}
		if ov.Goal != "" {
			def.Goal = ov.Goal
		}
		if len(ov.Topics) > 0 {
			def.Topics = append([]string(nil), ov.Topics...)
		}
		r.defs[s] = def
	}
	return nil
}
