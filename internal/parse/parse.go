// Package parse recovers structured objects from best-effort collaborator
// output. The upstream text generator carries no hard JSON guarantee, so the
// parser runs a tiered repair chain over the common failure modes (wrapping
// prose, code fences, stray backslashes) before giving up.
package parse

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	cerrors "github.com/crucible-dev/crucible/internal/errors"
)

// Tier identifies which repair tier recovered the object.
type Tier int

const (
	TierDirect  Tier = iota + 1 // fence strip + direct parse
	TierExtract                 // balanced {...} substring
	TierEscape                  // backslash re-escape on the substring
)

func (t Tier) String() string {
	switch t {
	case TierDirect:
		return "direct"
	case TierExtract:
		return "extract"
	case TierEscape:
		return "escape"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// Failure is returned when every repair tier is exhausted. It carries the
// raw text for offline diagnosis; callers must never show Raw to end users.
type Failure struct {
	Raw string
	Err error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("structured output unparseable after all repair tiers: %v", f.Err)
}

func (f *Failure) Unwrap() error { return cerrors.ErrParseFailure }

// invalidEscape matches a backslash not followed by a valid JSON escape
// character. Models emitting raw file paths or regex inside string values
// are the usual source.
var invalidEscape = regexp.MustCompile(`\\([^"\\/bfnrtu])`)

// Object parses raw collaborator text expected to hold one JSON object,
// running the repair chain as needed. The returned tier reports how hard the
// parser had to work, for observability.
func Object(raw string) (map[string]json.RawMessage, Tier, error) {
	// Tier 1: strip code fences, parse directly.
	stripped := stripFences(raw)
	obj, firstErr := tryParse(stripped)
	if firstErr == nil {
		return obj, TierDirect, nil
	}

	// Tier 2: the model wrapped the object in prose; take the outermost
	// {...} span and parse that alone.
	sub, ok := braceSpan(stripped)
	if ok {
		if obj, err := tryParse(sub); err == nil {
			return obj, TierExtract, nil
		}

		// Tier 3: assume an invalid-escape failure and double any backslash
		// not already starting a valid escape, then retry on the substring.
		repaired := invalidEscape.ReplaceAllString(sub, `\\$1`)
		if obj, err := tryParse(repaired); err == nil {
			return obj, TierEscape, nil
		}
	}

	return nil, 0, &Failure{Raw: raw, Err: firstErr}
}

func tryParse(s string) (map[string]json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &obj); err != nil {
		return nil, err
	}
	return obj, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// braceSpan returns the substring from the first '{' to the last '}'.
func braceSpan(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// String decodes a JSON string field, tolerating a missing key.
func String(obj map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := obj[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

// StringSlice decodes a JSON array-of-strings field, tolerating a missing key.
func StringSlice(obj map[string]json.RawMessage, key string) ([]string, bool) {
	raw, ok := obj[key]
	if !ok {
		return nil, false
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

// Sections verifies that a Markdown document contains every required named
// header. Relay payloads are prose with fixed headers rather than JSON, so
// validation here is presence checking. Returns the missing section names.
func Sections(raw string, required []string) []string {
	var missing []string
	lower := strings.ToLower(raw)
	for _, name := range required {
		if !hasHeader(lower, strings.ToLower(name)) {
			missing = append(missing, name)
		}
	}
	return missing
}

func hasHeader(doc, name string) bool {
	for _, line := range strings.Split(doc, "\n") {
		line = strings.TrimSpace(line)
		trimmed := strings.TrimLeft(line, "# ")
		trimmed = strings.Trim(trimmed, "*: ")
		if strings.HasPrefix(line, "#") || strings.HasPrefix(line, "**") {
			if trimmed == name || strings.HasPrefix(trimmed, name) {
				return true
			}
		}
	}
	return false
}
