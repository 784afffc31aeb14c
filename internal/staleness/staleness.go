// Package staleness detects when a stage's conclusions may be invalidated by
// later edits to an upstream artifact. Mirrors dependency invalidation in an
// incremental build, scoped to a handful of named documents. Results are
// derived at read time and never stored.
package staleness

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Fingerprint returns a stable content digest for an artifact. Equal content
// always yields an equal fingerprint, so snapshot comparison is pure equality.
func Fingerprint(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Result reports whether a stage is stale and why.
type Result struct {
	Stale   bool     `json:"stale"`
	Reasons []string `json:"reasons,omitempty"`
}

// Evaluate compares the upstream fingerprints recorded when the stage last
// acted against the current upstream fingerprints. Both maps are keyed by
// stage name. Any difference — changed, newly present, or vanished upstream
// content — marks the stage stale.
func Evaluate(recorded, current map[string]string) Result {
	var reasons []string

	names := make(map[string]bool, len(recorded)+len(current))
	for name := range recorded {
		names[name] = true
	}
	for name := range current {
		names[name] = true
	}

	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	for _, name := range ordered {
		rec, hasRec := recorded[name]
		cur, hasCur := current[name]
		switch {
		case hasRec && hasCur && rec != cur:
			reasons = append(reasons, fmt.Sprintf("%s artifact changed since this stage last acted", name))
		case !hasRec && hasCur:
			reasons = append(reasons, fmt.Sprintf("%s artifact appeared after this stage last acted", name))
		case hasRec && !hasCur:
			reasons = append(reasons, fmt.Sprintf("%s artifact was removed after this stage last acted", name))
		}
	}

	return Result{Stale: len(reasons) > 0, Reasons: reasons}
}
