package parse

import (
	"errors"
	"testing"

	cerrors "github.com/crucible-dev/crucible/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObject_Direct(t *testing.T) {
	obj, tier, err := Object(`{"reply": "hello"}`)
	require.NoError(t, err)
	assert.Equal(t, TierDirect, tier)
	s, ok := String(obj, "reply")
	require.True(t, ok)
	assert.Equal(t, "hello", s)
}

func TestObject_CodeFences(t *testing.T) {
	raw := "```json\n{\"reply\": \"hello\"}\n```"
	obj, tier, err := Object(raw)
	require.NoError(t, err)
	assert.Equal(t, TierDirect, tier)
	s, _ := String(obj, "reply")
	assert.Equal(t, "hello", s)
}

func TestObject_BareFences(t *testing.T) {
	raw := "```\n{\"reply\": \"hi\"}\n```"
	_, tier, err := Object(raw)
	require.NoError(t, err)
	assert.Equal(t, TierDirect, tier)
}

func TestObject_SurroundingProse(t *testing.T) {
	raw := "Sure! Here is the result you asked for:\n{\"reply\": \"hello\", \"artifact\": \"unchanged\"}\nLet me know if you need anything else."
	obj, tier, err := Object(raw)
	require.NoError(t, err)
	assert.Equal(t, TierExtract, tier)
	s, _ := String(obj, "artifact")
	assert.Equal(t, "unchanged", s)
}

func TestObject_ProseAndFences(t *testing.T) {
	raw := "Here you go:\n```json\n{\"reply\": \"ok\"}\n```"
	obj, _, err := Object(raw)
	require.NoError(t, err)
	s, _ := String(obj, "reply")
	assert.Equal(t, "ok", s)
}

func TestObject_InvalidEscapeRepair(t *testing.T) {
	// Raw backslashes inside a string value: the classic file-path failure.
	raw := `{"reply": "store it under C:\Users\alice\projects"}`
	obj, tier, err := Object(raw)
	require.NoError(t, err)
	assert.Equal(t, TierEscape, tier)
	s, ok := String(obj, "reply")
	require.True(t, ok)
	assert.Equal(t, `store it under C:\Users\alice\projects`, s)
}

func TestObject_InvalidEscapeInsideProse(t *testing.T) {
	raw := `The schema:
{"reply": "use the regex \d+ for ids", "artifact": "unchanged"}
Done.`
	obj, tier, err := Object(raw)
	require.NoError(t, err)
	assert.Equal(t, TierEscape, tier)
	s, _ := String(obj, "reply")
	assert.Equal(t, `use the regex \d+ for ids`, s)
}

func TestObject_ValidEscapesUntouched(t *testing.T) {
	raw := `{"reply": "line one\nline two \"quoted\""}`
	obj, tier, err := Object(raw)
	require.NoError(t, err)
	assert.Equal(t, TierDirect, tier)
	s, _ := String(obj, "reply")
	assert.Equal(t, "line one\nline two \"quoted\"", s)
}

func TestObject_AllTiersFail(t *testing.T) {
	raw := "I could not produce any structured output, sorry."
	_, _, err := Object(raw)
	require.Error(t, err)

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, raw, f.Raw)
	assert.Error(t, f.Err)
	assert.True(t, errors.Is(err, cerrors.ErrParseFailure))
}

func TestObject_TruncatedObjectFails(t *testing.T) {
	_, _, err := Object(`{"reply": "half a`)
	assert.Error(t, err)
}

func TestStringSlice(t *testing.T) {
	obj, _, err := Object(`{"covered_topics": ["problem", "audience"]}`)
	require.NoError(t, err)

	topics, ok := StringSlice(obj, "covered_topics")
	require.True(t, ok)
	assert.Equal(t, []string{"problem", "audience"}, topics)

	_, ok = StringSlice(obj, "missing")
	assert.False(t, ok)

	obj2, _, err := Object(`{"covered_topics": "not-an-array"}`)
	require.NoError(t, err)
	_, ok = StringSlice(obj2, "covered_topics")
	assert.False(t, ok)
}

func TestSections_AllPresent(t *testing.T) {
	doc := `## Core Soul
A tool that turns ideas into plans.

## Pillar Progress
Vision settled.

## Handover Brief
Magnus, pick the stack.

## Technical Debt & Risks
- none yet
`
	missing := Sections(doc, []string{"Core Soul", "Pillar Progress", "Handover Brief", "Technical Debt & Risks"})
	assert.Empty(t, missing)
}

func TestSections_BoldHeaders(t *testing.T) {
	doc := "**Core Soul**\nessence\n\n**Pillar Progress**\nwork\n"
	missing := Sections(doc, []string{"Core Soul", "Pillar Progress"})
	assert.Empty(t, missing)
}

func TestSections_Missing(t *testing.T) {
	doc := "## Core Soul\nessence\n\n## Handover Brief\ngo\n"
	missing := Sections(doc, []string{"Core Soul", "Pillar Progress", "Handover Brief"})
	assert.Equal(t, []string{"Pillar Progress"}, missing)
}

func TestSections_CaseInsensitive(t *testing.T) {
	doc := "## CORE SOUL\nessence\n"
	assert.Empty(t, Sections(doc, []string{"Core Soul"}))
}

func TestSections_NameInBodyDoesNotCount(t *testing.T) {
	doc := "The core soul of the project is speed.\n"
	missing := Sections(doc, []string{"Core Soul"})
	assert.Equal(t, []string{"Core Soul"}, missing)
}
