package stage

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAll_OrderFixed(t *testing.T) {
	all := All()
	require.Len(t, all, 7)
	assert.Equal(t, Vision, all[0])
	assert.Equal(t, Integration, all[6])
}

func TestParse(t *testing.T) {
	s, err := Parse("Substructure")
	require.NoError(t, err)
	assert.Equal(t, Substructure, s)

	s, err = Parse("  vision ")
	require.NoError(t, err)
	assert.Equal(t, Vision, s)

	_, err = Parse("deploy")
	assert.Error(t, err)
}

func TestNextPrev(t *testing.T) {
	n, ok := Vision.Next()
	require.True(t, ok)
	assert.Equal(t, Strategy, n)

	_, ok = Integration.Next()
	assert.False(t, ok)

	p, ok := Strategy.Prev()
	require.True(t, ok)
	assert.Equal(t, Vision, p)

	_, ok = Vision.Prev()
	assert.False(t, ok)
}

func TestUpstream(t *testing.T) {
	assert.Empty(t, Vision.Upstream())
	assert.Equal(t, []Stage{Vision, Strategy}, Substructure.Upstream())
	assert.Len(t, Integration.Upstream(), 6)
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeBalanced, m)

	m, err = ParseMode("EXPERT")
	require.NoError(t, err)
	assert.Equal(t, ModeExpert, m)

	_, err = ParseMode("vibes")
	assert.Error(t, err)
}

func TestRegistry_Defaults(t *testing.T) {
	r := NewRegistry()
	for _, s := range All() {
		def := r.Definition(s)
		assert.NotEmpty(t, def.Persona, s.String())
		assert.NotEmpty(t, def.Goal, s.String())
		assert.NotEmpty(t, def.Topics, s.String())
		assert.Contains(t, def.OutputFields, FieldArtifact, s.String())
		assert.Contains(t, def.OutputFields, FieldRecommendation, s.String())
	}
}

func TestRegistry_DefinitionIsolation(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()
	def := a.Definition(Vision)
	def.Topics[0] = "mutated"
	assert.Equal(t, "problem", b.Definition(Vision).Topics[0])
}

func TestRegistry_ApplyOverrides(t *testing.T) {
	r := NewRegistry()
	yml := `
vision:
  persona: "Nova, founder coach"
  topics: [why, who]
strategy:
  goal: "Pick the stack."
`
	require.NoError(t, r.ApplyOverrides(strings.NewReader(yml)))

	v := r.Definition(Vision)
	assert.Equal(t, "Nova, founder coach", v.Persona)
	assert.Equal(t, []string{"why", "who"}, v.Topics)
	assert.NotEmpty(t, v.Goal) // untouched fields keep defaults

	assert.Equal(t, "Pick the stack.", r.Definition(Strategy).Goal)
}

func TestRegistry_ApplyOverrides_UnknownStage(t *testing.T) {
	r := NewRegistry()
	err := r.ApplyOverrides(strings.NewReader("deploy:\n  goal: x\n"))
	assert.Error(t, err)
}

func TestStage_JSONByName(t *testing.T) {
	b, err := json.Marshal(Substructure)
	require.NoError(t, err)
	assert.Equal(t, `"substructure"`, string(b))

	var s Stage
	require.NoError(t, json.Unmarshal([]byte(`"backlog"`), &s))
	assert.Equal(t, Backlog, s)

	assert.Error(t, json.Unmarshal([]byte(`"deploy"`), &s))

	_, err = json.Marshal(Stage(42))
	assert.Error(t, err)
}
