package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-dev/crucible/internal/stage"
)

func rec(flags ...bool) *Recommendation {
	r := &Recommendation{Context: "SQL vs NoSQL?"}
	labels := []string{"PostgreSQL", "MongoDB", "SQLite"}
	for i, f := range flags {
		r.Options = append(r.Options, Option{
			ID:          labels[i],
			Label:       labels[i],
			Recommended: f,
		})
	}
	return r
}

func TestRecommendation_Validate(t *testing.T) {
	assert.NoError(t, rec(true, false, false).Validate())
	assert.NoError(t, rec(false, false, false).Validate())
	assert.Error(t, rec(true, true, false).Validate())
	assert.Error(t, (&Recommendation{}).Validate())

	dup := &Recommendation{Options: []Option{{ID: "a"}, {ID: "a"}}}
	assert.Error(t, dup.Validate())

	noID := &Recommendation{Options: []Option{{Label: "x"}}}
	assert.Error(t, noID.Validate())
}

func TestRecommendation_Normalize(t *testing.T) {
	r := rec(true, true, true)
	cleared := r.Normalize()
	assert.Equal(t, 2, cleared)
	assert.NoError(t, r.Validate())
	assert.True(t, r.Options[0].Recommended)
	assert.False(t, r.Options[1].Recommended)
	assert.False(t, r.Options[2].Recommended)

	ok := rec(false, true, false)
	assert.Zero(t, ok.Normalize())
	assert.True(t, ok.Options[1].Recommended)
}

func TestSession_MarkTopics_Monotonic(t *testing.T) {
	s := New("p1", stage.Vision, stage.ModeBalanced)
	s.MarkTopics([]string{"problem"})
	s.MarkTopics([]string{"audience", "problem", ""})
	s.MarkTopics(nil)
	assert.Equal(t, []string{"problem", "audience"}, s.CompletedTopics)
	assert.True(t, s.TopicDone("problem"))
	assert.False(t, s.TopicDone("differentiator"))
}

func TestSession_Select(t *testing.T) {
	s := New("p1", stage.Substructure, stage.ModeBalanced)
	m := NewMessage(RoleAssistant, "Pick a database.")
	m.Recommendation = rec(true, false, false)
	s.Append(m)

	opt, err := s.Select(m.ID, "PostgreSQL")
	require.NoError(t, err)
	assert.Equal(t, "PostgreSQL", opt.Label)
	assert.Equal(t, "PostgreSQL", s.Messages[0].Recommendation.SelectedID)

	_, err = s.Select(m.ID, "MySQL")
	assert.Error(t, err)

	_, err = s.Select("nope", "PostgreSQL")
	assert.Error(t, err)

	plain := NewMessage(RoleAssistant, "no recommendation here")
	s.Append(plain)
	_, err = s.Select(plain.ID, "PostgreSQL")
	assert.Error(t, err)
}

func TestSession_DecisionLog(t *testing.T) {
	s := New("p1", stage.Substructure, stage.ModeBalanced)

	m1 := NewMessage(RoleAssistant, "Pick a database.")
	m1.Recommendation = rec(true, false, false)
	s.Append(m1)

	m2 := NewMessage(RoleAssistant, "unselected choice")
	m2.Recommendation = rec(false, true, false)
	s.Append(m2)

	_, err := s.Select(m1.ID, "PostgreSQL")
	require.NoError(t, err)

	log := s.DecisionLog()
	require.Len(t, log, 1)
	assert.Equal(t, "SQL vs NoSQL?", log[0].Context)
	assert.Equal(t, "PostgreSQL", log[0].Choice)
}
