package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crucible-dev/crucible/internal/consult"
	"github.com/crucible-dev/crucible/internal/health"
	"github.com/crucible-dev/crucible/internal/llm"
	"github.com/crucible-dev/crucible/internal/metrics"
	"github.com/crucible-dev/crucible/internal/pipeline"
	"github.com/crucible-dev/crucible/internal/relay"
	"github.com/crucible-dev/crucible/internal/session"
	"github.com/crucible-dev/crucible/internal/stage"
	"github.com/crucible-dev/crucible/internal/store"
)

const testRelayDoc = `## Core Soul
A planning tool.

## Pillar Progress
Some progress.

## Handover Brief
Keep going.

## Technical Debt & Risks
- none
`

// testApp creates a Fiber app with all routes for testing.
func testApp(t *testing.T, authCfg AuthConfig, engineResponses ...string) *fiber.App {
	t.Helper()
	logger := zerolog.Nop()

	db, err := store.Open(":memory:", logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry := stage.NewRegistry()
	sessions := session.NewStore(db, logger)
	relays := relay.NewStore(db, logger)
	engine := consult.NewEngine(llm.NewMockProvider(engineResponses...), registry, nil, logger)
	synth := relay.NewSynthesizer(llm.NewMockProvider(testRelayDoc), logger)
	orch := pipeline.New(sessions, relays, engine, synth, registry, nil, logger)

	checker := health.NewChecker(logger)

	srv := NewServer(ServerConfig{
		ListenAddr:   ":0",
		AuthConfig:   authCfg,
		RateLimitRPS: 0,
	}, orch, checker, metrics.New(), logger)

	return srv.App()
}

func openApp(t *testing.T, engineResponses ...string) *fiber.App {
	return testApp(t, AuthConfig{Mode: "none"}, engineResponses...)
}

func TestServer_Probes(t *testing.T) {
	app := openApp(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		req, _ := http.NewRequest("GET", path, nil)
		resp, err := app.Test(req, -1)
		require.NoError(t, err, "path: %s", path)
		assert.Equal(t, http.StatusOK, resp.StatusCode, "path: %s", path)
	}
}

func TestServer_ListStages(t *testing.T) {
	app := openApp(t)

	req, _ := http.NewRequest("GET", "/api/v1/projects/p1/stages", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Stages []struct {
			Stage    string `json:"stage"`
			Persona  string `json:"persona"`
			Unlocked bool   `json:"unlocked"`
		} `json:"stages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Stages, 7)
	assert.Equal(t, "vision", body.Stages[0].Stage)
	assert.True(t, body.Stages[0].Unlocked)
	assert.False(t, body.Stages[1].Unlocked)
}

func TestServer_GetStage_UnknownStage(t *testing.T) {
	app := openApp(t)

	req, _ := http.NewRequest("GET", "/api/v1/projects/p1/stages/deploy", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	var problem ProblemDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
	assert.Equal(t, "unknown_stage", problem.Type)
}

func TestServer_SendMessage(t *testing.T) {
	app := openApp(t,
		`{"reply": "What problem are you solving?", "artifact": "# Vision\n"}`)

	body := strings.NewReader(`{"text": "I want to build a planning app", "mode": "guided"}`)
	req, _ := http.NewRequest("POST", "/api/v1/projects/p1/stages/vision/messages", body)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Reply    string `json:"reply"`
		Artifact string `json:"artifact"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "What problem are you solving?", out.Reply)
	assert.Equal(t, "# Vision\n", out.Artifact)
}

func TestServer_SendMessage_EmptyText(t *testing.T) {
	app := openApp(t)

	req, _ := http.NewRequest("POST", "/api/v1/projects/p1/stages/vision/messages",
		strings.NewReader(`{"text": ""}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_SendMessage_LockedStage(t *testing.T) {
	app := openApp(t)

	req, _ := http.NewRequest("POST", "/api/v1/projects/p1/stages/strategy/messages",
		strings.NewReader(`{"text": "hello"}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusLocked, resp.StatusCode)

	var problem ProblemDetail
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&problem))
	assert.Equal(t, "stage_locked", problem.Type)
}

func TestServer_Complete_WithoutArtifact(t *testing.T) {
	app := openApp(t)

	req, _ := http.NewRequest("POST", "/api/v1/projects/p1/stages/vision/complete", nil)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)
}

func TestServer_CompleteFlow(t *testing.T) {
	app := openApp(t, `{"reply": "ok", "artifact": "# Vision\n\nThe plan.\n"}`)

	msg := strings.NewReader(`{"text": "here is my idea"}`)
	req, _ := http.NewRequest("POST", "/api/v1/projects/p1/stages/vision/messages", msg)
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ = http.NewRequest("POST", "/api/v1/projects/p1/stages/vision/complete",
		strings.NewReader(`{"force": false}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var art struct {
		FromStage string `json:"from_stage"`
		CoreSoul  string `json:"core_soul"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&art))
	assert.Equal(t, "vision", art.FromStage)
	assert.NotEmpty(t, art.CoreSoul)

	// The relay listing now carries the hand-off.
	req, _ = http.NewRequest("GET", "/api/v1/projects/p1/relays", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var relayList struct {
		Relays []struct {
			FromStage string `json:"from_stage"`
		} `json:"relays"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&relayList))
	require.Len(t, relayList.Relays, 1)
	assert.Equal(t, "vision", relayList.Relays[0].FromStage)
}

func TestServer_Complete_StaleConflict(t *testing.T) {
	app := openApp(t,
		`{"reply": "ok", "artifact": "# Vision v1\n"}`,
		`{"reply": "ok", "artifact": "# Strategy\n"}`,
		`{"reply": "ok", "artifact": "# Vision v1\n\nRevised.\n"}`)

	send := func(st, text string) {
		req, _ := http.NewRequest("POST", "/api/v1/projects/p1/stages/"+st+"/messages",
			strings.NewReader(`{"text": "`+text+`"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	complete := func(st, body string) *http.Response {
		req, _ := http.NewRequest("POST", "/api/v1/projects/p1/stages/"+st+"/complete",
			strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		resp, err := app.Test(req, -1)
		require.NoError(t, err)
		return resp
	}

	send("vision", "idea")
	require.Equal(t, http.StatusOK, complete("vision", `{}`).StatusCode)
	send("strategy", "stack")
	require.Equal(t, http.StatusOK, complete("strategy", `{}`).StatusCode)

	// Upstream edit makes strategy stale.
	send("vision", "revised")

	resp := complete("strategy", `{"force": false}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var stale StaleProblem
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&stale))
	assert.Equal(t, "stage_stale", stale.Type)
	assert.True(t, stale.Staleness.Stale)
	assert.NotEmpty(t, stale.Staleness.Reasons)

	assert.Equal(t, http.StatusOK, complete("strategy", `{"force": true}`).StatusCode)
}

func TestServer_ResetStage(t *testing.T) {
	app := openApp(t, `{"reply": "ok", "artifact": "# Vision\n"}`)

	req, _ := http.NewRequest("POST", "/api/v1/projects/p1/stages/vision/messages",
		strings.NewReader(`{"text": "idea"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ = http.NewRequest("DELETE", "/api/v1/projects/p1/stages/vision", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	req, _ = http.NewRequest("GET", "/api/v1/projects/p1/stages/vision", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)

	var view struct {
		Artifact string `json:"artifact"`
		Messages []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Empty(t, view.Artifact)
	require.Len(t, view.Messages, 1)
}
