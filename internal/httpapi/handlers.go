package httpapi

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	cerrors "github.com/crucible-dev/crucible/internal/errors"
	"github.com/crucible-dev/crucible/internal/health"
	"github.com/crucible-dev/crucible/internal/pipeline"
	"github.com/crucible-dev/crucible/internal/stage"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	orch    *pipeline.Orchestrator
	checker *health.Checker
	logger  zerolog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(orch *pipeline.Orchestrator, checker *health.Checker, logger zerolog.Logger) *Handlers {
	return &Handlers{
		orch:    orch,
		checker: checker,
		logger:  logger.With().Str("component", "handlers").Logger(),
	}
}

// ListStages handles GET /api/v1/projects/:project/stages.
func (h *Handlers) ListStages(c *fiber.Ctx) error {
	summaries, err := h.orch.Stages(c.Context(), c.Params("project"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"stages": summaries})
}

// GetStage handles GET /api/v1/projects/:project/stages/:stage.
func (h *Handlers) GetStage(c *fiber.Ctx) error {
	st, ok := parseStageParam(c)
	if !ok {
		return nil
	}
	view, err := h.orch.View(c.Context(), c.Params("project"), st)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(view)
}

// SendMessage handles POST /api/v1/projects/:project/stages/:stage/messages.
func (h *Handlers) SendMessage(c *fiber.Ctx) error {
	st, ok := parseStageParam(c)
	if !ok {
		return nil
	}

	var req SendMessageRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	mode, err := stage.ParseMode(req.Mode)
	if err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_mode", "Bad Request", err.Error())
	}

	out, err := h.orch.SendMessage(c.Context(), c.Params("project"), st, req.Text, mode)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(out)
}

// SelectOption handles POST /api/v1/projects/:project/stages/:stage/select.
func (h *Handlers) SelectOption(c *fiber.Ctx) error {
	st, ok := parseStageParam(c)
	if !ok {
		return nil
	}

	var req SelectOptionRequest
	if err := c.BodyParser(&req); err != nil {
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_body", "Bad Request",
			"Invalid request body: "+err.Error())
	}
	if req.MessageID == "" || req.OptionID == "" {
		return problemResponse(c, fiber.StatusBadRequest,
			"missing_fields", "Bad Request",
			"message_id and option_id are required")
	}

	out, err := h.orch.SelectOption(c.Context(), c.Params("project"), st, req.MessageID, req.OptionID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(out)
}

// CompleteStage handles POST /api/v1/projects/:project/stages/:stage/complete.
func (h *Handlers) CompleteStage(c *fiber.Ctx) error {
	st, ok := parseStageParam(c)
	if !ok {
		return nil
	}

	var req CompleteRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return problemResponse(c, fiber.StatusBadRequest,
				"invalid_body", "Bad Request",
				"Invalid request body: "+err.Error())
		}
	}

	art, err := h.orch.CompletePhase(c.Context(), c.Params("project"), st, req.Force)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(art)
}

// ResetStage handles DELETE /api/v1/projects/:project/stages/:stage.
func (h *Handlers) ResetStage(c *fiber.Ctx) error {
	st, ok := parseStageParam(c)
	if !ok {
		return nil
	}
	if err := h.orch.ResetSession(c.Context(), c.Params("project"), st); err != nil {
		return h.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListRelays handles GET /api/v1/projects/:project/relays.
func (h *Handlers) ListRelays(c *fiber.Ctx) error {
	relays, err := h.orch.Relays(c.Context(), c.Params("project"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"relays": relays})
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(HealthResponse{Status: "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	statuses := h.checker.RunAll(c.Context())

	checks := make(map[string]string, len(statuses))
	ready := true
	for name, s := range statuses {
		checks[name] = string(s)
		if s == health.StatusDown {
			ready = false
		}
	}
	resp := HealthResponse{Status: "ok", Checks: checks}
	if !ready {
		resp.Status = "down"
		return c.Status(fiber.StatusServiceUnavailable).JSON(resp)
	}
	return c.JSON(resp)
}

// fail maps pipeline errors onto HTTP statuses.
func (h *Handlers) fail(c *fiber.Ctx, err error) error {
	var staleErr *pipeline.StaleError
	if errors.As(err, &staleErr) {
		return c.Status(fiber.StatusConflict).JSON(StaleProblem{
			ProblemDetail: ProblemDetail{
				Type:     "stage_stale",
				Title:    "Conflict",
				Status:   fiber.StatusConflict,
				Detail:   "Upstream artifacts changed since this stage last acted; repeat with force=true to complete anyway",
				Instance: c.Path(),
			},
			Staleness: staleErr.Result,
		})
	}

	switch {
	case errors.Is(err, cerrors.ErrInvalidInput):
		return problemResponse(c, fiber.StatusBadRequest,
			"invalid_input", "Bad Request", err.Error())
	case errors.Is(err, cerrors.ErrNotFound):
		return problemResponse(c, fiber.StatusNotFound,
			"not_found", "Not Found", err.Error())
	case errors.Is(err, cerrors.ErrStageLocked):
		return problemResponse(c, fiber.StatusLocked,
			"stage_locked", "Locked", err.Error())
	case errors.Is(err, cerrors.ErrPrecondition):
		return problemResponse(c, fiber.StatusPreconditionFailed,
			"precondition_failed", "Precondition Failed", err.Error())
	}

	h.logger.Error().
		Err(err).
		Str("path", c.Path()).
		Str("method", c.Method()).
		Msg("request failed")
	return problemResponse(c, fiber.StatusInternalServerError,
		"internal_error", "Internal Server Error",
		"An internal error occurred")
}

// parseStageParam resolves the :stage path segment. When it returns false the
// problem response has already been written.
func parseStageParam(c *fiber.Ctx) (stage.Stage, bool) {
	st, err := stage.Parse(c.Params("stage"))
	if err != nil {
		_ = problemResponse(c, fiber.StatusNotFound,
			"unknown_stage", "Not Found",
			"Unknown stage "+strings.ToLower(c.Params("stage")))
		return 0, false
	}
	return st, true
}
