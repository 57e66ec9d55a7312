package server

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/collabd/internal/cerrors"
	"github.com/p-blackswan/collabd/internal/coord"
	"github.com/p-blackswan/collabd/internal/directory"
	"github.com/p-blackswan/collabd/internal/health"
	"github.com/p-blackswan/collabd/internal/metrics"
)

// Handlers holds dependencies for HTTP and streaming handlers.
type Handlers struct {
	hub     *coord.Hub
	dir     *directory.Directory
	checker *health.Checker
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(hub *coord.Hub, dir *directory.Directory, checker *health.Checker, mc *metrics.Metrics, logger zerolog.Logger) *Handlers {
	return &Handlers{
		hub:     hub,
		dir:     dir,
		checker: checker,
		metrics: mc,
		logger:  logger.With().Str("component", "handlers").Logger(),
	}
}

// Liveness handles GET /healthz.
func (h *Handlers) Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (h *Handlers) Readiness(c *fiber.Ctx) error {
	results := h.checker.RunAll(c.Context())
	for _, s := range results {
		if s == health.StatusDown {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "not_ready",
				"checks": results,
			})
		}
	}
	return c.JSON(fiber.Map{"status": "ready", "checks": results})
}

// actor resolves the coordinator for the addressed project.
func (h *Handlers) actor(c *fiber.Ctx) *coord.Actor {
	return h.hub.Get(c.Params("id"))
}

// record reports a command's outcome to metrics.
func (h *Handlers) record(op string, start time.Time, err error) {
	if h.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	h.metrics.RecordCommand(op, status)
	h.metrics.ObserveCommand(op, time.Since(start).Seconds())
}

// respondErr maps coordinator errors onto the request/response surface:
// NotFound to 404, validation to 400, anything else to a generic 500.
func respondErr(c *fiber.Ctx, logger zerolog.Logger, err error) error {
	switch {
	case cerrors.IsNotFound(err):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": cerrors.Message(err)})
	case cerrors.IsInvalid(err):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": cerrors.Message(err)})
	default:
		logger.Error().Err(err).Str("path", c.Path()).Msg("command failed")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "An internal error occurred"})
	}
}

// InitializeState handles POST /api/v1/projects/:id/state-init.
func (h *Handlers) InitializeState(c *fiber.Ctx) error {
	start := time.Now()
	var init coord.InitState
	if err := c.BodyParser(&init); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	view, err := h.actor(c).Initialize(c.Context(), init)
	h.record("initialize", start, err)
	if err != nil {
		return respondErr(c, h.logger, err)
	}
	return c.JSON(view)
}

// GetState handles GET /api/v1/projects/:id/state.
func (h *Handlers) GetState(c *fiber.Ctx) error {
	view, err := h.actor(c).State(c.Context())
	if err != nil {
		return respondErr(c, h.logger, err)
	}
	return c.JSON(view)
}

// Analytics handles GET /api/v1/projects/:id/analytics.
func (h *Handlers) Analytics(c *fiber.Ctx) error {
	an, err := h.actor(c).Analytics(c.Context())
	if err != nil {
		return respondErr(c, h.logger, err)
	}
	return c.JSON(an)
}

// ListAgents handles GET /api/v1/projects/:id/agents.
func (h *Handlers) ListAgents(c *fiber.Ctx) error {
	agents, err := h.actor(c).Agents(c.Context())
	if err != nil {
		return respondErr(c, h.logger, err)
	}
	if agents == nil {
		agents = []coord.Agent{}
	}
	return c.JSON(fiber.Map{"agents": agents, "total": len(agents)})
}

// RegisterAgent handles POST /api/v1/projects/:id/agents.
func (h *Handlers) RegisterAgent(c *fiber.Ctx) error {
	start := time.Now()
	var draft coord.Agent
	if err := c.BodyParser(&draft); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	agent, err := h.actor(c).RegisterAgent(c.Context(), draft, nil)
	h.record("agent.register", start, err)
	if err != nil {
		return respondErr(c, h.logger, err)
	}
	return c.Status(fiber.StatusCreated).JSON(agent)
}

// UpdateAgent handles PUT /api/v1/projects/:id/agents/:agentId.
func (h *Handlers) UpdateAgent(c *fiber.Ctx) error {
	start := time.Now()
	var patch coord.AgentPatch
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	agent, err := h.actor(c).UpdateAgent(c.Context(), c.Params("agentId"), patch)
	h.record("agent.update", start, err)
	if err != nil {
		return respondErr(c, h.logger, err)
	}
	return c.JSON(agent)
}

// RemoveAgent handles DELETE /api/v1/projects/:id/agents/:agentId.
// Removing an absent agent is a no-op.
func (h *Handlers) RemoveAgent(c *fiber.Ctx) error {
	start := time.Now()
	removed, err := h.actor(c).RemoveAgent(c.Context(), c.Params("agentId"))
	h.record("agent.remove", start, err)
	if err != nil {
		return respondErr(c, h.logger, err)
	}
	return c.JSON(fiber.Map{"removed": removed})
}

// ListTasks handles GET /api/v1/projects/:id/tasks?status=&tags=a,b.
// Tag matching is OR: a task passes if it shares at least one tag.
func (h *Handlers) ListTasks(c *fiber.Ctx) error {
	filter := coord.TaskFilter{
		Status: coord.TaskStatus(c.Query("status")),
	}
	if tags := c.Query("tags"); tags != "" {
		for _, t := range strings.Split(tags, ",") {
			if t = strings.TrimSpace(t); t != "" {
				filter.Tags = append(filter.Tags, t)
			}
		}
	}

	tasks, err := h.actor(c).Tasks(c.Context(), filter)
	if err != nil {
		return respondErr(c, h.logger, err)
	}
	if tasks == nil {
		tasks = []coord.Task{}
	}
	return c.JSON(fiber.Map{"tasks": tasks, "total": len(tasks)})
}

// CreateTask handles POST /api/v1/projects/:id/tasks.
func (h *Handlers) CreateTask(c *fiber.Ctx) error {
	start := time.Now()
	var draft coord.Task
	if err := c.BodyParser(&draft); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	task, err := h.actor(c).CreateTask(c.Context(), draft)
	h.record("task.create", start, err)
	if err != nil {
		return respondErr(c, h.logger, err)
	}
	return c.Status(fiber.StatusCreated).JSON(task)
}

// UpdateTask handles PUT /api/v1/projects/:id/tasks/:taskId.
func (h *Handlers) UpdateTask(c *fiber.Ctx) error {
	start := time.Now()
	var patch coord.TaskPatch
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	task, err := h.actor(c).UpdateTask(c.Context(), c.Params("taskId"), patch)
	h.record("task.update", start, err)
	if err != nil {
		return respondErr(c, h.logger, err)
	}
	return c.JSON(task)
}

// DeleteTask handles DELETE /api/v1/projects/:id/tasks/:taskId.
// The delete is unconditional; no existence check is made.
func (h *Handlers) DeleteTask(c *fiber.Ctx) error {
	start := time.Now()
	err := h.actor(c).DeleteTask(c.Context(), c.Params("taskId"))
	h.record("task.delete", start, err)
	if err != nil {
		return respondErr(c, h.logger, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListMessages handles GET /api/v1/projects/:id/messages?type=&limit=N.
// The limit keeps the most recent N matches.
func (h *Handlers) ListMessages(c *fiber.Ctx) error {
	filter := coord.MessageFilter{
		Type:  coord.MessageType(c.Query("type")),
		Limit: c.QueryInt("limit", 0),
	}

	msgs, err := h.actor(c).Messages(c.Context(), filter)
	if err != nil {
		return respondErr(c, h.logger, err)
	}
	if msgs == nil {
		msgs = []coord.Message{}
	}
	return c.JSON(fiber.Map{"messages": msgs, "total": len(msgs)})
}

// SendMessage handles POST /api/v1/projects/:id/messages.
func (h *Handlers) SendMessage(c *fiber.Ctx) error {
	start := time.Now()
	var draft coord.Message
	if err := c.BodyParser(&draft); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	msg, err := h.actor(c).SendMessage(c.Context(), draft)
	h.record("message.send", start, err)
	if err != nil {
		return respondErr(c, h.logger, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// UpdateContext handles PUT /api/v1/projects/:id/context. The patch is
// shallow-merged into the context map.
func (h *Handlers) UpdateContext(c *fiber.Ctx) error {
	start := time.Now()
	var patch map[string]string
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}

	merged, err := h.actor(c).UpdateContext(c.Context(), patch)
	h.record("context.update", start, err)
	if err != nil {
		return respondErr(c, h.logger, err)
	}
	return c.JSON(fiber.Map{"context": merged})
}
