package handlers

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/termbridge/termbridge/internal/models"
	"github.com/termbridge/termbridge/internal/terminal"
)

// SessionsHandler exposes the session management REST API
type SessionsHandler struct {
	registry *terminal.Registry
}

// NewSessionsHandler creates a new sessions handler
func NewSessionsHandler(registry *terminal.Registry) *SessionsHandler {
	return &SessionsHandler{registry: registry}
}

// RegisterRoutes registers all session management routes
func (h *SessionsHandler) RegisterRoutes(v1 fiber.Router) {
	v1.Get("/sessions", h.ListSessions)
	v1.Post("/sessions", h.CreateSession)
	// registered before /sessions/:id so the literal segment wins
	v1.Get("/sessions/by-cwd", h.FindByCwd)
	v1.Get("/sessions/:id", h.GetSession)
	v1.Patch("/sessions/:id", h.RenameSession)
	v1.Delete("/sessions/:id", h.DeleteSession)
	v1.Post("/sessions/:id/input", h.SendInput)
	v1.Post("/sessions/:id/resize", h.Resize)
	v1.Get("/sessions/:id/activity", h.GetActivity)
	v1.Post("/sessions/:id/activity", h.PostActivity)
	v1.Get("/sessions/:id/output", h.PollOutput)
	v1.Get("/sessions/:id/scrollback", h.GetScrollback)
}

// statusFor maps domain errors onto HTTP responses
func statusFor(err error) int {
	switch {
	case errors.Is(err, terminal.ErrNotFound):
		return 404
	case errors.Is(err, terminal.ErrConflict):
		return 409
	case errors.Is(err, terminal.ErrNotRunning), errors.Is(err, terminal.ErrInvalidRequest):
		return 400
	default:
		return 500
	}
}

func errorJSON(c *fiber.Ctx, err error) error {
	return c.Status(statusFor(err)).JSON(fiber.Map{
		"error": err.Error(),
	})
}

// ListSessions returns all sessions
// @Summary List sessions
// @Produce json
// @Success 200 {array} models.SessionInfo
// @Router /v1/sessions [get]
func (h *SessionsHandler) ListSessions(c *fiber.Ctx) error {
	return c.JSON(h.registry.List())
}

// CreateSession spawns a new terminal session
// @Summary Create session
// @Accept json
// @Produce json
// @Param request body models.SpawnRequest true "Spawn parameters"
// @Success 201 {object} models.SessionInfo
// @Router /v1/sessions [post]
func (h *SessionsHandler) CreateSession(c *fiber.Ctx) error {
	var req models.SpawnRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}

	sess, err := h.registry.Create(req)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.Status(201).JSON(sess.Info())
}

// GetSession returns one session with its trailing output
// @Summary Get session detail
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} models.SessionDetail
// @Router /v1/sessions/{id} [get]
func (h *SessionsHandler) GetSession(c *fiber.Ctx) error {
	sess, err := h.registry.Get(c.Params("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(sess.Detail())
}

type renameRequest struct {
	Name string `json:"name"`
}

// RenameSession re-keys a session
// @Summary Rename session
// @Accept json
// @Param id path string true "Session ID"
// @Router /v1/sessions/{id} [patch]
func (h *SessionsHandler) RenameSession(c *fiber.Ctx) error {
	var req renameRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if err := h.registry.Rename(c.Params("id"), req.Name); err != nil {
		return errorJSON(c, err)
	}
	sess, err := h.registry.Get(req.Name)
	if err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(sess.Info())
}

// DeleteSession kills a session and removes it
// @Summary Kill session
// @Param id path string true "Session ID"
// @Router /v1/sessions/{id} [delete]
func (h *SessionsHandler) DeleteSession(c *fiber.Ctx) error {
	if err := h.registry.Kill(c.Params("id")); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(fiber.Map{
		"status": "killed",
	})
}

type inputRequest struct {
	Data string `json:"data"`
}

// SendInput writes input bytes to the session's process
// @Summary Send input
// @Accept json
// @Param id path string true "Session ID"
// @Router /v1/sessions/{id}/input [post]
func (h *SessionsHandler) SendInput(c *fiber.Ctx) error {
	sess, err := h.registry.Get(c.Params("id"))
	if err != nil {
		return errorJSON(c, err)
	}

	var req inputRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if err := sess.Write([]byte(req.Data)); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(fiber.Map{
		"status": "ok",
	})
}

type resizeRequest struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// Resize changes the session's terminal dimensions
// @Summary Resize session
// @Accept json
// @Param id path string true "Session ID"
// @Router /v1/sessions/{id}/resize [post]
func (h *SessionsHandler) Resize(c *fiber.Ctx) error {
	sess, err := h.registry.Get(c.Params("id"))
	if err != nil {
		return errorJSON(c, err)
	}

	var req resizeRequest
	if err := c.BodyParser(&req); err != nil || req.Cols == 0 || req.Rows == 0 {
		return c.Status(400).JSON(fiber.Map{
			"error": "invalid dimensions",
		})
	}
	if err := sess.Resize(req.Cols, req.Rows); err != nil {
		return errorJSON(c, err)
	}
	return c.JSON(fiber.Map{
		"status": "ok",
	})
}

// GetActivity returns the session's activity state and task tracking
// @Summary Get session activity
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} models.ActivityStatus
// @Router /v1/sessions/{id}/activity [get]
func (h *SessionsHandler) GetActivity(c *fiber.Ctx) error {
	sess, err := h.registry.Get(c.Params("id"))
	if err != nil {
		return errorJSON(c, err)
	}

	info := sess.Info()
	return c.JSON(models.ActivityStatus{
		Activity:             info.Activity,
		ExternallyControlled: info.ExternallyControlled,
		Task:                 info.Task,
	})
}

// PostActivity applies a lifecycle event directly to one session, bypassing
// the working-directory dispatch that POST /v1/hooks performs
// @Summary Report session activity
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body models.HookEvent true "Lifecycle event"
// @Success 200 {object} models.ActivityStatus
// @Router /v1/sessions/{id}/activity [post]
func (h *SessionsHandler) PostActivity(c *fiber.Ctx) error {
	sess, err := h.registry.Get(c.Params("id"))
	if err != nil {
		return errorJSON(c, err)
	}

	var event models.HookEvent
	if err := c.BodyParser(&event); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if !knownEvents[event.Event] {
		return c.Status(400).JSON(fiber.Map{
			"error": "unknown event: " + string(event.Event),
		})
	}

	sess.ApplyHook(event)
	info := sess.Info()
	return c.JSON(models.ActivityStatus{
		Activity:             info.Activity,
		ExternallyControlled: info.ExternallyControlled,
		Task:                 info.Task,
	})
}

// PollOutput is the stateless polling transport. Clients pass the offset from
// the previous response; offset 0 returns the whole buffered window.
// @Summary Poll session output
// @Produce json
// @Param id path string true "Session ID"
// @Param offset query int false "Byte offset from the previous poll"
// @Success 200 {object} models.PollResponse
// @Router /v1/sessions/{id}/output [get]
func (h *SessionsHandler) PollOutput(c *fiber.Ctx) error {
	sess, err := h.registry.Get(c.Params("id"))
	if err != nil {
		return errorJSON(c, err)
	}

	offset, err := strconv.ParseInt(c.Query("offset", "0"), 10, 64)
	if err != nil || offset < 0 {
		return c.Status(400).JSON(fiber.Map{
			"error": "invalid offset",
		})
	}
	return c.JSON(sess.Poll(offset))
}

// GetScrollback renders the session's buffered output through a terminal
// emulator, as plain text or a markdown code fence
// @Summary Get rendered scrollback
// @Produce plain
// @Param id path string true "Session ID"
// @Param format query string false "plain or markdown"
// @Router /v1/sessions/{id}/scrollback [get]
func (h *SessionsHandler) GetScrollback(c *fiber.Ctx) error {
	sess, err := h.registry.Get(c.Params("id"))
	if err != nil {
		return errorJSON(c, err)
	}
	return c.SendString(sess.Scrollback(c.Query("format", "plain")))
}

// FindByCwd returns sessions whose working directory covers the given path
// @Summary Find sessions by working directory
// @Produce json
// @Param path query string true "Absolute path"
// @Success 200 {array} models.SessionInfo
// @Router /v1/sessions/by-cwd [get]
func (h *SessionsHandler) FindByCwd(c *fiber.Ctx) error {
	path := c.Query("path")
	if path == "" {
		return c.Status(400).JSON(fiber.Map{
			"error": "path is required",
		})
	}

	matches := h.registry.FindByCwd(path)
	out := make([]models.SessionInfo, 0, len(matches))
	for _, s := range matches {
		out = append(out, s.Info())
	}
	return c.JSON(out)
}
