package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/termbridge/termbridge/internal/logger"
	"github.com/termbridge/termbridge/internal/models"
	"github.com/termbridge/termbridge/internal/terminal"
)

// HooksHandler ingests external activity events and routes them to sessions
type HooksHandler struct {
	registry *terminal.Registry
}

// NewHooksHandler creates a new hooks handler
func NewHooksHandler(registry *terminal.Registry) *HooksHandler {
	return &HooksHandler{registry: registry}
}

// RegisterRoutes registers the hook ingestion route
func (h *HooksHandler) RegisterRoutes(v1 fiber.Router) {
	v1.Post("/hooks", h.HandleHook)
}

var knownEvents = map[models.HookEventKind]bool{
	models.HookPromptSubmit: true,
	models.HookPreToolUse:   true,
	models.HookPostToolUse:  true,
	models.HookNotification: true,
	models.HookStop:         true,
	models.HookSessionEnd:   true,
}

// HandleHook accepts a hook event and dispatches it by session id, then by
// working-directory match. Events that resolve to no session are rejected.
// @Summary Ingest activity hook event
// @Accept json
// @Param event body models.HookEvent true "Hook event"
// @Router /v1/hooks [post]
func (h *HooksHandler) HandleHook(c *fiber.Ctx) error {
	var ev models.HookEvent
	if err := c.BodyParser(&ev); err != nil {
		return c.Status(400).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if !knownEvents[ev.Event] {
		return c.Status(400).JSON(fiber.Map{
			"error": "unknown event kind",
		})
	}

	if err := h.registry.HandleHook(ev); err != nil {
		logger.Debugf("hook event %s not routed: %v", ev.Event, err)
		return errorJSON(c, err)
	}
	return c.JSON(fiber.Map{
		"status": "ok",
	})
}
