package handler

import (
	"github.com/gofiber/fiber/v2"

	"canvas-backend/internal/canvas"
	"canvas-backend/internal/model"
)

// CanvasHandler 캔버스 REST 핸들러
type CanvasHandler struct {
	hub     *canvas.Hub
	archive canvas.Archiver
}

// NewCanvasHandler CanvasHandler 생성
func NewCanvasHandler(hub *canvas.Hub, archive canvas.Archiver) *CanvasHandler {
	return &CanvasHandler{hub: hub, archive: archive}
}

// GetCanvas returns the shape history for a canvas in paint order, so a
// page can render without holding a socket open. Live rooms answer from
// the document; cold rooms fall back to the archive.
func (h *CanvasHandler) GetCanvas(c *fiber.Ctx) error {
	canvasID := c.Params("canvasId")
	if canvasID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "canvas id is required"})
	}

	if room := h.hub.GetRoom(canvasID); room != nil {
		snap := room.Snapshot()
		model.SortByZIndex(snap.Shapes)
		return c.JSON(fiber.Map{
			"success":          true,
			"live":             true,
			"shapes":           snap.Shapes,
			"settings":         snap.Settings,
			"participantCount": snap.ParticipantCount,
		})
	}

	shapes := []model.Shape{}
	if h.archive != nil {
		loaded, err := h.archive.LoadRoom(canvasID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to load canvas history"})
		}
		shapes = loaded
		model.SortByZIndex(shapes)
	}

	return c.JSON(fiber.Map{
		"success":          true,
		"live":             false,
		"shapes":           shapes,
		"participantCount": 0,
	})
}
