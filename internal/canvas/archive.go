package canvas

import "canvas-backend/internal/model"

// Archiver persists shapes so a room survives process restart. The
// coordinator writes behind its own state (fire-and-forget goroutines)
// and reloads through LoadRoom when a room is first created. A nil
// Archiver means purely in-memory rooms.
type Archiver interface {
	SaveShape(canvasID, email string, s *model.Shape) error
	ReplaceShape(canvasID string, s *model.Shape) error
	SetZIndex(canvasID, shapeID string, zIndex int) error
	ClearRoom(canvasID string) error
	LoadRoom(canvasID string) ([]model.Shape, error)
}
