package canvas

import (
	"log"
	"sync"

	"canvas-backend/internal/config"
)

// =============================================================================
// Hub - owns every live room; rooms are independent and parallel
// =============================================================================

// Hub manages all canvas rooms. Each room is its own serialization
// domain; the hub lock only guards the room table itself.
type Hub struct {
	rooms   map[string]*Room
	mu      sync.RWMutex
	cfg     *config.Config
	archive Archiver
}

// NewHub creates a hub. archive may be nil for purely in-memory rooms.
func NewHub(cfg *config.Config, archive Archiver) *Hub {
	return &Hub{
		rooms:   make(map[string]*Room),
		cfg:     cfg,
		archive: archive,
	}
}

// GetOrCreateRoom returns the live room, creating (and restoring from the
// archive, if one is configured) on first join.
func (h *Hub) GetOrCreateRoom(canvasID string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()

	if room, exists := h.rooms[canvasID]; exists {
		return room
	}

	doc := NewDocument(h.cfg.Canvas.MaxParticipants, h.cfg.Canvas.DefaultAutoClearMinutes)
	if h.archive != nil {
		shapes, err := h.archive.LoadRoom(canvasID)
		if err != nil {
			log.Printf("[Hub] Failed to restore canvas %s: %v", canvasID, err)
		} else if len(shapes) > 0 {
			doc.Seed(shapes)
			log.Printf("[Hub] Restored canvas %s with %d shapes", canvasID, len(shapes))
		}
	}

	room := newRoom(canvasID, h, doc)
	h.rooms[canvasID] = room
	log.Printf("[Hub] Created room: %s", canvasID)
	return room
}

// GetRoom returns the live room or nil.
func (h *Hub) GetRoom(canvasID string) *Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[canvasID]
}

// RemoveRoom shuts down and forgets an empty room. A room that picked up
// a participant in the meantime stays. Closing and unmapping happen under
// the hub lock, so GetOrCreateRoom never hands out a closed room; only
// stale handles see ErrRoomClosed and retry.
func (h *Hub) RemoveRoom(canvasID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	room, exists := h.rooms[canvasID]
	if !exists {
		return
	}
	if !room.closeIfEmpty() {
		return
	}
	delete(h.rooms, canvasID)
	log.Printf("[Hub] Removed room: %s", canvasID)
}

// RoomCount returns the number of live rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}

// CleanupInactiveRooms sweeps rooms with no connections left. Normally
// Leave removes them; this catches rooms orphaned by handler panics.
func (h *Hub) CleanupInactiveRooms() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for canvasID, room := range h.rooms {
		if room.closeIfEmpty() {
			delete(h.rooms, canvasID)
			log.Printf("[Hub] Cleaned up inactive room: %s", canvasID)
		}
	}
}
