package client

import (
	"encoding/json"
	"sync"

	"canvas-backend/internal/canvas"
	"canvas-backend/internal/model"
)

// State is the client-side replica of one canvas document. Every mutation
// is keyed by shape id, so replaying an event (or receiving the echo of an
// optimistic local edit) converges instead of duplicating.
type State struct {
	mu           sync.RWMutex
	shapes       map[string]model.Shape
	order        []string // arrival order, tie-break under equal zIndex
	settings     canvas.Settings
	participants []canvas.Participant
	owner        string
	count        int
	granted      bool
	pending      bool
}

// NewState returns an empty replica.
func NewState() *State {
	return &State{
		shapes: make(map[string]model.Shape),
	}
}

// Apply folds one server event into the replica. Unknown event types are
// ignored so the client stays forward-compatible.
func (s *State) Apply(msgType canvas.EventType, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch msgType {
	case canvas.EventCanvasState:
		var snap canvas.Snapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			return err
		}
		s.resetLocked(snap)
		s.granted = true
		s.pending = false

	case canvas.EventShapeAdded:
		var shape model.Shape
		if err := json.Unmarshal(payload, &shape); err != nil {
			return err
		}
		// A redelivered add still carries the placeholder order key; never
		// let it overwrite an assignment that already landed.
		if existing, ok := s.shapes[shape.ID]; ok && shape.ZIndex == model.ZIndexUnassigned {
			shape.ZIndex = existing.ZIndex
		}
		s.upsertLocked(shape)

	case canvas.EventShapeUpdated:
		var p canvas.ShapeUpdatedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		// Replace only what we know about; an update racing a clear is
		// resolved by dropping it.
		if _, ok := s.shapes[p.ShapeID]; ok {
			p.Shape.ID = p.ShapeID
			s.shapes[p.ShapeID] = p.Shape
		}

	case canvas.EventZIndexAssigned:
		var p canvas.ZIndexAssignedPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		if shape, ok := s.shapes[p.ShapeID]; ok {
			shape.ZIndex = p.ZIndex
			s.shapes[p.ShapeID] = shape
		}

	case canvas.EventCanvasCleared, canvas.EventCanvasAutoCleared:
		s.shapes = make(map[string]model.Shape)
		s.order = s.order[:0]

	case canvas.EventParticipants:
		var p canvas.ParticipantsPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		s.participants = p.Participants
		s.owner = p.Owner
		s.count = len(p.Participants)

	case canvas.EventParticipantCount:
		var p canvas.ParticipantCountPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return err
		}
		s.count = p.Count

	case canvas.EventSettingsUpdated:
		var settings canvas.Settings
		if err := json.Unmarshal(payload, &settings); err != nil {
			return err
		}
		s.settings = settings

	case canvas.EventAccessPending:
		s.pending = true

	case canvas.EventAccessGranted:
		s.pending = false

	case canvas.EventAccessDenied:
		s.pending = false
		s.granted = false
	}

	return nil
}

// AddLocal applies an optimistic draw before the server echo arrives. The
// shape renders with the placeholder order key until the canonical one is
// assigned.
func (s *State) AddLocal(shape model.Shape) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shape.ZIndex = model.ZIndexUnassigned
	s.upsertLocked(shape)
}

// UpdateLocal applies an optimistic shape replacement. A shape the replica
// no longer holds (cleared underneath the edit) is left dropped.
func (s *State) UpdateLocal(shapeID string, shape model.Shape) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.shapes[shapeID]
	if !ok {
		return
	}
	shape.ID = shapeID
	shape.ZIndex = existing.ZIndex
	s.shapes[shapeID] = shape
}

// ClearLocal applies an optimistic clear.
func (s *State) ClearLocal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shapes = make(map[string]model.Shape)
	s.order = s.order[:0]
}

// Shapes returns the replica's shapes in paint order.
func (s *State) Shapes() []model.Shape {
	s.mu.RLock()
	defer s.mu.RUnlock()

	shapes := make([]model.Shape, 0, len(s.shapes))
	for _, id := range s.order {
		if shape, ok := s.shapes[id]; ok {
			shapes = append(shapes, *shape.Clone())
		}
	}
	model.SortByZIndex(shapes)
	return shapes
}

// ShapeCount returns the number of shapes held.
func (s *State) ShapeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.shapes)
}

// Settings returns the last settings the server announced.
func (s *State) Settings() canvas.Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings
}

// Participants returns the last roster the server announced.
func (s *State) Participants() []canvas.Participant {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]canvas.Participant, len(s.participants))
	copy(out, s.participants)
	return out
}

// Owner returns the canvas owner's email, empty until the first roster.
func (s *State) Owner() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner
}

// ParticipantCount returns the last announced participant count.
func (s *State) ParticipantCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Granted reports whether this client has been admitted to the room.
func (s *State) Granted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.granted
}

// Pending reports whether this client is waiting on an access decision.
func (s *State) Pending() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pending
}

func (s *State) resetLocked(snap canvas.Snapshot) {
	s.shapes = make(map[string]model.Shape, len(snap.Shapes))
	s.order = s.order[:0]
	for _, shape := range snap.Shapes {
		s.upsertLocked(shape)
	}
	s.settings = snap.Settings
	s.participants = snap.Participants
	s.owner = snap.Owner
	s.count = snap.ParticipantCount
}

func (s *State) upsertLocked(shape model.Shape) {
	if _, exists := s.shapes[shape.ID]; !exists {
		s.order = append(s.order, shape.ID)
	}
	s.shapes[shape.ID] = shape
}
