package canvas

import (
	"fmt"

	"canvas-backend/internal/model"
)

// Settings are the per-room knobs the owner controls.
type Settings struct {
	RequireApproval  bool `json:"requireApproval"`
	AutoClear        bool `json:"autoClear"`
	AutoClearMinutes int  `json:"autoClearMinutes"`
	DisableDownload  bool `json:"disableDownload"`
}

// SettingsPatch is a partial settings update; nil fields are left alone.
type SettingsPatch struct {
	RequireApproval  *bool `json:"requireApproval,omitempty"`
	AutoClear        *bool `json:"autoClear,omitempty"`
	AutoClearMinutes *int  `json:"autoClearMinutes,omitempty"`
	DisableDownload  *bool `json:"disableDownload,omitempty"`
}

// Participant is one connected, granted member of a room.
type Participant struct {
	ConnectionID string `json:"connectionId"`
	Email        string `json:"email"`
	IsOwner      bool   `json:"isOwner"`
}

// Document is the authoritative per-room state: id-keyed shapes with
// arrival order preserved, settings, roster and owner. It is not locked;
// the owning Room serializes every access (one writer per room).
type Document struct {
	shapes   map[string]*model.Shape
	order    []string // shape ids in arrival order
	assigned map[string]bool
	nextZ    int

	settings        Settings
	participants    []Participant
	owner           string // first-ever joiner's email, survives leave
	maxParticipants int
}

// NewDocument creates an empty document.
func NewDocument(maxParticipants, defaultAutoClearMinutes int) *Document {
	return &Document{
		shapes:   make(map[string]*model.Shape),
		assigned: make(map[string]bool),
		nextZ:    1,
		settings: Settings{
			AutoClearMinutes: defaultAutoClearMinutes,
		},
		maxParticipants: maxParticipants,
	}
}

// =============================================================================
// Shapes
// =============================================================================

// Insert adds a shape under its client-generated id. A colliding id means
// the edit was already applied (redelivery or echo); the stored shape is
// left untouched and ErrDuplicateShape tells the caller to skip the
// broadcast.
func (d *Document) Insert(s *model.Shape) error {
	if _, exists := d.shapes[s.ID]; exists {
		return ErrDuplicateShape
	}
	d.shapes[s.ID] = s
	d.order = append(d.order, s.ID)
	return nil
}

// Replace swaps in a whole new version of the shape. Id, type and any
// already-assigned canonical zIndex are preserved; everything else comes
// from the replacement (last update wins for the whole shape).
func (d *Document) Replace(id string, s *model.Shape) (*model.Shape, error) {
	old, exists := d.shapes[id]
	if !exists {
		return nil, ErrShapeNotFound
	}
	if s.Type != old.Type {
		return nil, fmt.Errorf("%w: type changed from %s to %s", model.ErrInvalidShape, old.Type, s.Type)
	}
	merged := s.Clone()
	merged.ID = id
	merged.ZIndex = old.ZIndex
	d.shapes[id] = merged
	return merged, nil
}

// AssignNextZIndex stamps the next canonical order key onto the shape.
// The counter only advances on success, so surviving shapes carry a
// strictly increasing sequence matching draw arrival order. A second call
// for the same id is rejected without renumbering.
func (d *Document) AssignNextZIndex(id string) (int, error) {
	s, exists := d.shapes[id]
	if !exists {
		return 0, ErrShapeNotFound
	}
	if d.assigned[id] {
		return s.ZIndex, ErrZIndexAssigned
	}
	z := d.nextZ
	d.nextZ++
	s.ZIndex = z
	d.assigned[id] = true
	return z, nil
}

// Clear empties the shape collection unconditionally. The z counter keeps
// counting so post-clear shapes still sort after anything a straggling
// client may briefly hold.
func (d *Document) Clear() {
	d.shapes = make(map[string]*model.Shape)
	d.order = d.order[:0]
	d.assigned = make(map[string]bool)
}

// ShapeCount returns the number of live shapes.
func (d *Document) ShapeCount() int {
	return len(d.shapes)
}

// Shapes returns copies of all shapes in arrival order.
func (d *Document) Shapes() []model.Shape {
	out := make([]model.Shape, 0, len(d.order))
	for _, id := range d.order {
		if s, ok := d.shapes[id]; ok {
			out = append(out, *s.Clone())
		}
	}
	return out
}

// Seed loads previously archived shapes (restore path). Arrival order
// follows the slice order; the z counter resumes above the highest
// archived value.
func (d *Document) Seed(shapes []model.Shape) {
	for i := range shapes {
		s := shapes[i].Clone()
		if _, exists := d.shapes[s.ID]; exists {
			continue
		}
		d.shapes[s.ID] = s
		d.order = append(d.order, s.ID)
		if s.ZIndex != model.ZIndexUnassigned {
			d.assigned[s.ID] = true
			if s.ZIndex >= d.nextZ {
				d.nextZ = s.ZIndex + 1
			}
		}
	}
}

// =============================================================================
// Settings
// =============================================================================

// Settings returns the current settings.
func (d *Document) Settings() Settings {
	return d.settings
}

// ApplySettings merges a partial update and returns the full result.
// AutoClearMinutes is clamped to the 1..60 range the UI offers.
func (d *Document) ApplySettings(patch SettingsPatch) Settings {
	if patch.RequireApproval != nil {
		d.settings.RequireApproval = *patch.RequireApproval
	}
	if patch.AutoClear != nil {
		d.settings.AutoClear = *patch.AutoClear
	}
	if patch.AutoClearMinutes != nil {
		m := *patch.AutoClearMinutes
		if m < 1 {
			m = 1
		}
		if m > 60 {
			m = 60
		}
		d.settings.AutoClearMinutes = m
	}
	if patch.DisableDownload != nil {
		d.settings.DisableDownload = *patch.DisableDownload
	}
	return d.settings
}

// =============================================================================
// Roster
// =============================================================================

// AddParticipant registers a granted connection. The first-ever joiner
// becomes the owner. At most one roster entry carries IsOwner at a time,
// even when the owner has several tabs open.
func (d *Document) AddParticipant(connID, email string) (Participant, error) {
	if len(d.participants) >= d.maxParticipants {
		return Participant{}, ErrRoomFull
	}
	if d.owner == "" {
		d.owner = email
	}

	isOwner := email == d.owner
	if isOwner {
		for _, p := range d.participants {
			if p.IsOwner {
				isOwner = false
				break
			}
		}
	}

	p := Participant{ConnectionID: connID, Email: email, IsOwner: isOwner}
	d.participants = append(d.participants, p)
	return p, nil
}

// RemoveParticipant drops a connection from the roster. If the departing
// entry carried the owner flag, another connection with the owner's email
// inherits it.
func (d *Document) RemoveParticipant(connID string) bool {
	idx := -1
	for i, p := range d.participants {
		if p.ConnectionID == connID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	wasOwner := d.participants[idx].IsOwner
	d.participants = append(d.participants[:idx], d.participants[idx+1:]...)

	if wasOwner {
		for i := range d.participants {
			if d.participants[i].Email == d.owner {
				d.participants[i].IsOwner = true
				break
			}
		}
	}
	return true
}

// Participants returns a copy of the roster in join order.
func (d *Document) Participants() []Participant {
	out := make([]Participant, len(d.participants))
	copy(out, d.participants)
	return out
}

// ParticipantCount returns the roster size.
func (d *Document) ParticipantCount() int {
	return len(d.participants)
}

// IsFull reports whether another join would exceed the cap.
func (d *Document) IsFull() bool {
	return len(d.participants) >= d.maxParticipants
}

// Owner returns the owner's email ("" before the first join).
func (d *Document) Owner() string {
	return d.owner
}

// Snapshot captures the full document for a joining client.
func (d *Document) Snapshot() Snapshot {
	return Snapshot{
		Shapes:           d.Shapes(),
		Settings:         d.settings,
		Participants:     d.Participants(),
		Owner:            d.owner,
		ParticipantCount: len(d.participants),
	}
}
