package canvas

import (
	"encoding/json"

	"canvas-backend/internal/model"
)

// =============================================================================
// Wire protocol - intents (client -> coordinator) and events (coordinator -> client)
// =============================================================================

// Intent types sent by clients.
const (
	IntentDraw           = "draw"
	IntentUpdate         = "update"
	IntentClear          = "clear"
	IntentUpdateSettings = "update-settings"
	IntentApproveAccess  = "approve-access"
	IntentPing           = "ping"
)

// EventType identifies a coordinator -> client event.
type EventType string

const (
	EventCanvasState       EventType = "canvas-state"
	EventShapeAdded        EventType = "shape-added"
	EventShapeUpdated      EventType = "shape-updated"
	EventZIndexAssigned    EventType = "shape-z-index-assigned"
	EventCanvasCleared     EventType = "canvas-cleared"
	EventCanvasAutoCleared EventType = "canvas-auto-cleared"
	EventParticipants      EventType = "participants-updated"
	EventParticipantCount  EventType = "participant-count"
	EventSettingsUpdated   EventType = "canvas-settings-updated"
	EventAccessRequest     EventType = "access-request"
	EventAccessPending     EventType = "access-pending"
	EventAccessGranted     EventType = "access-granted"
	EventAccessDenied      EventType = "access-denied"
	EventError             EventType = "error"
	EventPong              EventType = "pong"
)

// Error codes carried by EventError payloads.
const (
	ErrCodeRoomFull     = "room-full"
	ErrCodeForbidden    = "forbidden"
	ErrCodeInvalidShape = "invalid-shape"
	ErrCodeBadRequest   = "bad-request"
)

// Event is the envelope for every coordinator -> client message.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// WireMessage is the decode-side envelope: payload stays raw until the
// type switch picks the concrete struct.
type WireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Sink delivers events to one connected participant. The websocket handler
// adapts connections to this; tests plug in in-memory sinks.
type Sink interface {
	Send(evt Event) error
	Close() error
}

// =============================================================================
// Event payloads
// =============================================================================

// Snapshot is the full document state unicast as canvas-state on join.
type Snapshot struct {
	Shapes           []model.Shape `json:"shapes"`
	Settings         Settings      `json:"settings"`
	Participants     []Participant `json:"participants"`
	Owner            string        `json:"owner"`
	ParticipantCount int           `json:"participantCount"`
}

// ShapeUpdatedPayload carries a whole-shape replacement.
type ShapeUpdatedPayload struct {
	ShapeID string      `json:"shapeId"`
	Shape   model.Shape `json:"shape"`
}

// ZIndexAssignedPayload patches a single shape's canonical order key.
type ZIndexAssignedPayload struct {
	ShapeID string `json:"shapeId"`
	ZIndex  int    `json:"zIndex"`
}

// AutoClearedPayload reports the inactivity threshold that fired.
type AutoClearedPayload struct {
	ThresholdMinutes int `json:"thresholdMinutes"`
}

// ParticipantsPayload is the roster broadcast after join/leave.
type ParticipantsPayload struct {
	Participants []Participant `json:"participants"`
	Owner        string        `json:"owner"`
}

// ParticipantCountPayload mirrors the roster size.
type ParticipantCountPayload struct {
	Count int `json:"count"`
}

// AccessRequestPayload is unicast to the owner for each gated join.
type AccessRequestPayload struct {
	RequestID string `json:"requestId"`
	Email     string `json:"email"`
}

// ErrorPayload is unicast to the offending connection only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// =============================================================================
// Intent payloads
// =============================================================================

// DrawPayload carries a freshly created shape (client-generated id).
type DrawPayload struct {
	Shape model.Shape `json:"shape"`
}

// UpdatePayload replaces an existing shape wholesale.
type UpdatePayload struct {
	ShapeID string      `json:"shapeId"`
	Shape   model.Shape `json:"shape"`
}

// ApproveAccessPayload is the owner's decision on a pending request.
type ApproveAccessPayload struct {
	RequestID string `json:"requestId"`
	Approved  bool   `json:"approved"`
}
