package canvas

import "errors"

var (
	// ErrDuplicateShape insert with an id the document already holds.
	// Treated as an idempotent no-op by the coordinator, never surfaced.
	ErrDuplicateShape = errors.New("duplicate shape id")

	// ErrShapeNotFound update or z-index assignment for a shape that is
	// gone (usually a clear raced in).
	ErrShapeNotFound = errors.New("shape not found")

	// ErrZIndexAssigned second canonical assignment for the same shape.
	ErrZIndexAssigned = errors.New("z-index already assigned")

	// ErrRoomFull join beyond the participant cap.
	ErrRoomFull = errors.New("room is full")

	// ErrRoomClosed join on a room the hub already shut down. Callers
	// retry through Hub.GetOrCreateRoom, which returns a live room.
	ErrRoomClosed = errors.New("room is closed")

	// ErrForbidden intent from a connection without the required rights.
	ErrForbidden = errors.New("forbidden")

	// ErrRequestNotFound access decision referencing an unknown request id.
	ErrRequestNotFound = errors.New("access request not found")
)
