package canvas

import (
	"time"

	"github.com/google/uuid"
)

// AccessState 접근 상태
type AccessState int

const (
	AccessNone    AccessState = iota // 아직 입장 시도 없음
	AccessPending                    // 소유자 승인 대기
	AccessGranted                    // 입장 허용
	AccessDenied                     // 입장 거부
)

func (s AccessState) String() string {
	switch s {
	case AccessNone:
		return "none"
	case AccessPending:
		return "pending"
	case AccessGranted:
		return "granted"
	case AccessDenied:
		return "denied"
	default:
		return "unknown"
	}
}

// AccessRequest is one pending gated sign-in. It lives until the owner
// decides or the requester disconnects.
type AccessRequest struct {
	ID           string
	Email        string
	CanvasID     string
	ConnectionID string
	CreatedAt    time.Time
}

// AccessController is the per-room gate deciding who may write. Like the
// Document it carries no lock of its own; the Room serializes access.
//
// With requireApproval off every authenticated join is granted outright.
// With it on, non-owners park in AccessPending until the owner resolves
// their request. Toggling the setting mid-session only affects later
// joins; granted connections are never revoked.
type AccessController struct {
	canvasID string
	states   map[string]AccessState    // connection id -> state
	requests map[string]*AccessRequest // request id -> pending request
}

// NewAccessController creates the gate for one room.
func NewAccessController(canvasID string) *AccessController {
	return &AccessController{
		canvasID: canvasID,
		states:   make(map[string]AccessState),
		requests: make(map[string]*AccessRequest),
	}
}

// Grant marks a connection as granted (unrestricted join, owner join, or
// post-approval).
func (a *AccessController) Grant(connID string) {
	a.states[connID] = AccessGranted
}

// Begin parks a gated join in AccessPending and returns the request the
// owner must resolve.
func (a *AccessController) Begin(connID, email string) *AccessRequest {
	req := &AccessRequest{
		ID:           uuid.New().String(),
		Email:        email,
		CanvasID:     a.canvasID,
		ConnectionID: connID,
		CreatedAt:    time.Now(),
	}
	a.states[connID] = AccessPending
	a.requests[req.ID] = req
	return req
}

// Resolve applies the owner's decision and destroys the request.
func (a *AccessController) Resolve(requestID string, approved bool) (*AccessRequest, error) {
	req, ok := a.requests[requestID]
	if !ok {
		return nil, ErrRequestNotFound
	}
	delete(a.requests, requestID)

	if approved {
		a.states[req.ConnectionID] = AccessGranted
	} else {
		a.states[req.ConnectionID] = AccessDenied
	}
	return req, nil
}

// Drop forgets a connection entirely, destroying its pending request if
// one exists (requester disconnected before a decision).
func (a *AccessController) Drop(connID string) *AccessRequest {
	delete(a.states, connID)
	for id, req := range a.requests {
		if req.ConnectionID == connID {
			delete(a.requests, id)
			return req
		}
	}
	return nil
}

// State returns the connection's current access state.
func (a *AccessController) State(connID string) AccessState {
	return a.states[connID]
}

// CanWrite reports whether the connection may issue mutating intents.
// The gate, not the document store, rejects writes from everyone else.
func (a *AccessController) CanWrite(connID string) bool {
	return a.states[connID] == AccessGranted
}

// PendingRequests returns outstanding requests, oldest first. Used to
// replay access-request notices to an owner who reconnects.
func (a *AccessController) PendingRequests() []*AccessRequest {
	out := make([]*AccessRequest, 0, len(a.requests))
	for _, req := range a.requests {
		out = append(out, req)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].CreatedAt.Before(out[j-1].CreatedAt); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// PendingCount returns the number of unresolved requests.
func (a *AccessController) PendingCount() int {
	return len(a.requests)
}
