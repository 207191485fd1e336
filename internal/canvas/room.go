package canvas

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"canvas-backend/internal/model"
)

// member is one connected participant (granted or still pending).
type member struct {
	connID string
	email  string
	sink   Sink
}

// Room is the single serialization authority for one canvas. Every intent
// from every connection is applied to the document under r.mu in arrival
// order, and the resulting event is broadcast before the lock is
// released, so all participants observe the same total order.
type Room struct {
	ID  string
	hub *Hub

	mu      sync.Mutex
	closed  bool
	doc     *Document
	access  *AccessController
	members map[string]*member // granted connections, in the roster
	pending map[string]*member // gated joins awaiting the owner

	zQueue    []string      // FIFO of shape ids awaiting a canonical z
	zSignal   chan struct{} // wakes the assigner, buffered 1
	autoClear *time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

func newRoom(id string, hub *Hub, doc *Document) *Room {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Room{
		ID:      id,
		hub:     hub,
		doc:     doc,
		access:  NewAccessController(id),
		members: make(map[string]*member),
		pending: make(map[string]*member),
		zQueue:  make([]string, 0, hub.cfg.Canvas.ZAssignBufferSize),
		zSignal: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
	}
	go r.runZAssigner()
	return r
}

// =============================================================================
// Join / leave / access
// =============================================================================

// Join admits a connection with an identity-service-verified email. The
// outcome is one of: granted (snapshot unicast + roster broadcast),
// pending (access-pending unicast, owner notified), or ErrRoomFull.
func (r *Room) Join(connID, email string, sink Sink) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// A stale handle obtained before the hub removed the room must not
	// land a client in a coordinator that no longer exists.
	if r.closed {
		return ErrRoomClosed
	}

	if r.doc.IsFull() {
		r.sendTo(sink, Event{Type: EventError, Payload: ErrorPayload{
			Code:    ErrCodeRoomFull,
			Message: "canvas already has the maximum number of participants",
		}})
		return ErrRoomFull
	}

	m := &member{connID: connID, email: email, sink: sink}

	// First-ever joiner becomes the owner; the owner and anyone joining
	// an unrestricted room are granted outright.
	gated := r.doc.Settings().RequireApproval &&
		r.doc.Owner() != "" && email != r.doc.Owner()

	if !gated {
		r.admitLocked(m)
		return nil
	}

	req := r.access.Begin(connID, email)
	r.pending[connID] = m
	log.Printf("[Canvas %s] Access request %s from %s (pending: %d)",
		r.ID, req.ID, email, r.access.PendingCount())

	r.sendTo(sink, Event{Type: EventAccessPending})
	r.notifyOwnerLocked(Event{Type: EventAccessRequest, Payload: AccessRequestPayload{
		RequestID: req.ID,
		Email:     req.Email,
	}})
	return nil
}

// admitLocked finishes a granted join: roster, snapshot, broadcasts.
func (r *Room) admitLocked(m *member) {
	r.access.Grant(m.connID)
	p, err := r.doc.AddParticipant(m.connID, m.email)
	if err != nil {
		// Capacity was checked by the caller; a race here still must not
		// over-admit.
		r.sendTo(m.sink, Event{Type: EventError, Payload: ErrorPayload{
			Code:    ErrCodeRoomFull,
			Message: "canvas already has the maximum number of participants",
		}})
		r.access.Drop(m.connID)
		return
	}
	r.members[m.connID] = m

	log.Printf("[Canvas %s] Joined: %s (conn %s, owner: %v, total: %d)",
		r.ID, m.email, m.connID, p.IsOwner, r.doc.ParticipantCount())

	r.sendTo(m.sink, Event{Type: EventCanvasState, Payload: r.doc.Snapshot()})
	r.broadcastRosterLocked()

	// A reconnecting owner gets outstanding access requests replayed.
	if m.email == r.doc.Owner() {
		for _, req := range r.access.PendingRequests() {
			r.sendTo(m.sink, Event{Type: EventAccessRequest, Payload: AccessRequestPayload{
				RequestID: req.ID,
				Email:     req.Email,
			}})
		}
	}
}

// ResolveAccess applies the owner's approve/deny decision.
func (r *Room) ResolveAccess(connID, requestID string, approved bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[connID]
	if !ok || m.email != r.doc.Owner() {
		return ErrForbidden
	}

	req, err := r.access.Resolve(requestID, approved)
	if err != nil {
		return err
	}

	requester, waiting := r.pending[req.ConnectionID]
	delete(r.pending, req.ConnectionID)
	if !waiting {
		// Requester disconnected before the decision landed.
		log.Printf("[Canvas %s] Request %s resolved after requester left", r.ID, requestID)
		return nil
	}

	if !approved {
		log.Printf("[Canvas %s] Denied access for %s", r.ID, req.Email)
		r.sendTo(requester.sink, Event{Type: EventAccessDenied})
		requester.sink.Close()
		return nil
	}

	if r.doc.IsFull() {
		r.sendTo(requester.sink, Event{Type: EventError, Payload: ErrorPayload{
			Code:    ErrCodeRoomFull,
			Message: "canvas filled up while the request was pending",
		}})
		requester.sink.Close()
		return nil
	}

	log.Printf("[Canvas %s] Approved access for %s", r.ID, req.Email)
	r.sendTo(requester.sink, Event{Type: EventAccessGranted})
	r.admitLocked(requester)
	return nil
}

// Leave removes a connection: pending requests are destroyed without a
// decision, roster members trigger a roster broadcast. Applied edits are
// never rolled back.
func (r *Room) Leave(connID string) {
	r.mu.Lock()

	if _, ok := r.pending[connID]; ok {
		delete(r.pending, connID)
		if req := r.access.Drop(connID); req != nil {
			log.Printf("[Canvas %s] Pending request %s cancelled (requester left)", r.ID, req.ID)
		}
		empty := len(r.members) == 0 && len(r.pending) == 0
		r.mu.Unlock()
		if empty {
			go r.hub.RemoveRoom(r.ID)
		}
		return
	}

	m, ok := r.members[connID]
	if !ok {
		// Denied connections are no longer pending or in the roster but
		// still hold an access state entry.
		r.access.Drop(connID)
		r.mu.Unlock()
		return
	}
	delete(r.members, connID)
	r.doc.RemoveParticipant(connID)
	r.access.Drop(connID)
	log.Printf("[Canvas %s] Left: %s (conn %s, remaining: %d)",
		r.ID, m.email, connID, r.doc.ParticipantCount())
	r.broadcastRosterLocked()

	empty := len(r.members) == 0 && len(r.pending) == 0
	r.mu.Unlock()

	if empty {
		go r.hub.RemoveRoom(r.ID)
	}
}

// =============================================================================
// Edit intents
// =============================================================================

// Draw inserts a new shape and broadcasts shape-added to everyone,
// including the sender (whose reconciler treats the echo as a no-op).
// The canonical z-index follows asynchronously so the hot path never
// waits on the counter.
func (r *Room) Draw(connID string, s *model.Shape) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.access.CanWrite(connID) {
		return ErrForbidden
	}
	if err := s.Validate(); err != nil {
		return err
	}

	stored := s.Clone()
	stored.ZIndex = model.ZIndexUnassigned
	if err := r.doc.Insert(stored); err != nil {
		if errors.Is(err, ErrDuplicateShape) {
			// Redelivered intent; everyone already has the shape.
			return nil
		}
		return err
	}

	r.broadcastLocked(Event{Type: EventShapeAdded, Payload: *stored.Clone()})
	r.enqueueZAssignLocked(stored.ID)
	r.resetAutoClearLocked()

	if r.hub.archive != nil {
		email := ""
		if m, ok := r.members[connID]; ok {
			email = m.email
		}
		shape := stored.Clone()
		go func() {
			if err := r.hub.archive.SaveShape(r.ID, email, shape); err != nil {
				log.Printf("[Canvas %s] Failed to archive shape %s: %v", r.ID, shape.ID, err)
			}
		}()
	}
	return nil
}

// Update replaces a shape wholesale. A missing id means a clear raced in;
// the intent is dropped silently because the clear already told everyone.
func (r *Room) Update(connID, shapeID string, s *model.Shape) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.access.CanWrite(connID) {
		return ErrForbidden
	}
	if err := s.Validate(); err != nil {
		return err
	}

	merged, err := r.doc.Replace(shapeID, s)
	if err != nil {
		if errors.Is(err, ErrShapeNotFound) {
			log.Printf("[Canvas %s] Update for missing shape %s dropped", r.ID, shapeID)
			return nil
		}
		return err
	}

	r.broadcastLocked(Event{Type: EventShapeUpdated, Payload: ShapeUpdatedPayload{
		ShapeID: shapeID,
		Shape:   *merged.Clone(),
	}})
	r.resetAutoClearLocked()

	if r.hub.archive != nil {
		shape := merged.Clone()
		go func() {
			if err := r.hub.archive.ReplaceShape(r.ID, shape); err != nil {
				log.Printf("[Canvas %s] Failed to archive update for %s: %v", r.ID, shape.ID, err)
			}
		}()
	}
	return nil
}

// Clear empties the canvas. Open to any granted participant, not just
// the owner, matching the front-end's unrestricted clear button.
func (r *Room) Clear(connID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.access.CanWrite(connID) {
		return ErrForbidden
	}

	r.clearLocked(Event{Type: EventCanvasCleared})
	return nil
}

// UpdateSettings merges a partial settings change (owner only) and
// broadcasts the full resulting settings object. RequireApproval only
// affects later joins; AutoClear re-arms or stops the inactivity timer.
func (r *Room) UpdateSettings(connID string, patch SettingsPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[connID]
	if !ok || m.email != r.doc.Owner() {
		return ErrForbidden
	}

	settings := r.doc.ApplySettings(patch)
	log.Printf("[Canvas %s] Settings updated by %s: %+v", r.ID, m.email, settings)

	if settings.AutoClear {
		r.resetAutoClearLocked()
	} else {
		r.stopAutoClearLocked()
	}

	r.broadcastLocked(Event{Type: EventSettingsUpdated, Payload: settings})
	return nil
}

// Snapshot returns the current document state (REST history endpoint).
func (r *Room) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doc.Snapshot()
}

// =============================================================================
// Z-index assignment
// =============================================================================

// enqueueZAssignLocked appends the shape to the assigner's FIFO queue.
// The queue lives under r.mu and only the assigner goroutine drains it,
// so canonical values always land in draw arrival order no matter how
// far the assigner lags behind.
func (r *Room) enqueueZAssignLocked(shapeID string) {
	r.zQueue = append(r.zQueue, shapeID)
	select {
	case r.zSignal <- struct{}{}:
	default:
	}
}

func (r *Room) runZAssigner() {
	for {
		select {
		case <-r.ctx.Done():
			return
		case <-r.zSignal:
			r.mu.Lock()
			for len(r.zQueue) > 0 {
				shapeID := r.zQueue[0]
				r.zQueue = r.zQueue[1:]
				r.assignZLocked(shapeID)
			}
			r.mu.Unlock()
		}
	}
}

func (r *Room) assignZLocked(shapeID string) {
	z, err := r.doc.AssignNextZIndex(shapeID)
	if err != nil {
		if errors.Is(err, ErrShapeNotFound) {
			log.Printf("[Canvas %s] Z-index assignment for missing shape %s dropped", r.ID, shapeID)
		}
		// ErrZIndexAssigned: detect and ignore, never renumber.
		return
	}

	r.broadcastLocked(Event{Type: EventZIndexAssigned, Payload: ZIndexAssignedPayload{
		ShapeID: shapeID,
		ZIndex:  z,
	}})

	if r.hub.archive != nil {
		go func() {
			if err := r.hub.archive.SetZIndex(r.ID, shapeID, z); err != nil {
				log.Printf("[Canvas %s] Failed to archive z-index for %s: %v", r.ID, shapeID, err)
			}
		}()
	}
}

// =============================================================================
// Auto-clear timer
// =============================================================================

// resetAutoClearLocked re-arms the inactivity countdown after an accepted
// draw/update. The timer is server-owned and survives any client leaving.
func (r *Room) resetAutoClearLocked() {
	settings := r.doc.Settings()
	if !settings.AutoClear {
		return
	}
	d := time.Duration(settings.AutoClearMinutes) * time.Minute
	if r.autoClear == nil {
		r.autoClear = time.AfterFunc(d, r.fireAutoClear)
		return
	}
	r.autoClear.Reset(d)
}

func (r *Room) stopAutoClearLocked() {
	if r.autoClear != nil {
		r.autoClear.Stop()
	}
}

func (r *Room) fireAutoClear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	settings := r.doc.Settings()
	if !settings.AutoClear {
		return
	}
	log.Printf("[Canvas %s] Auto-clear after %d minutes of inactivity",
		r.ID, settings.AutoClearMinutes)

	r.clearLocked(Event{Type: EventCanvasCleared})
	r.broadcastLocked(Event{Type: EventCanvasAutoCleared, Payload: AutoClearedPayload{
		ThresholdMinutes: settings.AutoClearMinutes,
	}})
}

// clearLocked empties the document, broadcasts the given clear event and
// stops the countdown (nothing left to clear).
func (r *Room) clearLocked(evt Event) {
	r.doc.Clear()
	r.stopAutoClearLocked()
	r.broadcastLocked(evt)

	if r.hub.archive != nil {
		go func() {
			if err := r.hub.archive.ClearRoom(r.ID); err != nil {
				log.Printf("[Canvas %s] Failed to clear archive: %v", r.ID, err)
			}
		}()
	}
}

// =============================================================================
// Broadcast helpers
// =============================================================================

// broadcastLocked fans an event out to every granted member, sender
// included. Writes happen under r.mu so broadcast order always equals
// applied order.
func (r *Room) broadcastLocked(evt Event) {
	for _, m := range r.members {
		if err := m.sink.Send(evt); err != nil {
			log.Printf("[Canvas %s] Failed to send %s to %s: %v", r.ID, evt.Type, m.connID, err)
		}
	}
}

// broadcastRosterLocked emits participants-updated plus participant-count.
func (r *Room) broadcastRosterLocked() {
	r.broadcastLocked(Event{Type: EventParticipants, Payload: ParticipantsPayload{
		Participants: r.doc.Participants(),
		Owner:        r.doc.Owner(),
	}})
	r.broadcastLocked(Event{Type: EventParticipantCount, Payload: ParticipantCountPayload{
		Count: r.doc.ParticipantCount(),
	}})
}

// notifyOwnerLocked unicasts to every connection the owner has open.
func (r *Room) notifyOwnerLocked(evt Event) {
	owner := r.doc.Owner()
	notified := false
	for _, m := range r.members {
		if m.email == owner {
			r.sendTo(m.sink, evt)
			notified = true
		}
	}
	if !notified {
		log.Printf("[Canvas %s] Owner offline, %s queued until reconnect", r.ID, evt.Type)
	}
}

func (r *Room) sendTo(sink Sink, evt Event) {
	if err := sink.Send(evt); err != nil {
		log.Printf("[Canvas %s] Failed to send %s: %v", r.ID, evt.Type, err)
	}
}

// closeIfEmpty marks the room closed and stops its goroutines, but only
// if no connection (granted or pending) remains. Marking happens under
// r.mu, so a join racing the removal either lands before the check
// (keeping the room alive) or sees the closed flag and gets rejected.
func (r *Room) closeIfEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.members) != 0 || len(r.pending) != 0 {
		return false
	}
	r.closed = true
	r.stopAutoClearLocked()
	r.cancel()
	return true
}
