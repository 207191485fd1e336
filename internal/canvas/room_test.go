package canvas

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canvas-backend/internal/config"
	"canvas-backend/internal/model"
)

// memSink captures events in arrival order for assertions.
type memSink struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (s *memSink) Send(evt Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, evt)
	return nil
}

func (s *memSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *memSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *memSink) count(t EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, evt := range s.events {
		if evt.Type == t {
			n++
		}
	}
	return n
}

func (s *memSink) byType(t EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, evt := range s.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

func (s *memSink) last(t EventType) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.events) - 1; i >= 0; i-- {
		if s.events[i].Type == t {
			return s.events[i], true
		}
	}
	return Event{}, false
}

func testHub(maxParticipants int) *Hub {
	cfg := &config.Config{
		Canvas: config.CanvasConfig{
			MaxParticipants:         maxParticipants,
			DefaultAutoClearMinutes: 15,
			ZAssignBufferSize:       256,
		},
	}
	return NewHub(cfg, nil)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond, msg)
}

func TestJoinFirstBecomesOwner(t *testing.T) {
	hub := testHub(4)
	room := hub.GetOrCreateRoom("canvas-1")
	sink := &memSink{}

	require.NoError(t, room.Join("c1", "alice@example.com", sink))

	states := sink.byType(EventCanvasState)
	require.Len(t, states, 1)
	snap := states[0].Payload.(Snapshot)
	assert.Equal(t, "alice@example.com", snap.Owner)
	assert.Equal(t, 1, snap.ParticipantCount)
	assert.Empty(t, snap.Shapes)

	roster, ok := sink.last(EventParticipants)
	require.True(t, ok)
	p := roster.Payload.(ParticipantsPayload)
	require.Len(t, p.Participants, 1)
	assert.True(t, p.Participants[0].IsOwner)
}

func TestJoinRoomFull(t *testing.T) {
	hub := testHub(2)
	room := hub.GetOrCreateRoom("canvas-1")

	require.NoError(t, room.Join("c1", "a@x.com", &memSink{}))
	require.NoError(t, room.Join("c2", "b@x.com", &memSink{}))

	rejected := &memSink{}
	err := room.Join("c3", "c@x.com", rejected)
	require.ErrorIs(t, err, ErrRoomFull)

	evt, ok := rejected.last(EventError)
	require.True(t, ok)
	assert.Equal(t, ErrCodeRoomFull, evt.Payload.(ErrorPayload).Code)
	assert.Zero(t, rejected.count(EventCanvasState), "rejected join gets no snapshot")
}

func TestDrawBroadcastsToEveryoneIncludingSender(t *testing.T) {
	hub := testHub(4)
	room := hub.GetOrCreateRoom("canvas-1")
	alice, bob := &memSink{}, &memSink{}
	require.NoError(t, room.Join("c1", "alice@example.com", alice))
	require.NoError(t, room.Join("c2", "bob@example.com", bob))

	require.NoError(t, room.Draw("c1", penShape("s1")))

	for _, sink := range []*memSink{alice, bob} {
		added := sink.byType(EventShapeAdded)
		require.Len(t, added, 1)
		shape := added[0].Payload.(model.Shape)
		assert.Equal(t, "s1", shape.ID)
		assert.Equal(t, model.ZIndexUnassigned, shape.ZIndex,
			"the canonical order key arrives in a separate event")
	}

	eventually(t, func() bool {
		return alice.count(EventZIndexAssigned) == 1 && bob.count(EventZIndexAssigned) == 1
	}, "both participants receive the z-index assignment")

	evt, _ := alice.last(EventZIndexAssigned)
	p := evt.Payload.(ZIndexAssignedPayload)
	assert.Equal(t, "s1", p.ShapeID)
	assert.Equal(t, 1, p.ZIndex)
}

func TestDrawRedeliveryIsSilent(t *testing.T) {
	hub := testHub(4)
	room := hub.GetOrCreateRoom("canvas-1")
	alice := &memSink{}
	require.NoError(t, room.Join("c1", "alice@example.com", alice))

	require.NoError(t, room.Draw("c1", penShape("s1")))
	require.NoError(t, room.Draw("c1", penShape("s1")))

	assert.Equal(t, 1, alice.count(EventShapeAdded))
	assert.Equal(t, 1, room.Snapshot().ParticipantCount)
	assert.Len(t, room.Snapshot().Shapes, 1)
}

func TestDrawWithoutGrant(t *testing.T) {
	hub := testHub(4)
	room := hub.GetOrCreateRoom("canvas-1")

	err := room.Draw("ghost", penShape("s1"))
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestDrawInvalidShape(t *testing.T) {
	hub := testHub(4)
	room := hub.GetOrCreateRoom("canvas-1")
	alice := &memSink{}
	require.NoError(t, room.Join("c1", "alice@example.com", alice))

	bad := &model.Shape{ID: "s1", Type: model.ShapePen} // no points, no stroke
	err := room.Draw("c1", bad)
	assert.ErrorIs(t, err, model.ErrInvalidShape)
	assert.Zero(t, alice.count(EventShapeAdded))
}

func TestUpdateReplacesWholesale(t *testing.T) {
	hub := testHub(4)
	room := hub.GetOrCreateRoom("canvas-1")
	alice, bob := &memSink{}, &memSink{}
	require.NoError(t, room.Join("c1", "alice@example.com", alice))
	require.NoError(t, room.Join("c2", "bob@example.com", bob))

	require.NoError(t, room.Draw("c1", penShape("s1")))

	replacement := penShape("s1")
	replacement.Stroke = "#ff0000"
	require.NoError(t, room.Update("c2", "s1", replacement))

	for _, sink := range []*memSink{alice, bob} {
		updated := sink.byType(EventShapeUpdated)
		require.Len(t, updated, 1)
		p := updated[0].Payload.(ShapeUpdatedPayload)
		assert.Equal(t, "s1", p.ShapeID)
		assert.Equal(t, "#ff0000", p.Shape.Stroke)
	}
}

func TestUpdateMissingShapeDropped(t *testing.T) {
	hub := testHub(4)
	room := hub.GetOrCreateRoom("canvas-1")
	alice := &memSink{}
	require.NoError(t, room.Join("c1", "alice@example.com", alice))

	require.NoError(t, room.Update("c1", "never-existed", penShape("never-existed")))
	assert.Zero(t, alice.count(EventShapeUpdated), "an update racing a clear stays silent")
}

func TestClearOpenToAnyParticipant(t *testing.T) {
	hub := testHub(4)
	room := hub.GetOrCreateRoom("canvas-1")
	alice, bob := &memSink{}, &memSink{}
	require.NoError(t, room.Join("c1", "alice@example.com", alice))
	require.NoError(t, room.Join("c2", "bob@example.com", bob))

	require.NoError(t, room.Draw("c1", penShape("s1")))
	require.NoError(t, room.Clear("c2"), "clear is not owner-gated")

	assert.Equal(t, 1, alice.count(EventCanvasCleared))
	assert.Equal(t, 1, bob.count(EventCanvasCleared))
	assert.Empty(t, room.Snapshot().Shapes)
}

func TestUpdateSettingsOwnerOnly(t *testing.T) {
	hub := testHub(4)
	room := hub.GetOrCreateRoom("canvas-1")
	alice, bob := &memSink{}, &memSink{}
	require.NoError(t, room.Join("c1", "alice@example.com", alice))
	require.NoError(t, room.Join("c2", "bob@example.com", bob))

	on := true
	err := room.UpdateSettings("c2", SettingsPatch{RequireApproval: &on})
	assert.ErrorIs(t, err, ErrForbidden)

	require.NoError(t, room.UpdateSettings("c1", SettingsPatch{RequireApproval: &on}))

	evt, ok := bob.last(EventSettingsUpdated)
	require.True(t, ok)
	assert.True(t, evt.Payload.(Settings).RequireApproval,
		"everyone receives the full resulting settings")
}

func TestApprovalFlow(t *testing.T) {
	hub := testHub(4)
	room := hub.GetOrCreateRoom("canvas-1")
	owner := &memSink{}
	require.NoError(t, room.Join("c1", "alice@example.com", owner))

	on := true
	require.NoError(t, room.UpdateSettings("c1", SettingsPatch{RequireApproval: &on}))

	guest := &memSink{}
	require.NoError(t, room.Join("c2", "bob@example.com", guest))

	assert.Equal(t, 1, guest.count(EventAccessPending))
	assert.Zero(t, guest.count(EventCanvasState), "no document state leaks before approval")

	reqs := owner.byType(EventAccessRequest)
	require.Len(t, reqs, 1)
	reqPayload := reqs[0].Payload.(AccessRequestPayload)
	assert.Equal(t, "bob@example.com", reqPayload.Email)

	// Pending connections cannot write.
	assert.ErrorIs(t, room.Draw("c2", penShape("s1")), ErrForbidden)

	require.NoError(t, room.ResolveAccess("c1", reqPayload.RequestID, true))

	assert.Equal(t, 1, guest.count(EventAccessGranted))
	assert.Equal(t, 1, guest.count(EventCanvasState))
	require.NoError(t, room.Draw("c2", penShape("s1")))
	assert.Equal(t, 1, owner.count(EventShapeAdded))
}

func TestDenyFlow(t *testing.T) {
	hub := testHub(4)
	room := hub.GetOrCreateRoom("canvas-1")
	owner := &memSink{}
	require.NoError(t, room.Join("c1", "alice@example.com", owner))

	on := true
	require.NoError(t, room.UpdateSettings("c1", SettingsPatch{RequireApproval: &on}))

	guest := &memSink{}
	require.NoError(t, room.Join("c2", "bob@example.com", guest))
	reqs := owner.byType(EventAccessRequest)
	require.Len(t, reqs, 1)

	require.NoError(t, room.ResolveAccess("c1", reqs[0].Payload.(AccessRequestPayload).RequestID, false))

	assert.Equal(t, 1, guest.count(EventAccessDenied))
	assert.True(t, guest.isClosed(), "denied connections are hung up")
	assert.ErrorIs(t, room.Draw("c2", penShape("s1")), ErrForbidden)

	// The denied user never appeared in any roster broadcast.
	for _, evt := range owner.byType(EventParticipants) {
		for _, p := range evt.Payload.(ParticipantsPayload).Participants {
			assert.NotEqual(t, "bob@example.com", p.Email)
		}
	}
}

// A pen stroke drawn on one client and extended point by point must end
// up identical on every other client.
func TestPenStrokeGrowsAcrossClients(t *testing.T) {
	hub := testHub(4)
	room := hub.GetOrCreateRoom("canvas-1")
	alice, bob := &memSink{}, &memSink{}
	require.NoError(t, room.Join("c1", "alice@example.com", alice))
	require.NoError(t, room.Join("c2", "bob@example.com", bob))

	stroke := penShape("stroke-1")
	stroke.Points = []float64{0, 0, 1, 1}
	require.NoError(t, room.Draw("c1", stroke))

	for _, pts := range [][]float64{
		{0, 0, 1, 1, 2, 3},
		{0, 0, 1, 1, 2, 3, 4, 5},
	} {
		grown := penShape("stroke-1")
		grown.Points = pts
		require.NoError(t, room.Update("c1", "stroke-1", grown))
	}

	final := []float64{0, 0, 1, 1, 2, 3, 4, 5}
	for _, sink := range []*memSink{alice, bob} {
		evt, ok := sink.last(EventShapeUpdated)
		require.True(t, ok)
		p := evt.Payload.(ShapeUpdatedPayload)
		assert.Equal(t, "stroke-1", p.ShapeID)
		assert.Equal(t, final, p.Shape.Points)
	}

	snap := room.Snapshot()
	require.Len(t, snap.Shapes, 1)
	assert.Equal(t, final, snap.Shapes[0].Points)
}

func TestResolveAccessRequiresOwner(t *testing.T) {
	hub := testHub(4)
	room := hub.GetOrCreateRoom("canvas-1")
	owner, member := &memSink{}, &memSink{}
	require.NoError(t, room.Join("c1", "alice@example.com", owner))
	require.NoError(t, room.Join("c2", "bob@example.com", member))

	on := true
	require.NoError(t, room.UpdateSettings("c1", SettingsPatch{RequireApproval: &on}))
	require.NoError(t, room.Join("c3", "carol@example.com", &memSink{}))

	reqs := owner.byType(EventAccessRequest)
	require.Len(t, reqs, 1)
	reqID := reqs[0].Payload.(AccessRequestPayload).RequestID

	err := room.ResolveAccess("c2", reqID, true)
	assert.ErrorIs(t, err, ErrForbidden, "a regular member cannot decide requests")

	err = room.ResolveAccess("c1", "no-such-request", true)
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestOwnerReconnectReplaysPendingRequests(t *testing.T) {
	hub := testHub(4)
	room := hub.GetOrCreateRoom("canvas-1")
	owner := &memSink{}
	require.NoError(t, room.Join("c1", "alice@example.com", owner))

	on := true
	require.NoError(t, room.UpdateSettings("c1", SettingsPatch{RequireApproval: &on}))

	guest := &memSink{}
	require.NoError(t, room.Join("c2", "bob@example.com", guest))

	// Owner drops while the request is still pending. The room stays alive
	// because the requester is still connected.
	room.Leave("c1")
	assert.NotNil(t, hub.GetRoom("canvas-1"))

	reconnected := &memSink{}
	require.NoError(t, room.Join("c3", "alice@example.com", reconnected))

	replayed := reconnected.byType(EventAccessRequest)
	require.Len(t, replayed, 1)
	assert.Equal(t, "bob@example.com", replayed[0].Payload.(AccessRequestPayload).Email)

	// The replayed request is still decidable.
	require.NoError(t, room.ResolveAccess("c3", replayed[0].Payload.(AccessRequestPayload).RequestID, true))
	assert.Equal(t, 1, guest.count(EventAccessGranted))
}

func TestLeaveBroadcastsRoster(t *testing.T) {
	hub := testHub(4)
	room := hub.GetOrCreateRoom("canvas-1")
	alice, bob := &memSink{}, &memSink{}
	require.NoError(t, room.Join("c1", "alice@example.com", alice))
	require.NoError(t, room.Join("c2", "bob@example.com", bob))

	room.Leave("c2")

	evt, ok := alice.last(EventParticipants)
	require.True(t, ok)
	p := evt.Payload.(ParticipantsPayload)
	require.Len(t, p.Participants, 1)
	assert.Equal(t, "alice@example.com", p.Participants[0].Email)

	countEvt, ok := alice.last(EventParticipantCount)
	require.True(t, ok)
	assert.Equal(t, 1, countEvt.Payload.(ParticipantCountPayload).Count)
}

func TestLastLeaveRemovesRoom(t *testing.T) {
	hub := testHub(4)
	room := hub.GetOrCreateRoom("canvas-1")
	require.NoError(t, room.Join("c1", "alice@example.com", &memSink{}))

	room.Leave("c1")

	eventually(t, func() bool {
		return hub.GetRoom("canvas-1") == nil
	}, "the hub forgets the empty room")
}

// A handler can hold a room handle from before the hub removed it (the
// last connection leaving while a new one dials in). Joining through the
// stale handle must fail so the caller re-fetches, instead of landing in
// a coordinator whose goroutines are gone.
func TestStaleHandleJoinAfterRemoval(t *testing.T) {
	hub := testHub(4)
	stale := hub.GetOrCreateRoom("canvas-1")
	require.NoError(t, stale.Join("c1", "alice@example.com", &memSink{}))

	stale.Leave("c1")
	eventually(t, func() bool {
		return hub.GetRoom("canvas-1") == nil
	}, "the emptied room is removed")

	sink := &memSink{}
	err := stale.Join("c2", "bob@example.com", sink)
	require.ErrorIs(t, err, ErrRoomClosed)
	assert.Zero(t, sink.count(EventCanvasState), "a closed room hands out no snapshot")

	// Re-fetching yields a live coordinator for the same canvas id.
	fresh := hub.GetOrCreateRoom("canvas-1")
	require.NotSame(t, stale, fresh)
	require.NoError(t, fresh.Join("c2", "bob@example.com", sink))
	require.NoError(t, fresh.Draw("c2", penShape("s1")))

	eventually(t, func() bool {
		return sink.count(EventZIndexAssigned) == 1
	}, "the live room's assigner is running")
}

func TestRemoveRoomKeepsOccupiedRoom(t *testing.T) {
	hub := testHub(4)
	room := hub.GetOrCreateRoom("canvas-1")
	alice := &memSink{}
	require.NoError(t, room.Join("c1", "alice@example.com", alice))

	hub.RemoveRoom("canvas-1")

	assert.Same(t, room, hub.GetRoom("canvas-1"))
	require.NoError(t, room.Draw("c1", penShape("s1")))
	eventually(t, func() bool {
		return alice.count(EventZIndexAssigned) == 1
	}, "the occupied room stays fully alive")
}

func TestAutoClearFires(t *testing.T) {
	hub := testHub(4)
	room := hub.GetOrCreateRoom("canvas-1")
	alice := &memSink{}
	require.NoError(t, room.Join("c1", "alice@example.com", alice))

	on := true
	minutes := 5
	require.NoError(t, room.UpdateSettings("c1", SettingsPatch{AutoClear: &on, AutoClearMinutes: &minutes}))
	require.NoError(t, room.Draw("c1", penShape("s1")))

	room.fireAutoClear()

	assert.Equal(t, 1, alice.count(EventCanvasCleared))
	autoEvts := alice.byType(EventCanvasAutoCleared)
	require.Len(t, autoEvts, 1)
	assert.Equal(t, 5, autoEvts[0].Payload.(AutoClearedPayload).ThresholdMinutes)
	assert.Empty(t, room.Snapshot().Shapes)
}

func TestAutoClearDisabledDoesNotFire(t *testing.T) {
	hub := testHub(4)
	room := hub.GetOrCreateRoom("canvas-1")
	alice := &memSink{}
	require.NoError(t, room.Join("c1", "alice@example.com", alice))
	require.NoError(t, room.Draw("c1", penShape("s1")))

	room.fireAutoClear()

	assert.Zero(t, alice.count(EventCanvasAutoCleared))
	assert.Len(t, room.Snapshot().Shapes, 1)
}

// Canonical z values must match draw arrival order even when draws far
// outpace the assigner's queue capacity.
func TestZAssignOrderWithTinyQueue(t *testing.T) {
	cfg := &config.Config{
		Canvas: config.CanvasConfig{
			MaxParticipants:         4,
			DefaultAutoClearMinutes: 15,
			ZAssignBufferSize:       1,
		},
	}
	hub := NewHub(cfg, nil)
	room := hub.GetOrCreateRoom("canvas-1")
	alice := &memSink{}
	require.NoError(t, room.Join("c1", "alice@example.com", alice))

	const n = 8
	for i := 0; i < n; i++ {
		require.NoError(t, room.Draw("c1", penShape(fmt.Sprintf("s%d", i))))
	}

	eventually(t, func() bool {
		return alice.count(EventZIndexAssigned) == n
	}, "every draw gets a canonical value")

	assigned := make(map[string]int)
	for _, evt := range alice.byType(EventZIndexAssigned) {
		p := evt.Payload.(ZIndexAssignedPayload)
		assigned[p.ShapeID] = p.ZIndex
	}
	for i := 0; i < n; i++ {
		assert.Equal(t, i+1, assigned[fmt.Sprintf("s%d", i)],
			"the i-th drawn shape carries the i-th canonical value")
	}
}

// Concurrent draws from every participant must yield the same event order
// at every sink and a dense, strictly increasing z sequence.
func TestConcurrentDrawsConverge(t *testing.T) {
	hub := testHub(4)
	room := hub.GetOrCreateRoom("canvas-1")

	sinks := []*memSink{{}, {}, {}}
	for i, sink := range sinks {
		connID := fmt.Sprintf("c%d", i+1)
		email := fmt.Sprintf("user%d@example.com", i+1)
		require.NoError(t, room.Join(connID, email, sink))
	}

	const perClient = 10
	var wg sync.WaitGroup
	for i := range sinks {
		wg.Add(1)
		go func(client int) {
			defer wg.Done()
			connID := fmt.Sprintf("c%d", client+1)
			for j := 0; j < perClient; j++ {
				id := fmt.Sprintf("shape-%d-%d", client, j)
				assert.NoError(t, room.Draw(connID, penShape(id)))
			}
		}(i)
	}
	wg.Wait()

	total := len(sinks) * perClient
	eventually(t, func() bool {
		for _, sink := range sinks {
			if sink.count(EventZIndexAssigned) != total {
				return false
			}
		}
		return true
	}, "every participant sees every assignment")

	// Identical broadcast order at every sink.
	reference := sinks[0].byType(EventShapeAdded)
	require.Len(t, reference, total)
	for _, sink := range sinks[1:] {
		added := sink.byType(EventShapeAdded)
		require.Len(t, added, total)
		for i := range reference {
			assert.Equal(t, reference[i].Payload.(model.Shape).ID, added[i].Payload.(model.Shape).ID,
				"all participants observe the same total order")
		}
	}

	// Dense assignment: every value 1..total exactly once.
	seen := make(map[int]string)
	for _, evt := range sinks[0].byType(EventZIndexAssigned) {
		p := evt.Payload.(ZIndexAssignedPayload)
		_, dup := seen[p.ZIndex]
		require.False(t, dup, "z-index %d assigned twice", p.ZIndex)
		seen[p.ZIndex] = p.ShapeID
	}
	for z := 1; z <= total; z++ {
		assert.Contains(t, seen, z)
	}

	snap := room.Snapshot()
	assert.Len(t, snap.Shapes, total)
}
