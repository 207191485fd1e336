package handler

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"

	"canvas-backend/internal/canvas"
)

// CanvasWSHandler 캔버스 WebSocket 핸들러
type CanvasWSHandler struct {
	hub          *canvas.Hub
	writeTimeout time.Duration
}

// NewCanvasWSHandler CanvasWSHandler 생성
func NewCanvasWSHandler(hub *canvas.Hub, writeTimeout time.Duration) *CanvasWSHandler {
	return &CanvasWSHandler{hub: hub, writeTimeout: writeTimeout}
}

// wsConn is the slice of the websocket connection the sink needs.
type wsConn interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// wsSink adapts one websocket connection to canvas.Sink. The write mutex
// keeps room broadcasts and unicast replies from interleaving frames; the
// deadline stops one stalled client from blocking a room broadcast.
type wsSink struct {
	conn         wsConn
	writeTimeout time.Duration
	writeMu      sync.Mutex
}

func (s *wsSink) Send(evt canvas.Event) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.writeTimeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return err
		}
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSink) Close() error {
	return s.conn.Close()
}

// HandleWebSocket WebSocket 연결 처리
//
// The route middleware has already validated the identity token and
// stashed the verified email; every mutating intent still goes through
// the room's access gate.
func (h *CanvasWSHandler) HandleWebSocket(c *websocket.Conn) {
	canvasID, ok1 := c.Locals("canvasId").(string)
	email, ok2 := c.Locals("email").(string)
	if !ok1 || !ok2 || canvasID == "" || email == "" {
		c.WriteMessage(websocket.TextMessage, []byte(`{"type":"error","payload":{"code":"bad-request","message":"invalid session"}}`))
		c.Close()
		return
	}

	connID := uuid.New().String()
	sink := &wsSink{conn: c, writeTimeout: h.writeTimeout}

	// The hub can remove an emptied room between handing out the handle
	// and the join (the last connection leaving while this one dials in).
	// A closed room rejects the join; fetching again yields a live one.
	room := h.hub.GetOrCreateRoom(canvasID)
	err := room.Join(connID, email, sink)
	for errors.Is(err, canvas.ErrRoomClosed) {
		room = h.hub.GetOrCreateRoom(canvasID)
		err = room.Join(connID, email, sink)
	}
	if err != nil {
		// Join already told the client why (room-full).
		c.Close()
		return
	}

	log.Printf("캔버스 클라이언트 연결: canvas=%s, email=%s, conn=%s", canvasID, email, connID)

	// 연결 해제 시 정리
	defer func() {
		room.Leave(connID)
		c.Close()
		log.Printf("캔버스 클라이언트 연결 해제: canvas=%s, conn=%s", canvasID, connID)
	}()

	// 메시지 수신 루프
	for {
		_, msgBytes, err := c.ReadMessage()
		if err != nil {
			break
		}

		var msg canvas.WireMessage
		if err := json.Unmarshal(msgBytes, &msg); err != nil {
			continue
		}

		h.dispatch(room, connID, sink, msg)
	}
}

// dispatch applies one intent. Forbidden, invalid-shape and not-found
// rejections on the edit path stay silent toward other participants;
// settings and access decisions get explicit error replies.
func (h *CanvasWSHandler) dispatch(room *canvas.Room, connID string, sink *wsSink, msg canvas.WireMessage) {
	switch msg.Type {
	case canvas.IntentDraw:
		var p canvas.DrawPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		if err := room.Draw(connID, &p.Shape); err != nil {
			log.Printf("[Canvas %s] Draw rejected for %s: %v", room.ID, connID, err)
		}

	case canvas.IntentUpdate:
		var p canvas.UpdatePayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		if err := room.Update(connID, p.ShapeID, &p.Shape); err != nil {
			log.Printf("[Canvas %s] Update rejected for %s: %v", room.ID, connID, err)
		}

	case canvas.IntentClear:
		if err := room.Clear(connID); err != nil {
			log.Printf("[Canvas %s] Clear rejected for %s: %v", room.ID, connID, err)
		}

	case canvas.IntentUpdateSettings:
		var patch canvas.SettingsPatch
		if err := json.Unmarshal(msg.Payload, &patch); err != nil {
			return
		}
		if err := room.UpdateSettings(connID, patch); err != nil {
			sink.Send(canvas.Event{Type: canvas.EventError, Payload: canvas.ErrorPayload{
				Code:    canvas.ErrCodeForbidden,
				Message: "only the canvas owner can change settings",
			}})
		}

	case canvas.IntentApproveAccess:
		var p canvas.ApproveAccessPayload
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			return
		}
		if err := room.ResolveAccess(connID, p.RequestID, p.Approved); err != nil {
			code := canvas.ErrCodeBadRequest
			if errors.Is(err, canvas.ErrForbidden) {
				code = canvas.ErrCodeForbidden
			}
			sink.Send(canvas.Event{Type: canvas.EventError, Payload: canvas.ErrorPayload{
				Code:    code,
				Message: err.Error(),
			}})
		}

	case canvas.IntentPing:
		sink.Send(canvas.Event{Type: canvas.EventPong})
	}
}
