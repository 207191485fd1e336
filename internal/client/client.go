package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"canvas-backend/internal/canvas"
	"canvas-backend/internal/model"
)

const (
	initialBackoff = 500 * time.Millisecond
	maxBackoff     = 30 * time.Second
	dialTimeout    = 10 * time.Second
)

// Config 클라이언트 접속 설정
type Config struct {
	// BaseURL is the server root, e.g. "ws://localhost:8080".
	BaseURL  string
	CanvasID string
	// Token is the signed identity token, passed as the token query param.
	Token string
	// OnEvent, if set, is called after each server event has been folded
	// into the local state. Runs on the read loop goroutine.
	OnEvent func(evt canvas.EventType, payload json.RawMessage)
}

// Client keeps one canvas replica in sync with the server. Local edits
// apply optimistically and are reconciled when the server echo (or a
// fresh snapshot after reconnect) arrives.
type Client struct {
	cfg   Config
	state *State

	mu       sync.Mutex
	conn     *websocket.Conn
	closed   bool
	started  bool
	cancel   context.CancelFunc
	runOnce  sync.Once
	doneOnce sync.Once
	done     chan struct{}
}

// New creates a client. Call Connect to start syncing.
func New(cfg Config) *Client {
	return &Client{
		cfg:   cfg,
		state: NewState(),
		done:  make(chan struct{}),
	}
}

// State returns the local replica.
func (c *Client) State() *State {
	return c.state
}

// Connect dials the canvas room and starts the sync loop. The loop
// redials with capped backoff until ctx is cancelled or Close is called;
// every successful redial yields a fresh canvas-state snapshot, which
// resets the replica.
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return fmt.Errorf("client is closed")
	}
	c.cancel = cancel
	c.mu.Unlock()

	conn, err := c.dial(ctx)
	if err != nil {
		cancel()
		return err
	}
	c.setConn(conn)

	c.runOnce.Do(func() {
		c.mu.Lock()
		c.started = true
		c.mu.Unlock()
		go c.run(ctx, conn)
	})
	return nil
}

// Close tears the connection down and stops the redial loop.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	cancel := c.cancel
	started := c.started
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// The sync loop closes done when it exits; if it never started
	// (Connect failed or was never called), release waiters here.
	if !started {
		c.finish()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// Done is closed once the sync loop has exited. If Connect never
// succeeded, the channel stays open until Close is called.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) finish() {
	c.doneOnce.Do(func() { close(c.done) })
}

// Draw creates a shape optimistically and sends the draw intent. An empty
// id is filled in so the echo merges instead of duplicating.
func (c *Client) Draw(shape model.Shape) (string, error) {
	if shape.ID == "" {
		shape.ID = uuid.New().String()
	}
	if err := shape.Validate(); err != nil {
		return "", err
	}

	c.state.AddLocal(shape)
	err := c.send(canvas.IntentDraw, canvas.DrawPayload{Shape: shape})
	return shape.ID, err
}

// UpdateShape replaces a shape optimistically and sends the update intent.
func (c *Client) UpdateShape(shapeID string, shape model.Shape) error {
	if err := shape.Validate(); err != nil {
		return err
	}

	c.state.UpdateLocal(shapeID, shape)
	return c.send(canvas.IntentUpdate, canvas.UpdatePayload{ShapeID: shapeID, Shape: shape})
}

// Clear wipes the replica optimistically and sends the clear intent.
func (c *Client) Clear() error {
	c.state.ClearLocal()
	return c.send(canvas.IntentClear, nil)
}

// UpdateSettings sends a settings patch. Only the owner's patch is
// accepted; the authoritative settings come back as an event.
func (c *Client) UpdateSettings(patch canvas.SettingsPatch) error {
	return c.send(canvas.IntentUpdateSettings, patch)
}

// ApproveAccess resolves a pending access request (owner only).
func (c *Client) ApproveAccess(requestID string, approved bool) error {
	return c.send(canvas.IntentApproveAccess, canvas.ApproveAccessPayload{
		RequestID: requestID,
		Approved:  approved,
	})
}

// Ping sends a keepalive; the server answers with pong.
func (c *Client) Ping() error {
	return c.send(canvas.IntentPing, nil)
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	u.Path = "/ws/canvas/" + c.cfg.CanvasID
	q := u.Query()
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial canvas %s: %w", c.cfg.CanvasID, err)
	}
	return conn, nil
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Client) send(intentType string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()

	if closed || conn == nil {
		return fmt.Errorf("not connected")
	}

	msg := struct {
		Type    string `json:"type"`
		Payload any    `json:"payload,omitempty"`
	}{Type: intentType, Payload: payload}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	// gorilla allows one concurrent writer; the lock covers the whole frame.
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// run reads events until the connection drops, then redials.
func (c *Client) run(ctx context.Context, conn *websocket.Conn) {
	defer c.finish()

	backoff := initialBackoff
	for {
		c.readLoop(conn)

		if ctx.Err() != nil {
			return
		}
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return
		}

		log.Printf("canvas %s: connection lost, redialing in %v", c.cfg.CanvasID, backoff)
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < maxBackoff {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}

		next, err := c.dial(ctx)
		if err != nil {
			continue
		}
		backoff = initialBackoff
		c.setConn(next)
		conn = next
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			return
		}

		var msg canvas.WireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		evtType := canvas.EventType(msg.Type)
		if err := c.state.Apply(evtType, msg.Payload); err != nil {
			log.Printf("canvas %s: dropped malformed %s event: %v", c.cfg.CanvasID, msg.Type, err)
			continue
		}

		if c.cfg.OnEvent != nil {
			c.cfg.OnEvent(evtType, msg.Payload)
		}
	}
}
