package client

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitDone(t *testing.T, c *Client) {
	t.Helper()
	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done was not closed")
	}
}

func TestCloseWithoutConnectReleasesDone(t *testing.T) {
	c := New(Config{BaseURL: "ws://localhost:8080", CanvasID: "canvas-1", Token: "t"})

	require.NoError(t, c.Close())
	waitDone(t, c)
}

func TestFailedConnectThenCloseReleasesDone(t *testing.T) {
	c := New(Config{BaseURL: "://not-a-url", CanvasID: "canvas-1", Token: "t"})

	err := c.Connect(context.Background())
	require.Error(t, err)

	require.NoError(t, c.Close())
	waitDone(t, c)
}

func TestSendWhileDisconnected(t *testing.T) {
	c := New(Config{BaseURL: "ws://localhost:8080", CanvasID: "canvas-1", Token: "t"})

	_, err := c.Draw(localPen("s1"))
	assert.Error(t, err, "intents need a live connection")
	assert.Equal(t, 1, c.State().ShapeCount(),
		"the optimistic edit stays; the next snapshot reconciles it")
}

func TestConnectAfterClose(t *testing.T) {
	c := New(Config{BaseURL: "ws://localhost:8080", CanvasID: "canvas-1", Token: "t"})
	require.NoError(t, c.Close())

	err := c.Connect(context.Background())
	assert.Error(t, err)
}

func TestCloseTwice(t *testing.T) {
	c := New(Config{BaseURL: "ws://localhost:8080", CanvasID: "canvas-1", Token: "t"})
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	waitDone(t, c)
}
