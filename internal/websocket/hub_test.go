package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"bioinsight-be/internal/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_SendReachesSessionClientsOnly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(nil, logger.NewNopLogger())
	go hub.Run(ctx)

	mine := &Client{Hub: hub, SessionID: "s1", Send: make(chan []byte, 4)}
	other := &Client{Hub: hub, SessionID: "s2", Send: make(chan []byte, 4)}
	hub.register <- mine
	hub.register <- other
	require.Eventually(t, func() bool { return hub.Connected("s1") == 1 && hub.Connected("s2") == 1 }, time.Second, 5*time.Millisecond)

	hub.Send(Frame{Type: FrameResult, SessionID: "s1", Data: map[string]string{"response": "hi"}})

	select {
	case data := <-mine.Send:
		var f Frame
		require.NoError(t, json.Unmarshal(data, &f))
		assert.Equal(t, FrameResult, f.Type)
		assert.Equal(t, "s1", f.SessionID)
	case <-time.After(time.Second):
		t.Fatal("frame not delivered")
	}
	assert.Empty(t, other.Send)
}

func TestHub_UnregisterClosesSend(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(nil, logger.NewNopLogger())
	go hub.Run(ctx)

	c := &Client{Hub: hub, SessionID: "s1", Send: make(chan []byte, 1)}
	hub.register <- c
	hub.unregister <- c

	require.Eventually(t, func() bool { return hub.Connected("s1") == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-c.Send
	assert.False(t, open)
}

func TestHub_LeaveAfterStopDoesNotBlock(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(nil, logger.NewNopLogger())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	left := make(chan struct{})
	go func() {
		hub.leave(&Client{Hub: hub, SessionID: "s1", Send: make(chan []byte)})
		close(left)
	}()
	select {
	case <-left:
	case <-time.After(time.Second):
		t.Fatal("leave blocked on a stopped hub")
	}
}
