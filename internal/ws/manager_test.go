package ws

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectionManager_SendToOfflineUser(t *testing.T) {
	m := NewConnectionManager(zerolog.Nop())
	assert.False(t, m.SendToUser("nobody", []byte("hello")))
}

func TestConnectionManager_RegisterAndSend(t *testing.T) {
	m := NewConnectionManager(zerolog.Nop())
	client := &Client{UserID: "user-1", send: make(chan []byte, 2)}

	m.RegisterClient(client)

	// Registration completes asynchronously in the manager loop.
	require.Eventually(t, func() bool {
		return m.SendToUser("user-1", []byte("first"))
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, []byte("first"), <-client.send)
}

func TestConnectionManager_FullQueueDropsMessage(t *testing.T) {
	m := NewConnectionManager(zerolog.Nop())
	client := &Client{UserID: "user-1", send: make(chan []byte, 1)}

	m.RegisterClient(client)
	require.Eventually(t, func() bool {
		return m.SendToUser("user-1", []byte("first"))
	}, time.Second, 5*time.Millisecond)

	// The queue now holds one undrained message; the next send must not block.
	assert.False(t, m.SendToUser("user-1", []byte("second")))
}

func TestConnectionManager_UnregisterStopsDelivery(t *testing.T) {
	m := NewConnectionManager(zerolog.Nop())
	client := &Client{UserID: "user-1", send: make(chan []byte, 1)}

	m.RegisterClient(client)
	require.Eventually(t, func() bool {
		return m.SendToUser("user-1", []byte("first"))
	}, time.Second, 5*time.Millisecond)
	<-client.send

	m.UnregisterClient(client)
	require.Eventually(t, func() bool {
		return !m.SendToUser("user-1", []byte("late"))
	}, time.Second, 5*time.Millisecond)
}

func TestConnectionManager_ReplacementSurvivesOldUnregister(t *testing.T) {
	m := NewConnectionManager(zerolog.Nop())
	first := &Client{UserID: "user-1", send: make(chan []byte, 2)}
	second := &Client{UserID: "user-1", send: make(chan []byte, 2)}

	m.RegisterClient(first)
	require.Eventually(t, func() bool {
		return m.SendToUser("user-1", []byte("hello"))
	}, time.Second, 5*time.Millisecond)
	<-first.send

	// The reconnect replaces the first connection, whose read loop then
	// unregisters itself on the way out.
	m.RegisterClient(second)
	select {
	case _, open := <-first.send:
		require.False(t, open, "the replaced connection's channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("the replaced connection was never closed")
	}
	m.UnregisterClient(first)

	// The replacement must still receive messages afterwards.
	require.Eventually(t, func() bool {
		return m.SendToUser("user-1", []byte("after reconnect"))
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []byte("after reconnect"), <-second.send)
}

func TestConnectionManager_ConcurrentSendAndReplace(t *testing.T) {
	m := NewConnectionManager(zerolog.Nop())

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
				m.SendToUser("user-1", []byte("event"))
			}
		}
	}()

	// Each registration closes the previous client's send channel while the
	// sender goroutine keeps hammering the same user.
	for i := 0; i < 500; i++ {
		m.RegisterClient(&Client{UserID: "user-1", send: make(chan []byte, 1)})
	}

	close(stop)
	<-done
}
