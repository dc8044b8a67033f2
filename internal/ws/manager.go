package ws

import (
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Client is one WebSocket connection bound to a user.
type Client struct {
	UserID string
	Conn   *websocket.Conn
	send   chan []byte
}

// ConnectionManager tracks active WebSocket connections, one per user. A new
// connection for a user replaces the previous one.
type ConnectionManager struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     zerolog.Logger
}

// NewConnectionManager creates and starts the manager loop.
func NewConnectionManager(logger zerolog.Logger) *ConnectionManager {
	m := &ConnectionManager{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With().Str("component", "ConnectionManager").Logger(),
	}
	go m.run()
	return m
}

func (m *ConnectionManager) run() {
	m.logger.Info().Msg("ConnectionManager started")
	for {
		select {
		case client := <-m.register:
			m.logger.Info().Str("userID", client.UserID).Msg("Registering client")
			m.mu.Lock()
			if oldClient, ok := m.clients[client.UserID]; ok {
				m.logger.Info().Str("userID", client.UserID).Msg("Closing previous connection")
				close(oldClient.send)
				if oldClient.Conn != nil {
					_ = oldClient.Conn.Close()
				}
			}
			m.clients[client.UserID] = client
			m.mu.Unlock()

		case client := <-m.unregister:
			// Compared by identity, not user ID: the dying readPump of a
			// replaced connection must not tear down its replacement.
			m.mu.Lock()
			if current, ok := m.clients[client.UserID]; ok && current == client {
				m.logger.Info().Str("userID", client.UserID).Msg("Unregistering client")
				delete(m.clients, client.UserID)
				close(client.send)
			}
			m.mu.Unlock()
		}
	}
}

// RegisterClient registers a new client connection.
func (m *ConnectionManager) RegisterClient(client *Client) {
	m.register <- client
}

// UnregisterClient removes the given client. A no-op when the client has
// already been replaced by a newer connection for the same user.
func (m *ConnectionManager) UnregisterClient(client *Client) {
	m.unregister <- client
}

// SendToUser queues a message for one user. Returns false when the user is
// offline or their send queue is full; the caller treats both as a no-op.
func (m *ConnectionManager) SendToUser(userID string, message []byte) bool {
	// The read lock is held across the send: the run loop closes send
	// channels under the write lock, so a client found in the map here
	// cannot have its channel closed before the send attempt finishes.
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, ok := m.clients[userID]
	if !ok {
		m.logger.Debug().Str("userID", userID).Msg("User offline, dropping message")
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		m.logger.Warn().Str("userID", userID).Msg("Send queue full or client disconnecting, dropping message")
		return false
	}
}
