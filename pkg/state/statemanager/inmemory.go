package statemanager

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/servihub/chatd/pkg/state"
	"github.com/servihub/chatd/pkg/transport"
)

// InMemoryManager keeps the whole registry behind one RWMutex so that
// Deregister can clear a connection's user linkage and every conversation
// subscription in a single critical section. No caller ever sees a
// half-removed connection.
type InMemoryManager struct {
	mu    sync.RWMutex
	conns map[uuid.UUID]*state.Connection
	users map[string]*state.User
	convs map[string]*state.Conversation

	logger *slog.Logger
}

func NewInMemoryManager(logger *slog.Logger) *InMemoryManager {
	return &InMemoryManager{
		conns:  make(map[uuid.UUID]*state.Connection),
		users:  make(map[string]*state.User),
		convs:  make(map[string]*state.Conversation),
		logger: logger.With(slog.String("component", "state_manager_inmemory")),
	}
}

// compile-time check to ensure InMemoryManager implements Manager.
var _ state.Manager = (*InMemoryManager)(nil)

func (m *InMemoryManager) Register(conn transport.Conn, ipAddr, userID, userLabel string) (*state.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	connID := conn.ID()
	if _, exists := m.conns[connID]; exists {
		return nil, errors.New("connection is already registered")
	}

	user, exists := m.users[userID]
	if !exists {
		user = &state.User{
			ID:          userID,
			Label:       userLabel,
			Connections: make(map[uuid.UUID]*state.Connection),
		}
		m.users[userID] = user
	}
	if userLabel != "" {
		user.Label = userLabel
	}

	newConn := &state.Connection{
		ID:            connID,
		IPAddress:     ipAddr,
		Transport:     conn,
		User:          user,
		CreatedAt:     time.Now(),
		Subscriptions: make(map[string]*state.Conversation),
	}
	m.conns[connID] = newConn
	user.Connections[connID] = newConn

	m.logger.Debug("Connection registered", slog.String("connID", connID.String()), slog.String("userID", userID))
	return newConn, nil
}

func (m *InMemoryManager) Deregister(connID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		// already deregistered; double-unregister is a no-op
		return nil
	}
	delete(m.conns, connID)

	for convID, conv := range conn.Subscriptions {
		delete(conv.Subscribers, connID)
		if len(conv.Subscribers) == 0 {
			delete(m.convs, convID)
			m.logger.Debug("Removed empty conversation", slog.String("conversationID", convID))
		}
	}
	conn.Subscriptions = nil

	user := conn.User
	delete(user.Connections, connID)
	if len(user.Connections) == 0 {
		delete(m.users, user.ID)
	}

	m.logger.Debug("Connection deregistered", slog.String("connID", connID.String()), slog.String("userID", user.ID))
	return nil
}

func (m *InMemoryManager) GetConnection(connID uuid.UUID) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connID]
	return conn, ok
}

func (m *InMemoryManager) FindOldestUserConnection(userID string) (*state.Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return nil, false
	}

	var oldestConn *state.Connection
	for _, conn := range user.Connections {
		if oldestConn == nil || conn.CreatedAt.Before(oldestConn.CreatedAt) {
			oldestConn = conn
		}
	}
	if oldestConn == nil {
		return nil, false
	}
	return oldestConn, true
}

func (m *InMemoryManager) ConnectionsOf(userID string) []transport.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return nil
	}
	conns := make([]transport.Conn, 0, len(user.Connections))
	for _, c := range user.Connections {
		conns = append(conns, c.Transport)
	}
	return conns
}

func (m *InMemoryManager) ConnectionCount(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[userID]
	if !ok {
		return 0
	}
	return len(user.Connections)
}

func (m *InMemoryManager) IsUserOnline(userID string) bool {
	return m.ConnectionCount(userID) > 0
}

func (m *InMemoryManager) AllConnections() []transport.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conns := make([]transport.Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c.Transport)
	}
	return conns
}

func (m *InMemoryManager) Subscribe(connID uuid.UUID, conversationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.conns[connID]
	if !ok {
		return errors.New("cannot subscribe unknown connection")
	}

	// Re-joining an already joined conversation is a no-op.
	if _, joined := conn.Subscriptions[conversationID]; joined {
		return nil
	}

	conv, exists := m.convs[conversationID]
	if !exists {
		conv = &state.Conversation{
			ID:          conversationID,
			Subscribers: make(map[uuid.UUID]*state.Connection),
		}
		m.convs[conversationID] = conv
	}

	conv.Subscribers[connID] = conn
	conn.Subscriptions[conversationID] = conv

	m.logger.Debug("Connection subscribed to conversation",
		slog.String("connID", connID.String()),
		slog.String("conversationID", conversationID),
	)
	return nil
}

func (m *InMemoryManager) SubscribersOf(conversationID string) []*state.Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conv, ok := m.convs[conversationID]
	if !ok {
		return nil
	}
	subs := make([]*state.Connection, 0, len(conv.Subscribers))
	for _, c := range conv.Subscribers {
		subs = append(subs, c)
	}
	return subs
}
