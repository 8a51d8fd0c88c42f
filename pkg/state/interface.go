package state

import (
	"github.com/google/uuid"
	"github.com/servihub/chatd/pkg/transport"
)

// Manager is the connection registry: the single authority over which
// connections are live, which identity owns each, and which conversations
// each has joined. Implementations must make every operation safe under
// unbounded concurrent calls from independent connection goroutines.
type Manager interface {
	// --- Connection Lifecycle ---
	Register(conn transport.Conn, ipAddr, userID, userLabel string) (*Connection, error)
	// Deregister atomically removes the connection from every conversation
	// it joined and from its identity's connection set. Idempotent.
	Deregister(connID uuid.UUID) error
	GetConnection(connID uuid.UUID) (*Connection, bool)
	FindOldestUserConnection(userID string) (*Connection, bool)

	// --- Identity views ---
	ConnectionsOf(userID string) []transport.Conn
	ConnectionCount(userID string) int
	IsUserOnline(userID string) bool
	AllConnections() []transport.Conn

	// --- Conversation membership ---
	Subscribe(connID uuid.UUID, conversationID string) error
	SubscribersOf(conversationID string) []*Connection
}
