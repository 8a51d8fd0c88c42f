package state

import (
	"time"

	"github.com/google/uuid"
	"github.com/servihub/chatd/pkg/transport"
)

// representation of a single transport-layer connection after admission.
type Connection struct {
	ID        uuid.UUID
	IPAddress string
	Transport transport.Conn // The actual connection for sending frames
	User      *User          // The owning identity; set at registration
	CreatedAt time.Time

	// Conversations this connection has joined, keyed by conversation ID.
	Subscriptions map[string]*Conversation
}

// canonical representation of an authenticated identity, aggregating all of
// its simultaneous connections (multi-device).
type User struct {
	ID          string
	Label       string                    // display name carried on typing events
	Connections map[uuid.UUID]*Connection // All active connections for this user
}

// a conversation as seen by the registry: the set of locally connected
// subscribers. Membership authority lives in the store, not here.
type Conversation struct {
	ID          string
	Subscribers map[uuid.UUID]*Connection
}
