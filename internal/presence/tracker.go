// Package presence derives online/offline state per identity from registry
// occupancy. State here is a pure function of completed register/unregister
// calls; nothing sets presence directly.
package presence

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/servihub/chatd/internal/wire"
	"github.com/servihub/chatd/pkg/state"
	"github.com/servihub/chatd/pkg/transport"
)

// Tracker is process-local: a late joiner reconstructs presence from this
// process's view only. Cross-process presence would need a shared counter
// store and is deliberately out of scope.
type Tracker struct {
	mu     sync.Mutex
	counts map[string]int

	registry state.Manager
	logger   *slog.Logger
}

func NewTracker(registry state.Manager, logger *slog.Logger) *Tracker {
	return &Tracker{
		counts:   make(map[string]int),
		registry: registry,
		logger:   logger.With(slog.String("component", "presence_tracker")),
	}
}

// OnRegister records a new connection for userID. The first connection
// flips the identity online and broadcasts exactly one presence frame to
// every local connection.
func (t *Tracker) OnRegister(userID string, connID uuid.UUID) {
	t.mu.Lock()
	t.counts[userID]++
	wentOnline := t.counts[userID] == 1
	t.mu.Unlock()

	if wentOnline {
		t.logger.Debug("User came online", slog.String("userID", userID), slog.String("connID", connID.String()))
		t.broadcast(userID, true)
	}
}

// OnUnregister records a closed connection for userID. Removing the last
// connection flips the identity offline and broadcasts exactly one presence
// frame.
func (t *Tracker) OnUnregister(userID string, connID uuid.UUID) {
	t.mu.Lock()
	count, ok := t.counts[userID]
	if !ok {
		// unknown identity; tolerate stray unregister
		t.mu.Unlock()
		return
	}
	count--
	wentOffline := count == 0
	if wentOffline {
		delete(t.counts, userID)
	} else {
		t.counts[userID] = count
	}
	t.mu.Unlock()

	if wentOffline {
		t.logger.Debug("User went offline", slog.String("userID", userID), slog.String("connID", connID.String()))
		t.broadcast(userID, false)
	}
}

// Snapshot returns the current identity -> online mapping.
func (t *Tracker) Snapshot() map[string]bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := make(map[string]bool, len(t.counts))
	for userID := range t.counts {
		snap[userID] = true
	}
	return snap
}

// SendSnapshot sends the full current presence state to one connection, so
// a freshly admitted client does not have to wait for future transitions.
func (t *Tracker) SendSnapshot(conn transport.Conn) {
	for userID := range t.Snapshot() {
		frame, err := wire.Marshal(wire.TypePresence, wire.PresencePayload{UserID: userID, Online: true})
		if err != nil {
			continue
		}
		conn.Send(frame)
	}
}

func (t *Tracker) broadcast(userID string, online bool) {
	frame, err := wire.Marshal(wire.TypePresence, wire.PresencePayload{UserID: userID, Online: online})
	if err != nil {
		t.logger.Error("Failed to marshal presence frame", slog.Any("error", err))
		return
	}
	for _, conn := range t.registry.AllConnections() {
		conn.Send(frame)
	}
}
