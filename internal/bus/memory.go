package bus

import (
	"context"
	"sync"
)

// MemoryHub connects in-process Bus instances, one per simulated server
// process. Used by tests and single-process deployments.
type MemoryHub struct {
	mu      sync.Mutex
	members []*MemoryBus
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{}
}

// Attach creates a bus joined to the hub.
func (h *MemoryHub) Attach() *MemoryBus {
	h.mu.Lock()
	defer h.mu.Unlock()
	b := &MemoryBus{hub: h}
	h.members = append(h.members, b)
	return b
}

type MemoryBus struct {
	hub *MemoryHub

	mu      sync.Mutex
	deliver DeliverFunc
	closed  bool
}

var _ Bus = (*MemoryBus)(nil)

func (b *MemoryBus) Publish(ctx context.Context, conversationID string, frame []byte) error {
	b.hub.mu.Lock()
	members := make([]*MemoryBus, len(b.hub.members))
	copy(members, b.hub.members)
	b.hub.mu.Unlock()

	for _, m := range members {
		if m == b {
			continue // never deliver a publish back to its origin
		}
		m.mu.Lock()
		deliver := m.deliver
		closed := m.closed
		m.mu.Unlock()
		if deliver != nil && !closed {
			deliver(conversationID, frame)
		}
	}
	return nil
}

func (b *MemoryBus) Run(ctx context.Context, deliver DeliverFunc) error {
	b.mu.Lock()
	b.deliver = deliver
	b.mu.Unlock()

	<-ctx.Done()
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}
