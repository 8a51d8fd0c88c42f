// Package bus bridges server processes: locally-originated conversation
// events are republished to every other process, and remotely-originated
// events are handed to the local delivery path. Implementations are injected
// as constructed dependencies with an explicit lifecycle so tests can
// substitute the in-memory variant.
package bus

import "context"

// ChannelPrefix is the broadcast channel namespace; one channel per
// conversation, pattern-subscribed as ChannelPrefix + "*".
const ChannelPrefix = "chat:conversation:"

// DeliverFunc hands a remotely-originated frame to local fan-out. It must
// never re-publish the frame, or two processes would bounce events forever.
type DeliverFunc func(conversationID string, frame []byte)

type Bus interface {
	// Publish sends a locally-originated frame to every other process
	// subscribed to the conversation's channel.
	Publish(ctx context.Context, conversationID string, frame []byte) error

	// Run subscribes to the conversation channel pattern and invokes deliver
	// for each remote frame until ctx is cancelled. Frames this process
	// published are not delivered back to it.
	Run(ctx context.Context, deliver DeliverFunc) error

	Close() error
}
