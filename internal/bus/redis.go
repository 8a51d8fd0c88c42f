package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// envelope wraps published frames with the originating process ID so a
// process can skip its own publishes coming back over the pattern
// subscription (Redis echoes publishes to the publisher's subscribers).
type envelope struct {
	Origin string          `json:"origin"`
	Frame  json.RawMessage `json:"frame"`
}

type RedisBus struct {
	client   *redis.Client
	instance string
	logger   *slog.Logger

	pubsub *redis.PubSub
}

func NewRedisBus(client *redis.Client, logger *slog.Logger) *RedisBus {
	return &RedisBus{
		client:   client,
		instance: uuid.NewString(),
		logger:   logger.With(slog.String("component", "bus_redis")),
	}
}

var _ Bus = (*RedisBus)(nil)

func (b *RedisBus) Publish(ctx context.Context, conversationID string, frame []byte) error {
	payload, err := json.Marshal(envelope{Origin: b.instance, Frame: frame})
	if err != nil {
		return fmt.Errorf("marshal bus envelope: %w", err)
	}
	if err := b.client.Publish(ctx, ChannelPrefix+conversationID, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s%s: %w", ChannelPrefix, conversationID, err)
	}
	return nil
}

func (b *RedisBus) Run(ctx context.Context, deliver DeliverFunc) error {
	b.pubsub = b.client.PSubscribe(ctx, ChannelPrefix+"*")
	// Force the subscription before reporting ready.
	if _, err := b.pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe to conversation channels: %w", err)
	}
	b.logger.Info("Subscribed to broadcast channels", slog.String("pattern", ChannelPrefix+"*"))

	ch := b.pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				b.logger.Warn("Dropping undecodable bus payload", slog.String("channel", msg.Channel), slog.Any("error", err))
				continue
			}
			if env.Origin == b.instance {
				continue // our own publish echoed back
			}
			conversationID := strings.TrimPrefix(msg.Channel, ChannelPrefix)
			deliver(conversationID, env.Frame)
		}
	}
}

func (b *RedisBus) Close() error {
	if b.pubsub != nil {
		return b.pubsub.Close()
	}
	return nil
}
