// Package router validates and dispatches inbound client events, invokes
// persistence, and fans results out to local subscribers and to the
// broadcast bus.
package router

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/servihub/chatd/internal/bus"
	"github.com/servihub/chatd/internal/notify"
	"github.com/servihub/chatd/internal/ratelimit"
	"github.com/servihub/chatd/internal/store"
	"github.com/servihub/chatd/internal/wire"
	"github.com/servihub/chatd/pkg/state"
)

const notifyPreviewRunes = 80

type EventRouter struct {
	logger   *slog.Logger
	registry state.Manager
	limiter  *ratelimit.Limiter
	store    store.ConversationStore
	bus      bus.Bus
	notifier notify.Notifier
}

func NewEventRouter(
	logger *slog.Logger,
	registry state.Manager,
	limiter *ratelimit.Limiter,
	convStore store.ConversationStore,
	eventBus bus.Bus,
	notifier notify.Notifier,
) *EventRouter {
	return &EventRouter{
		logger:   logger.With(slog.String("component", "event_router")),
		registry: registry,
		limiter:  limiter,
		store:    convStore,
		bus:      eventBus,
		notifier: notifier,
	}
}

// HandleFrame processes one inbound frame from an admitted connection.
// Frames for a single connection arrive here sequentially, so per-connection
// ordering is the transport's arrival order.
func (r *EventRouter) HandleFrame(ctx context.Context, connID uuid.UUID, raw []byte) {
	conn, ok := r.registry.GetConnection(connID)
	if !ok {
		// connection closed between read and dispatch
		return
	}

	var frame wire.Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		r.logger.Warn("Failed to unmarshal client frame", slog.String("connID", connID.String()), slog.Any("error", err))
		conn.Transport.Send(wire.ErrorFrame(wire.ErrMalformedFrame))
		return
	}

	switch frame.Type {
	case wire.TypeJoin:
		r.handleJoin(ctx, conn, frame.Payload)
	case wire.TypeTyping:
		r.handleTyping(ctx, conn, frame.Payload)
	case wire.TypeMessage:
		r.handleMessage(ctx, conn, frame.Payload)
	default:
		r.logger.Warn("Received unknown frame type", slog.String("type", frame.Type), slog.String("connID", connID.String()))
		conn.Transport.Send(wire.ErrorFrame(wire.ErrMalformedFrame))
	}
}

func (r *EventRouter) handleJoin(ctx context.Context, conn *state.Connection, payload json.RawMessage) {
	var p wire.JoinPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ConversationID == "" {
		conn.Transport.Send(wire.ErrorFrame(wire.ErrMalformedFrame))
		return
	}

	// Membership authority is the store, not the payload: the authenticated
	// identity must be a participant of the conversation.
	member, err := r.store.IsParticipant(ctx, p.ConversationID, conn.User.ID)
	if err != nil {
		r.logger.Error("Membership query failed", slog.String("conversationID", p.ConversationID), slog.Any("error", err))
		conn.Transport.Send(wire.ErrorFrame(wire.ErrPersistenceFailure))
		return
	}
	if !member {
		conn.Transport.Send(wire.ErrorFrame(wire.ErrNotAMember))
		return
	}

	if err := r.registry.Subscribe(conn.ID, p.ConversationID); err != nil {
		r.logger.Error("Subscribe failed", slog.String("connID", conn.ID.String()), slog.Any("error", err))
		return
	}
	r.logger.Debug("Connection joined conversation",
		slog.String("connID", conn.ID.String()),
		slog.String("userID", conn.User.ID),
		slog.String("conversationID", p.ConversationID),
	)
}

// handleTyping relays a typing signal to the conversation, excluding every
// connection of the sender. The server never expires typing state on its
// own: clients are required to follow up with isTyping:false on a timer.
func (r *EventRouter) handleTyping(ctx context.Context, conn *state.Connection, payload json.RawMessage) {
	var p wire.TypingPayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ConversationID == "" {
		conn.Transport.Send(wire.ErrorFrame(wire.ErrMalformedFrame))
		return
	}

	if !r.limiter.Allow(ctx, conn.User.ID) {
		conn.Transport.Send(wire.ErrorFrame(wire.ErrThrottled))
		return
	}

	// Sender fields come from the authenticated identity, never the payload.
	out, err := wire.Marshal(wire.TypeTyping, wire.TypingPayload{
		ConversationID: p.ConversationID,
		SenderID:       conn.User.ID,
		SenderLabel:    conn.User.Label,
		IsTyping:       p.IsTyping,
	})
	if err != nil {
		return
	}

	r.fanOutLocal(p.ConversationID, conn.User.ID, out)
	r.publish(ctx, p.ConversationID, out)
}

func (r *EventRouter) handleMessage(ctx context.Context, conn *state.Connection, payload json.RawMessage) {
	var p wire.MessagePayload
	if err := json.Unmarshal(payload, &p); err != nil || p.ConversationID == "" || p.Body == "" {
		conn.Transport.Send(wire.ErrorFrame(wire.ErrMalformedFrame))
		return
	}

	if !r.limiter.Allow(ctx, conn.User.ID) {
		conn.Transport.Send(wire.ErrorFrame(wire.ErrThrottled))
		return
	}

	member, err := r.store.IsParticipant(ctx, p.ConversationID, conn.User.ID)
	if err != nil {
		r.logger.Error("Membership query failed", slog.String("conversationID", p.ConversationID), slog.Any("error", err))
		conn.Transport.Send(wire.ErrorFrame(wire.ErrPersistenceFailure))
		return
	}
	if !member {
		conn.Transport.Send(wire.ErrorFrame(wire.ErrNotAMember))
		return
	}

	// The store assigns id and timestamp; the canonical record is what fans
	// out, not the client's payload.
	record, err := r.store.CreateMessage(ctx, p.ConversationID, conn.User.ID, p.Body)
	if err != nil {
		r.logger.Error("Message persistence failed",
			slog.String("conversationID", p.ConversationID),
			slog.String("senderID", conn.User.ID),
			slog.Any("error", err),
		)
		conn.Transport.Send(wire.ErrorFrame(wire.ErrPersistenceFailure))
		return
	}

	out, err := wire.Marshal(wire.TypeMessage, record)
	if err != nil {
		return
	}

	r.fanOutLocal(p.ConversationID, conn.User.ID, out)
	r.publish(ctx, p.ConversationID, out)
	r.notifyOffline(p.ConversationID, record)
}

// DeliverRemote fans a remotely-originated frame out to local subscribers,
// exactly as a local event would be delivered: the sender's own connections
// (which may exist on this process too) are excluded. Remote frames are
// never re-published.
func (r *EventRouter) DeliverRemote(conversationID string, frame []byte) {
	senderID := gjson.GetBytes(frame, "payload.senderId").String()
	r.fanOutLocal(conversationID, senderID, frame)
}

func (r *EventRouter) fanOutLocal(conversationID, excludeUserID string, frame []byte) {
	subs := r.registry.SubscribersOf(conversationID)
	for _, sub := range subs {
		if sub.User.ID == excludeUserID {
			continue
		}
		sub.Transport.Send(frame)
	}
	r.logger.Debug("Fanned out frame",
		slog.String("conversationID", conversationID),
		slog.Int("subscribers", len(subs)),
	)
}

// publish re-broadcasts a locally-originated frame to other processes.
// Publish failure is logged and swallowed: local delivery already happened
// and is never sacrificed for remote propagation.
func (r *EventRouter) publish(ctx context.Context, conversationID string, frame []byte) {
	if err := r.bus.Publish(ctx, conversationID, frame); err != nil {
		r.logger.Error("Bus publish failed", slog.String("conversationID", conversationID), slog.Any("error", err))
	}
}

// notifyOffline pings the offline-notification collaborator for every
// participant with no live connection on this process. Fire-and-forget.
func (r *EventRouter) notifyOffline(conversationID string, record *store.Message) {
	participants, err := r.store.ListParticipants(context.Background(), conversationID)
	if err != nil {
		r.logger.Warn("Could not list participants for offline notification", slog.Any("error", err))
		return
	}

	preview := record.Body
	if runes := []rune(preview); len(runes) > notifyPreviewRunes {
		preview = string(runes[:notifyPreviewRunes])
	}

	for _, p := range participants {
		if p.UserID == record.SenderID || r.registry.IsUserOnline(p.UserID) {
			continue
		}
		userID := p.UserID
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.notifier.Notify(ctx, userID, preview); err != nil {
				r.logger.Warn("Offline notification failed", slog.String("userID", userID), slog.Any("error", err))
			}
		}()
	}
}
