// Package store persists users, conversations and messages. The real-time
// layer consumes it only through the ConversationStore interface; the REST
// handlers use the wider Store.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound   = errors.New("record not found")
	ErrEmailTaken = errors.New("email already registered")
	ErrEmptyBody  = errors.New("message body is empty")
)

// Participant roles mirror the two sides of a support conversation.
const (
	RoleCustomer = "customer"
	RoleAgent    = "agent"
)

type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Conversation struct {
	ID         string    `json:"id"`
	BusinessID string    `json:"businessId"`
	Type       string    `json:"type"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Participant struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// Message is the canonical persisted record fanned out to subscribers.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"createdAt"`
}

// ConversationStore is the persistence surface the message router depends on.
type ConversationStore interface {
	CreateMessage(ctx context.Context, conversationID, senderID, body string) (*Message, error)
	ListParticipants(ctx context.Context, conversationID string) ([]Participant, error)
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)
}

// Store is the full persistence surface, including what the REST routes need.
type Store interface {
	ConversationStore

	CreateUser(ctx context.Context, name, email, passwordHash string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)

	// FindOrCreateDirectConversation returns the existing direct conversation
	// between the customer and the business, creating it (with the customer
	// as participant) when none exists.
	FindOrCreateDirectConversation(ctx context.Context, customerID, businessID string) (*Conversation, error)
	ListConversations(ctx context.Context, userID, businessID string) ([]Conversation, error)
	AddParticipant(ctx context.Context, conversationID, userID, role string) error
	ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)

	Close() error
}
