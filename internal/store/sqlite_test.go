package store_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/servihub/chatd/internal/store"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestStore(t *testing.T) store.Store {
	t.Helper()
	s, err := store.OpenSQLite(filepath.Join(t.TempDir(), "chatd_test.db"), newTestLogger())
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUserRoundtrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	u, err := s.CreateUser(ctx, "Ada", "ada@example.com", "hash")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if u.ID == "" {
		t.Error("created user has no ID")
	}

	got, err := s.UserByEmail(ctx, "ada@example.com")
	if err != nil {
		t.Fatalf("UserByEmail failed: %v", err)
	}
	if got.ID != u.ID || got.Name != "Ada" || got.PasswordHash != "hash" {
		t.Errorf("UserByEmail returned %+v, want the created user", got)
	}

	if _, err := s.CreateUser(ctx, "Ada2", "ada@example.com", "hash2"); !errors.Is(err, store.ErrEmailTaken) {
		t.Errorf("duplicate email should return ErrEmailTaken, got %v", err)
	}
	if _, err := s.UserByEmail(ctx, "nobody@example.com"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("unknown email should return ErrNotFound, got %v", err)
	}
}

func TestFindOrCreateDirectConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	c1, err := s.FindOrCreateDirectConversation(ctx, "cust-1", "biz-1")
	if err != nil {
		t.Fatalf("FindOrCreateDirectConversation failed: %v", err)
	}
	c2, err := s.FindOrCreateDirectConversation(ctx, "cust-1", "biz-1")
	if err != nil {
		t.Fatalf("second FindOrCreateDirectConversation failed: %v", err)
	}
	if c1.ID != c2.ID {
		t.Errorf("same customer/business pair should reuse the conversation: %s vs %s", c1.ID, c2.ID)
	}

	ok, err := s.IsParticipant(ctx, c1.ID, "cust-1")
	if err != nil {
		t.Fatalf("IsParticipant failed: %v", err)
	}
	if !ok {
		t.Error("customer should be a participant of the created conversation")
	}
	ok, _ = s.IsParticipant(ctx, c1.ID, "stranger")
	if ok {
		t.Error("stranger should not be a participant")
	}
}

func TestParticipantsAndMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv, err := s.FindOrCreateDirectConversation(ctx, "cust-1", "biz-1")
	if err != nil {
		t.Fatalf("FindOrCreateDirectConversation failed: %v", err)
	}
	if err := s.AddParticipant(ctx, conv.ID, "agent-1", store.RoleAgent); err != nil {
		t.Fatalf("AddParticipant failed: %v", err)
	}
	// re-adding the same participant is a no-op
	if err := s.AddParticipant(ctx, conv.ID, "agent-1", store.RoleAgent); err != nil {
		t.Fatalf("re-AddParticipant failed: %v", err)
	}

	parts, err := s.ListParticipants(ctx, conv.ID)
	if err != nil {
		t.Fatalf("ListParticipants failed: %v", err)
	}
	if len(parts) != 2 {
		t.Fatalf("ListParticipants returned %d, want 2", len(parts))
	}

	m, err := s.CreateMessage(ctx, conv.ID, "cust-1", "hello there")
	if err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}
	if m.ID == "" || m.CreatedAt.IsZero() {
		t.Error("canonical message record missing id or timestamp")
	}

	if _, err := s.CreateMessage(ctx, conv.ID, "cust-1", "   "); !errors.Is(err, store.ErrEmptyBody) {
		t.Errorf("blank body should return ErrEmptyBody, got %v", err)
	}

	msgs, err := s.ListMessages(ctx, conv.ID, 10)
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Body != "hello there" {
		t.Errorf("ListMessages returned %+v", msgs)
	}
}

func TestListConversationsFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.FindOrCreateDirectConversation(ctx, "cust-1", "biz-1")
	s.FindOrCreateDirectConversation(ctx, "cust-2", "biz-1")
	s.FindOrCreateDirectConversation(ctx, "cust-1", "biz-2")

	byUser, err := s.ListConversations(ctx, "cust-1", "")
	if err != nil {
		t.Fatalf("ListConversations by user failed: %v", err)
	}
	if len(byUser) != 2 {
		t.Errorf("cust-1 should see 2 conversations, got %d", len(byUser))
	}

	byBusiness, err := s.ListConversations(ctx, "", "biz-1")
	if err != nil {
		t.Fatalf("ListConversations by business failed: %v", err)
	}
	if len(byBusiness) != 2 {
		t.Errorf("biz-1 should have 2 conversations, got %d", len(byBusiness))
	}

	both, err := s.ListConversations(ctx, "cust-1", "biz-2")
	if err != nil {
		t.Fatalf("ListConversations by both failed: %v", err)
	}
	if len(both) != 1 {
		t.Errorf("cust-1@biz-2 should match 1 conversation, got %d", len(both))
	}
}
