package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"securechat/internal/clock"
	"securechat/internal/domain"
)

func newTestStore() (*MemoryStore, *clock.Fake) {
	clk := clock.NewFake(time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC))
	return NewMemoryStore(clk), clk
}

func TestMemoryStore_FindOrCreateConcurrentSamePair(t *testing.T) {
	store, _ := newTestStore()
	convs := store.Conversations()

	const n = 50
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "u1", "u2"
			if i%2 == 0 {
				a, b = b, a
			}
			conv, err := convs.FindOrCreate(context.Background(), a, b, false)
			if err != nil {
				t.Errorf("find or create: %v", err)
				return
			}
			ids[i] = conv.ID
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("expected a single conversation id, got %q and %q", ids[0], ids[i])
		}
	}
	list, _ := convs.ListByUser(context.Background(), "u1")
	if len(list) != 1 {
		t.Fatalf("expected one conversation, got %d", len(list))
	}
}

func TestMemoryStore_AssistantConversationIsDistinct(t *testing.T) {
	store, _ := newTestStore()
	convs := store.Conversations()

	human, _ := convs.FindOrCreate(context.Background(), "u1", "ai", false)
	assistant, _ := convs.FindOrCreate(context.Background(), "u1", "ai", true)
	if human.ID == assistant.ID {
		t.Fatalf("expected assistant flag to qualify the pair")
	}
	if !assistant.IsAIConversation || human.IsAIConversation {
		t.Fatalf("unexpected flags: human=%v assistant=%v", human.IsAIConversation, assistant.IsAIConversation)
	}
}

func TestMemoryStore_CreateUpdatesConversationPointer(t *testing.T) {
	store, clk := newTestStore()
	ctx := context.Background()
	conv, _ := store.Conversations().FindOrCreate(ctx, "u1", "u2", false)

	clk.Advance(time.Minute)
	msg, err := store.Messages().Create(ctx, domain.Message{
		ConversationID: conv.ID,
		SenderID:       "u1",
		RecipientID:    "u2",
		Content:        "blob",
		IsEncrypted:    true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if msg.ID == "" || !msg.CreatedAt.Equal(clk.Now()) {
		t.Fatalf("expected id and created_at assigned, got %+v", msg)
	}

	updated, _ := store.Conversations().GetByID(ctx, conv.ID)
	if updated.LastMessageID != msg.ID || !updated.UpdatedAt.Equal(msg.CreatedAt) {
		t.Fatalf("conversation pointer not updated: %+v", updated)
	}
}

func TestMemoryStore_CreateWithUnknownConversationLeavesNoMessage(t *testing.T) {
	store, _ := newTestStore()
	_, err := store.Messages().Create(context.Background(), domain.Message{ConversationID: "missing"})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected ErrStorage, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("expected no partial message, got %d", store.Len())
	}
}

func TestMemoryStore_MarkReadOnlyRecipient(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	conv, _ := store.Conversations().FindOrCreate(ctx, "u1", "u2", false)
	msg, _ := store.Messages().Create(ctx, domain.Message{ConversationID: conv.ID, SenderID: "u1", RecipientID: "u2"})

	ok, err := store.Messages().MarkRead(ctx, msg.ID, "u1")
	if err != nil || ok {
		t.Fatalf("sender must not mark read, got %v %v", ok, err)
	}
	got, _ := store.Messages().GetByID(ctx, msg.ID)
	if got.IsRead {
		t.Fatalf("is_read flipped by non recipient")
	}

	ok, err = store.Messages().MarkRead(ctx, msg.ID, "u2")
	if err != nil || !ok {
		t.Fatalf("recipient mark read failed: %v %v", ok, err)
	}
	got, _ = store.Messages().GetByID(ctx, msg.ID)
	if !got.IsRead {
		t.Fatalf("expected is_read true")
	}

	if ok, _ := store.Messages().MarkRead(ctx, "missing", "u2"); ok {
		t.Fatalf("missing message must not be marked")
	}
}

func TestMemoryStore_DeleteIsIdempotent(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	conv, _ := store.Conversations().FindOrCreate(ctx, "u1", "u2", false)
	msg, _ := store.Messages().Create(ctx, domain.Message{ConversationID: conv.ID, SenderID: "u1", RecipientID: "u2"})

	ok, err := store.Messages().Delete(ctx, msg.ID)
	if err != nil || !ok {
		t.Fatalf("first delete: %v %v", ok, err)
	}
	ok, err = store.Messages().Delete(ctx, msg.ID)
	if err != nil || ok {
		t.Fatalf("second delete should be false,nil; got %v %v", ok, err)
	}
	if _, err := store.Messages().GetByID(ctx, msg.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ListBetweenOrderSinceAndExpiry(t *testing.T) {
	store, clk := newTestStore()
	ctx := context.Background()
	conv, _ := store.Conversations().FindOrCreate(ctx, "u1", "u2", false)
	other, _ := store.Conversations().FindOrCreate(ctx, "u1", "u3", false)

	first, _ := store.Messages().Create(ctx, domain.Message{ConversationID: conv.ID, SenderID: "u1", RecipientID: "u2", Content: "1"})
	clk.Advance(time.Second)
	ephemeral := domain.Message{ConversationID: conv.ID, SenderID: "u2", RecipientID: "u1", Content: "2", CreatedAt: clk.Now()}
	ephemeral.SetLifetime(30 * time.Second)
	ephemeral, _ = store.Messages().Create(ctx, ephemeral)
	clk.Advance(time.Second)
	third, _ := store.Messages().Create(ctx, domain.Message{ConversationID: conv.ID, SenderID: "u1", RecipientID: "u2", Content: "3"})
	_, _ = store.Messages().Create(ctx, domain.Message{ConversationID: other.ID, SenderID: "u1", RecipientID: "u3", Content: "x"})

	list, err := store.Messages().ListBetween(ctx, "u2", "u1", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].ID != first.ID || list[1].ID != ephemeral.ID || list[2].ID != third.ID {
		t.Fatalf("unexpected order: %+v", list)
	}

	since := first.CreatedAt
	list, _ = store.Messages().ListBetween(ctx, "u1", "u2", &since)
	if len(list) != 2 || list[0].ID != ephemeral.ID {
		t.Fatalf("since filter failed: %+v", list)
	}

	clk.Advance(30 * time.Second)
	list, _ = store.Messages().ListBetween(ctx, "u1", "u2", nil)
	if len(list) != 2 {
		t.Fatalf("expired message must not be listed, got %d", len(list))
	}
	if _, err := store.Messages().GetByID(ctx, ephemeral.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expired message must not be retrievable, got %v", err)
	}

	n, err := store.Messages().PurgeExpired(ctx, clk.Now())
	if err != nil || n != 1 {
		t.Fatalf("expected one purged row, got %d %v", n, err)
	}
	if store.Len() != 3 {
		t.Fatalf("expected 3 rows left, got %d", store.Len())
	}
}

func TestMemoryStore_EnsureAssistantIsIdempotent(t *testing.T) {
	store, _ := newTestStore()
	ctx := context.Background()
	a, err := store.Users().EnsureAssistant(ctx, "ai@example.com", "AI Assistant")
	if err != nil {
		t.Fatalf("ensure assistant: %v", err)
	}
	b, _ := store.Users().EnsureAssistant(ctx, "ai@example.com", "AI Assistant")
	if a.ID != b.ID || !a.IsAI {
		t.Fatalf("expected same assistant user, got %+v %+v", a, b)
	}
	got, err := store.Users().GetByID(ctx, a.ID)
	if err != nil || got.Email != "ai@example.com" {
		t.Fatalf("get user: %+v %v", got, err)
	}
}

func TestPgRepositories_UseInjectedClock(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	conv := NewPgConversationRepository(nil, clk)
	if !conv.clock.Now().Equal(clk.Now()) {
		t.Fatalf("conversation repo should stamp with the injected clock, got %v", conv.clock.Now())
	}
	msgs := NewPgMessageRepository(nil, clk)
	if !msgs.clock.Now().Equal(clk.Now()) {
		t.Fatalf("message repo should stamp with the injected clock, got %v", msgs.clock.Now())
	}
	if _, ok := NewPgConversationRepository(nil, nil).clock.(clock.Real); !ok {
		t.Fatalf("expected real clock fallback when none is injected")
	}
}
