package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"securechat/internal/clock"
	"securechat/internal/domain"
)

// MemoryStore implementa los repositorios en memoria. Se usa cuando no hay
// DATABASE_URL configurada y en tests. Un único mutex serializa todas las
// escrituras, lo que hace atómicos FindOrCreate y Create.
type MemoryStore struct {
	mu            sync.Mutex
	clock         clock.Clock
	conversations map[string]domain.Conversation
	pairs         map[pairKey]string
	messages      map[string]domain.Message
	users         map[string]domain.User
}

type pairKey struct {
	low, high string
	isAI      bool
}

func NewMemoryStore(clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.Real{}
	}
	return &MemoryStore{
		clock:         clk,
		conversations: make(map[string]domain.Conversation),
		pairs:         make(map[pairKey]string),
		messages:      make(map[string]domain.Message),
		users:         make(map[string]domain.User),
	}
}

type (
	memoryConversations struct{ *MemoryStore }
	memoryMessages      struct{ *MemoryStore }
	memoryUsers         struct{ *MemoryStore }
)

// Conversations devuelve la vista ConversationRepository del store.
func (s *MemoryStore) Conversations() ConversationRepository { return memoryConversations{s} }

// Messages devuelve la vista MessageRepository del store.
func (s *MemoryStore) Messages() MessageRepository { return memoryMessages{s} }

// Users devuelve la vista UserRepository del store.
func (s *MemoryStore) Users() UserRepository { return memoryUsers{s} }

func (s memoryConversations) FindOrCreate(_ context.Context, userA, userB string, isAI bool) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	low, high := domain.NormalizePair(userA, userB)
	key := pairKey{low: low, high: high, isAI: isAI}
	if id, ok := s.pairs[key]; ok {
		return s.conversations[id], nil
	}
	now := s.clock.Now()
	conv := domain.Conversation{
		ID:               uuid.NewString(),
		Participants:     [2]string{low, high},
		IsAIConversation: isAI,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.conversations[conv.ID] = conv
	s.pairs[key] = conv.ID
	return conv, nil
}

func (s memoryConversations) GetByID(_ context.Context, id string) (domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.conversations[id]
	if !ok {
		return domain.Conversation{}, ErrNotFound
	}
	return conv, nil
}

func (s memoryConversations) ListByUser(_ context.Context, userID string) ([]domain.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []domain.Conversation{}
	for _, conv := range s.conversations {
		if conv.HasParticipant(userID) {
			out = append(out, conv)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s memoryMessages) Create(_ context.Context, message domain.Message) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[message.ConversationID]
	if !ok {
		return domain.Message{}, storageErr("update conversation pointer", ErrNotFound)
	}
	if message.ID == "" {
		message.ID = uuid.NewString()
	}
	if message.CreatedAt.IsZero() {
		message.CreatedAt = s.clock.Now()
	}
	s.messages[message.ID] = message
	conv.LastMessageID = message.ID
	conv.UpdatedAt = message.CreatedAt
	s.conversations[conv.ID] = conv
	return message, nil
}

func (s memoryMessages) GetByID(_ context.Context, id string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok || msg.ExpiredAt(s.clock.Now()) {
		return domain.Message{}, ErrNotFound
	}
	return msg, nil
}

func (s memoryMessages) MarkRead(_ context.Context, messageID, readerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[messageID]
	if !ok || msg.RecipientID != readerID || msg.ExpiredAt(s.clock.Now()) {
		return false, nil
	}
	msg.IsRead = true
	s.messages[messageID] = msg
	return true, nil
}

func (s memoryMessages) Delete(_ context.Context, messageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[messageID]; !ok {
		return false, nil
	}
	delete(s.messages, messageID)
	return true, nil
}

func (s memoryMessages) ListBetween(_ context.Context, userA, userB string, since *time.Time) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	out := []domain.Message{}
	for _, msg := range s.messages {
		between := (msg.SenderID == userA && msg.RecipientID == userB) ||
			(msg.SenderID == userB && msg.RecipientID == userA)
		if !between || msg.ExpiredAt(now) {
			continue
		}
		if since != nil && !msg.CreatedAt.After(*since) {
			continue
		}
		out = append(out, msg)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s memoryMessages) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, msg := range s.messages {
		if msg.ExpiredAt(now) {
			delete(s.messages, id)
			n++
		}
	}
	return n, nil
}

// Len devuelve el número de mensajes almacenados, incluidos los vencidos aún no purgados.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s memoryUsers) GetByID(_ context.Context, id string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, ErrNotFound
	}
	return u, nil
}

func (s memoryUsers) EnsureAssistant(_ context.Context, email, displayName string) (domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	u := domain.User{
		ID:          uuid.NewString(),
		Email:       email,
		DisplayName: displayName,
		IsAI:        true,
		CreatedAt:   s.clock.Now(),
	}
	s.users[u.ID] = u
	return u, nil
}
