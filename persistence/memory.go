package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/ragflow/types"
)

// MemoryStore is an in-memory MessageLog for development and tests.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]types.ConversationRecord
	messages      map[string][]types.MessageRecord
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]types.ConversationRecord),
		messages:      make(map[string][]types.MessageRecord),
	}
}

func (s *MemoryStore) SaveMessage(ctx context.Context, record *types.MessageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	s.messages[record.ConversationID] = append(s.messages[record.ConversationID], *record)
	return nil
}

func (s *MemoryStore) LoadMessages(ctx context.Context, conversationID string) ([]types.MessageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.messages[conversationID]
	out := make([]types.MessageRecord, len(records))
	copy(out, records)
	return out, nil
}

func (s *MemoryStore) CreateConversation(ctx context.Context, record *types.ConversationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ConversationID == "" {
		record.ConversationID = uuid.NewString()
	}
	now := time.Now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	s.conversations[record.ConversationID] = *record
	return nil
}

func (s *MemoryStore) GetConversation(ctx context.Context, conversationID string) (*types.ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.conversations[conversationID]
	if !ok {
		return nil, ErrConversationNotFound
	}
	out := record
	return &out, nil
}

func (s *MemoryStore) ListConversations(ctx context.Context, userID string) ([]types.ConversationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.ConversationRecord
	for _, record := range s.conversations {
		if record.UserID == userID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out, nil
}

func (s *MemoryStore) UpdateConversationTitle(ctx context.Context, conversationID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	record.Title = title
	record.UpdatedAt = time.Now()
	s.conversations[conversationID] = record
	return nil
}

func (s *MemoryStore) TouchConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}
	record.UpdatedAt = time.Now()
	s.conversations[conversationID] = record
	return nil
}

func (s *MemoryStore) DeleteConversation(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.conversations, conversationID)
	delete(s.messages, conversationID)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
