package store

import (
	"context"
	"sync"

	"crosstalk/internal/domain"
)

// MemoryStore is the in-process ConversationStore used when no database is
// configured and in tests. Same full-replace semantics as SQLiteStore.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[storeKey][]domain.Message
}

type storeKey struct {
	projectID string
	provider  string
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: make(map[storeKey][]domain.Message)}
}

// Load implements domain.ConversationStore.
func (m *MemoryStore) Load(ctx context.Context, projectID, provider string) ([]domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := m.conversations[storeKey{projectID, provider}]
	out := make([]domain.Message, len(stored))
	copy(out, stored)
	return out, nil
}

// Save implements domain.ConversationStore. The slice is copied so later
// caller mutations cannot corrupt the stored log.
func (m *MemoryStore) Save(ctx context.Context, projectID, provider string, messages []domain.Message) error {
	stored := make([]domain.Message, len(messages))
	copy(stored, messages)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conversations[storeKey{projectID, provider}] = stored
	return nil
}

// Clear implements domain.ConversationStore.
func (m *MemoryStore) Clear(ctx context.Context, projectID, provider string) (int64, error) {
	key := storeKey{projectID, provider}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.conversations[key]))
	delete(m.conversations, key)
	return n, nil
}

var _ domain.ConversationStore = (*MemoryStore)(nil)
