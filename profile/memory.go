package profile

import (
	"context"
	"fmt"
	"sync"

	"github.com/tbxark/jobfill/types"
)

// MemoryStore keeps profiles in process, for tests and local usage.
type MemoryStore struct {
	mu       sync.RWMutex
	profiles map[string]types.ProfileNode
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{profiles: make(map[string]types.ProfileNode)}
}

// Put replaces the whole profile of userID.
func (m *MemoryStore) Put(ctx context.Context, userID string, doc types.ProfileNode) error {
	cloned, err := clone(doc)
	if err != nil {
		return fmt.Errorf("profile: copy %s: %w", userID, err)
	}
	m.mu.Lock()
	m.profiles[userID] = cloned
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Load(ctx context.Context) (types.ProfileNode, error) {
	userID := userIDOrDefault(ctx)
	m.mu.RLock()
	doc, ok := m.profiles[userID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, userID)
	}
	return clone(doc)
}

func (m *MemoryStore) Write(ctx context.Context, path string, value any) error {
	userID := userIDOrDefault(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := ApplyWrite(m.profiles[userID], path, value)
	if err != nil {
		return err
	}
	m.profiles[userID] = next
	return nil
}
