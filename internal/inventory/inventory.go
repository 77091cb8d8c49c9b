// Package inventory tracks user item holdings. Draws and successful
// upgrades add item instances; upgrade attempts consume them.
// Implementations include PostgreSQL and in-memory (for testing).
package inventory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sebastianusacom/banana-cases-sub000/internal/model"
)

// ErrItemNotOwned is returned when the referenced item instance does not
// exist in the user's holdings.
var ErrItemNotOwned = errors.New("inventory: item instance not owned by user")

// Store is the holdings persistence interface. Instance removal is atomic:
// two concurrent consumers of one instance cannot both succeed.
type Store interface {
	// Add creates a new owned instance of the item.
	Add(ctx context.Context, userID string, item model.Item) (model.OwnedItem, error)

	// Remove consumes one instance, returning it. ErrItemNotOwned if the
	// instance does not exist (or was already consumed).
	Remove(ctx context.Context, userID, instanceID string) (model.OwnedItem, error)

	// List returns the user's holdings, newest first.
	List(ctx context.Context, userID string) ([]model.OwnedItem, error)
}

// MemoryStore implements Store with in-memory maps. For testing and
// development.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]map[string]model.OwnedItem // userID -> instanceID -> item
}

// NewMemoryStore creates an empty in-memory inventory.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]map[string]model.OwnedItem)}
}

func (s *MemoryStore) Add(_ context.Context, userID string, item model.Item) (model.OwnedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned := model.OwnedItem{
		InstanceID: uuid.New().String(),
		ItemID:     item.ID,
		Value:      item.Value,
		AcquiredAt: time.Now().UTC(),
	}
	if s.items[userID] == nil {
		s.items[userID] = make(map[string]model.OwnedItem)
	}
	s.items[userID][owned.InstanceID] = owned
	return owned, nil
}

func (s *MemoryStore) Remove(_ context.Context, userID, instanceID string) (model.OwnedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owned, ok := s.items[userID][instanceID]
	if !ok {
		return model.OwnedItem{}, ErrItemNotOwned
	}
	delete(s.items[userID], instanceID)
	return owned, nil
}

func (s *MemoryStore) List(_ context.Context, userID string) ([]model.OwnedItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.OwnedItem, 0, len(s.items[userID]))
	for _, it := range s.items[userID] {
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AcquiredAt.After(out[j].AcquiredAt) })
	return out, nil
}
