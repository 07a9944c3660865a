package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"proyektor/internal/models"
)

// StorageKey is the local-storage key holding the persisted snapshot.
const StorageKey = "presentationState"

// ErrNotFound is returned by Storage.GetItem for a missing key.
var ErrNotFound = errors.New("storage: key not found")

// ErrCorrupt is returned by Load when the snapshot cannot be parsed.
var ErrCorrupt = errors.New("storage: unreadable snapshot")

// Storage is a local-storage style key/value store.
type Storage interface {
	GetItem(ctx context.Context, key string) ([]byte, error)
	SetItem(ctx context.Context, key string, value []byte) error
}

// Remover is implemented by storages that can delete a key.
type Remover interface {
	RemoveItem(ctx context.Context, key string) error
}

// Discard deletes the persisted snapshot. It reports false when the storage
// cannot delete keys.
func Discard(ctx context.Context, storage Storage) (bool, error) {
	r, ok := storage.(Remover)
	if !ok {
		return false, nil
	}
	if err := r.RemoveItem(ctx, StorageKey); err != nil {
		return false, fmt.Errorf("failed to discard state: %w", err)
	}
	return true, nil
}

// Save overwrites the persisted snapshot.
func Save(ctx context.Context, storage Storage, st State) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := storage.SetItem(ctx, StorageKey, data); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// Load reads the persisted snapshot. A missing snapshot yields Initial()
// and ok=false.
func Load(ctx context.Context, storage Storage) (st State, ok bool, err error) {
	data, err := storage.GetItem(ctx, StorageKey)
	if errors.Is(err, ErrNotFound) {
		return Initial(), false, nil
	}
	if err != nil {
		return Initial(), false, fmt.Errorf("failed to read state: %w", err)
	}

	st = Initial()
	if err := json.Unmarshal(data, &st); err != nil {
		return Initial(), false, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if st.ContentHistory == nil {
		st.ContentHistory = []models.Content{}
	}
	return st, true, nil
}

// MemoryStorage keeps items in a map.
type MemoryStorage struct {
	mu    sync.RWMutex
	items map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{items: make(map[string][]byte)}
}

func (m *MemoryStorage) GetItem(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *MemoryStorage) SetItem(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryStorage) RemoveItem(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.items, key)
	return nil
}
