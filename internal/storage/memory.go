package storage

import (
	"context"
	"fmt"
	"strconv"
	"sync"
)

// MemoryStore is a process-local store used for ephemeral sessions and
// tests. It satisfies the same interfaces as SQLiteStorage.
type MemoryStore struct {
	mu       sync.RWMutex
	secrets  map[string]string
	settings map[string]string
}

var (
	_ SecureStore   = (*MemoryStore)(nil)
	_ SettingsStore = (*MemoryStore)(nil)
	_ Transactor    = (*MemoryStore)(nil)
)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		secrets:  make(map[string]string),
		settings: make(map[string]string),
	}
}

func (m *MemoryStore) GetSecret(_ context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.secrets[key]
	return v, ok, nil
}

func (m *MemoryStore) SetSecret(ctx context.Context, key, value string) error {
	return m.Update(ctx, func(b Batch) error { return b.SetSecret(key, value) })
}

func (m *MemoryStore) RemoveSecret(ctx context.Context, key string) error {
	return m.Update(ctx, func(b Batch) error { return b.RemoveSecret(key) })
}

func (m *MemoryStore) GetString(_ context.Context, key string) (string, bool, error) {
	if err := validateKey(key); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.settings[key]
	return v, ok, nil
}

func (m *MemoryStore) SetString(ctx context.Context, key, value string) error {
	return m.Update(ctx, func(b Batch) error { return b.SetString(key, value) })
}

func (m *MemoryStore) GetNumber(ctx context.Context, key string) (int64, bool, error) {
	v, ok, err := m.GetString(ctx, key)
	if err != nil || !ok {
		return 0, ok, err
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("setting %s is not a number: %w", key, err)
	}
	return n, true, nil
}

func (m *MemoryStore) SetNumber(ctx context.Context, key string, value int64) error {
	return m.Update(ctx, func(b Batch) error { return b.SetNumber(key, value) })
}

func (m *MemoryStore) RemoveSetting(ctx context.Context, key string) error {
	return m.Update(ctx, func(b Batch) error { return b.RemoveSetting(key) })
}

// Update applies fn atomically. Writes are staged and only become visible
// when fn returns nil.
func (m *MemoryStore) Update(ctx context.Context, fn func(Batch) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b := &memoryBatch{}
	if err := fn(b); err != nil {
		return err
	}
	for _, op := range b.ops {
		op(m)
	}
	return nil
}

// Len reports how many secrets and settings are held.
func (m *MemoryStore) Len() (secrets, settings int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.secrets), len(m.settings)
}

type memoryBatch struct {
	ops []func(*MemoryStore)
}

func (b *memoryBatch) SetSecret(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	b.ops = append(b.ops, func(m *MemoryStore) { m.secrets[key] = value })
	return nil
}

func (b *memoryBatch) RemoveSecret(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	b.ops = append(b.ops, func(m *MemoryStore) { delete(m.secrets, key) })
	return nil
}

func (b *memoryBatch) SetString(key, value string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	b.ops = append(b.ops, func(m *MemoryStore) { m.settings[key] = value })
	return nil
}

func (b *memoryBatch) SetNumber(key string, value int64) error {
	return b.SetString(key, strconv.FormatInt(value, 10))
}

func (b *memoryBatch) RemoveSetting(key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	b.ops = append(b.ops, func(m *MemoryStore) { delete(m.settings, key) })
	return nil
}
