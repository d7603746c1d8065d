package resume

import (
	"context"
	"sync"
	"time"

	"github.com/quaydock/lighter"
)

// Memory is a process-local SessionStore. Sessions do not survive a restart,
// which is fine for tests and for callers that never asked for durability.
type Memory struct {
	mu      sync.RWMutex
	records map[lighter.SessionKey]lighter.SessionRecord
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{records: make(map[lighter.SessionKey]lighter.SessionRecord)}
}

func (m *Memory) Get(ctx context.Context, key lighter.SessionKey) (*lighter.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	return &record, nil
}

func (m *Memory) Put(ctx context.Context, record lighter.SessionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	record.UpdatedAt = time.Now().UTC()
	m.records[record.Key] = record
	return nil
}

func (m *Memory) Delete(ctx context.Context, key lighter.SessionKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, key)
	return nil
}

func (m *Memory) ListOlderThan(ctx context.Context, age time.Duration) ([]lighter.SessionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	cutoff := time.Now().Add(-age)
	var stale []lighter.SessionRecord
	for _, record := range m.records {
		if record.UpdatedAt.Before(cutoff) {
			stale = append(stale, record)
		}
	}
	return stale, nil
}

func (m *Memory) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-age)
	var removed int64
	for key, record := range m.records {
		if record.UpdatedAt.Before(cutoff) {
			delete(m.records, key)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Close() error {
	return nil
}
