package cache

import (
	"context"
	"time"

	"mp4bot/internal/sync_"
)

type memoryEntry struct {
	entry     *Entry
	expiresAt time.Time
}

// Memory is an in-process Cache used for redis-less runs and tests. Expiry
// is checked lazily on read against an injectable clock.
type Memory struct {
	entries *sync_.Mutexed[map[string]memoryEntry]
	now     func() time.Time
}

func NewMemory() *Memory {
	return NewMemoryWithClock(time.Now)
}

func NewMemoryWithClock(now func() time.Time) *Memory {
	return &Memory{
		entries: sync_.NewMutexed(make(map[string]memoryEntry)),
		now:     now,
	}
}

var _ Cache = &Memory{}

func (m *Memory) Get(ctx context.Context, key string) (entry *Entry, err error) {
	err = m.entries.Locked(func(entries map[string]memoryEntry) error {
		e, ok := entries[key]
		if !ok {
			return nil
		}
		if !m.now().Before(e.expiresAt) {
			delete(entries, key)
			return nil
		}
		entry = e.entry
		return nil
	})
	return entry, err
}

func (m *Memory) Put(ctx context.Context, key string, entry *Entry, ttl time.Duration) error {
	return m.entries.Locked(func(entries map[string]memoryEntry) error {
		entries[key] = memoryEntry{
			entry:     entry,
			expiresAt: m.now().Add(ttl),
		}
		return nil
	})
}
