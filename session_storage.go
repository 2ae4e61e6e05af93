package alumni

import (
	"sync"
	"time"

	"github.com/goliatone/go-alumni/baas"
)

// SessionStorage hands out the KeyValue store of a browser session, keyed by
// the opaque id carried in the session cookie.
type SessionStorage interface {
	Storage(id string) baas.KeyValue
}

// MemoryStorage keeps session key values in process. Entries idle for longer
// than the TTL are dropped by Sweep.
type MemoryStorage struct {
	mu      sync.Mutex
	entries map[string]*memoryKV
	ttl     time.Duration
	now     func() time.Time
}

var _ SessionStorage = (*MemoryStorage)(nil)

// NewMemoryStorage returns an empty MemoryStorage.
func NewMemoryStorage(ttl time.Duration) *MemoryStorage {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStorage{
		entries: map[string]*memoryKV{},
		ttl:     ttl,
		now:     time.Now,
	}
}

// Storage returns the store for id, creating it on first use.
func (m *MemoryStorage) Storage(id string) baas.KeyValue {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[id]
	if !ok {
		entry = &memoryKV{values: map[string]string{}, now: m.now}
		m.entries[id] = entry
	}
	entry.touch()
	return entry
}

// Sweep drops idle entries and reports how many were removed.
func (m *MemoryStorage) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := m.now().Add(-m.ttl)
	removed := 0
	for id, entry := range m.entries {
		if entry.lastUsed().Before(cutoff) {
			delete(m.entries, id)
			removed++
		}
	}
	return removed
}

// Len reports the number of live sessions.
func (m *MemoryStorage) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type memoryKV struct {
	mu     sync.RWMutex
	values map[string]string
	used   time.Time
	now    func() time.Time
}

func (kv *memoryKV) Get(key string) (string, bool) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	v, ok := kv.values[key]
	return v, ok
}

func (kv *memoryKV) Set(key, value string) {
	kv.mu.Lock()
	kv.values[key] = value
	kv.mu.Unlock()
	kv.touch()
}

func (kv *memoryKV) Remove(key string) {
	kv.mu.Lock()
	delete(kv.values, key)
	kv.mu.Unlock()
}

func (kv *memoryKV) Clear() {
	kv.mu.Lock()
	kv.values = map[string]string{}
	kv.mu.Unlock()
}

func (kv *memoryKV) touch() {
	kv.mu.Lock()
	kv.used = kv.now()
	kv.mu.Unlock()
}

func (kv *memoryKV) lastUsed() time.Time {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	return kv.used
}
