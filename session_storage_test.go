package alumni_test

import (
	"testing"
	"time"

	alumni "github.com/goliatone/go-alumni"
	"github.com/stretchr/testify/assert"
)

func TestMemoryStorageIsolatesSessions(t *testing.T) {
	storage := alumni.NewMemoryStorage(time.Hour)

	storage.Storage("a").Set("k", "1")
	storage.Storage("b").Set("k", "2")

	v, ok := storage.Storage("a").Get("k")
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	v, _ = storage.Storage("b").Get("k")
	assert.Equal(t, "2", v)
	assert.Equal(t, 2, storage.Len())

	kv := storage.Storage("a")
	kv.Remove("k")
	_, ok = kv.Get("k")
	assert.False(t, ok)

	kv.Set("x", "y")
	kv.Clear()
	_, ok = kv.Get("x")
	assert.False(t, ok)
}

func TestMemoryStorageSweep(t *testing.T) {
	storage := alumni.NewMemoryStorage(time.Nanosecond)
	storage.Storage("idle").Set("k", "v")

	time.Sleep(2 * time.Millisecond)
	assert.Equal(t, 1, storage.Sweep())
	assert.Equal(t, 0, storage.Len())

	_, ok := storage.Storage("idle").Get("k")
	assert.False(t, ok)
}

func TestMemoryStorageKeepsActiveSessions(t *testing.T) {
	storage := alumni.NewMemoryStorage(time.Hour)
	storage.Storage("active")
	assert.Equal(t, 0, storage.Sweep())
	assert.Equal(t, 1, storage.Len())
}
