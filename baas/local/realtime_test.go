package local

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goliatone/go-alumni/baas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relayFunc func(ctx context.Context, change baas.Change) error

func (f relayFunc) Forward(ctx context.Context, change baas.Change) error { return f(ctx, change) }

func TestBrokerFiltersByType(t *testing.T) {
	b := NewBroker(nil)
	ctx := context.Background()

	var updates atomic.Int32
	sub, err := b.Subscribe(ctx, "profiles", []baas.ChangeType{baas.ChangeUpdate}, func(c baas.Change) {
		updates.Add(1)
	})
	require.NoError(t, err)
	defer sub.Close()

	b.Publish(ctx, baas.Change{Table: "profiles", Type: baas.ChangeInsert})
	b.Publish(ctx, baas.Change{Table: "profiles", Type: baas.ChangeUpdate})
	b.Publish(ctx, baas.Change{Table: "other", Type: baas.ChangeUpdate})

	require.Eventually(t, func() bool { return updates.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), updates.Load())
}

func TestBrokerCloseAndCancel(t *testing.T) {
	b := NewBroker(nil)

	sub, err := b.Subscribe(context.Background(), "profiles", nil, func(baas.Change) {})
	require.NoError(t, err)
	assert.Equal(t, 1, b.SubscriberCount("profiles"))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, 0, b.SubscriberCount("profiles"))

	ctx, cancel := context.WithCancel(context.Background())
	_, err = b.Subscribe(ctx, "profiles", nil, func(baas.Change) {})
	require.NoError(t, err)
	assert.Equal(t, 1, b.SubscriberCount("profiles"))

	cancel()
	require.Eventually(t, func() bool { return b.SubscriberCount("profiles") == 0 }, time.Second, 5*time.Millisecond)
}

func TestBrokerRelay(t *testing.T) {
	var forwarded atomic.Int32
	b := NewBroker(nil).WithRelay(relayFunc(func(_ context.Context, c baas.Change) error {
		forwarded.Add(1)
		return nil
	}))

	b.Publish(context.Background(), baas.Change{Table: "profiles", Type: baas.ChangeDelete})
	b.Deliver(baas.Change{Table: "profiles", Type: baas.ChangeDelete})

	assert.Equal(t, int32(1), forwarded.Load())
}
