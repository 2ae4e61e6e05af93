package local

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/goliatone/go-alumni/baas"
	"github.com/google/uuid"
)

// subscriberBufferSize is the pending change buffer for each subscriber.
const subscriberBufferSize = 64

var _ baas.Realtime = (*Broker)(nil)

// ChangeRelay forwards locally published changes to other processes.
type ChangeRelay interface {
	Forward(ctx context.Context, change baas.Change) error
}

// Broker fans table changes out to in-process subscribers. Each subscriber
// gets a buffered channel drained by its own goroutine; changes are dropped
// for subscribers whose buffer is full.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]*subscriber // table -> subID -> subscriber
	relay       ChangeRelay
	logger      *slog.Logger
}

type subscriber struct {
	types   map[baas.ChangeType]struct{}
	ch      chan baas.Change
	done    chan struct{}
	once    sync.Once
	handler baas.ChangeHandler
}

// NewBroker creates a broker. Pass nil logger for default.
func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subscribers: make(map[string]map[string]*subscriber),
		logger:      logger.With("component", "realtime"),
	}
}

// WithRelay sets a relay that receives every locally published change.
func (b *Broker) WithRelay(relay ChangeRelay) *Broker {
	b.relay = relay
	return b
}

// Subscribe registers handler for the given change types on table. The
// subscription is released when Close is called or ctx is cancelled.
func (b *Broker) Subscribe(ctx context.Context, table string, types []baas.ChangeType, handler baas.ChangeHandler) (baas.Subscription, error) {
	if len(types) == 0 {
		types = baas.AllChanges
	}

	sub := &subscriber{
		types:   make(map[baas.ChangeType]struct{}, len(types)),
		ch:      make(chan baas.Change, subscriberBufferSize),
		done:    make(chan struct{}),
		handler: handler,
	}
	for _, t := range types {
		sub.types[t] = struct{}{}
	}

	subID := uuid.NewString()

	b.mu.Lock()
	if _, ok := b.subscribers[table]; !ok {
		b.subscribers[table] = make(map[string]*subscriber)
	}
	b.subscribers[table][subID] = sub
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "table", table, "sub_id", subID)

	go sub.run()

	go func() {
		select {
		case <-ctx.Done():
			b.unsubscribe(table, subID)
		case <-sub.done:
		}
	}()

	return baas.SubscriptionFunc(func() error {
		b.unsubscribe(table, subID)
		return nil
	}), nil
}

// Publish delivers change to local subscribers and to the relay, if any.
func (b *Broker) Publish(ctx context.Context, change baas.Change) {
	b.Deliver(change)

	if b.relay != nil {
		if err := b.relay.Forward(ctx, change); err != nil {
			b.logger.Warn("realtime relay forward failed", "table", change.Table, "error", err)
		}
	}
}

// Deliver hands change to local subscribers only. Relays call this for
// changes received from other processes.
func (b *Broker) Deliver(change baas.Change) {
	if change.OccurredAt.IsZero() {
		change.OccurredAt = time.Now()
	}

	b.mu.RLock()
	subs := b.subscribers[change.Table]
	targets := make([]*subscriber, 0, len(subs))
	for _, s := range subs {
		if _, ok := s.types[change.Type]; ok {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case <-s.done:
		case s.ch <- change:
		default:
			b.logger.Debug("dropped change for slow subscriber", "table", change.Table, "type", change.Type)
		}
	}
}

// SubscriberCount reports live subscribers for table.
func (b *Broker) SubscriberCount(table string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[table])
}

func (b *Broker) unsubscribe(table, subID string) {
	b.mu.Lock()
	subs, ok := b.subscribers[table]
	if !ok {
		b.mu.Unlock()
		return
	}
	sub, exists := subs[subID]
	if exists {
		delete(subs, subID)
	}
	if len(subs) == 0 {
		delete(b.subscribers, table)
	}
	b.mu.Unlock()

	if exists {
		sub.stop()
		b.logger.Debug("subscriber removed", "table", table, "sub_id", subID)
	}
}

func (s *subscriber) run() {
	for {
		select {
		case <-s.done:
			return
		case change := <-s.ch:
			if s.handler != nil {
				s.handler(change)
			}
		}
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}
