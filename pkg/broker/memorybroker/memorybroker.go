// Package memorybroker implements pkg/broker.Broker in-process, for the
// single-process-with-internal-concurrency deployment option (design notes
// §9 option a) and for tests.
package memorybroker

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/secchiware/secchiware/pkg/broker"
)

type entry struct {
	value   string
	expires time.Time // zero means no expiry
}

type lockEntry struct {
	token   string
	expires time.Time
}

// Broker is a sync.Mutex-guarded in-memory implementation, grounded on the
// teacher's own in-process synchronization style for shared state.
type Broker struct {
	mu     sync.Mutex
	values map[string]entry
	locks  map[string]lockEntry
	counts map[string]int64
}

var _ broker.Broker = (*Broker)(nil)

func New() *Broker {
	return &Broker{
		values: map[string]entry{},
		locks:  map[string]lockEntry{},
		counts: map[string]int64{},
	}
}

func (b *Broker) Get(ctx context.Context, key string) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.values[key]
	if !ok {
		return "", false, nil
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(b.values, key)
		return "", false, nil
	}
	return e.value, true, nil
}

func (b *Broker) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	b.values[key] = entry{value: value, expires: expires}
	return nil
}

func (b *Broker) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.values, key)
	return nil
}

func (b *Broker) Acquire(ctx context.Context, name string, ttl time.Duration) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if held, ok := b.locks[name]; ok && time.Now().Before(held.expires) {
		return "", broker.ErrNotAcquired
	}

	token := uuid.NewString()
	b.locks[name] = lockEntry{token: token, expires: time.Now().Add(ttl)}
	return token, nil
}

func (b *Broker) Release(ctx context.Context, name, token string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	held, ok := b.locks[name]
	if !ok || held.token != token {
		return broker.ErrNotHeld
	}
	delete(b.locks, name)
	return nil
}

func (b *Broker) Incr(ctx context.Context, key string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts[key]++
	return b.counts[key], nil
}

func (b *Broker) Close() error { return nil }
