// Package membus is an in-process, channel-based implementation of
// [bus.Broker] and [bus.Keystore], intended for single-binary development
// runs and tests. It carries no third-party dependency: no pub/sub client
// library appears anywhere in the corpus this module was built from, so the
// fan-out here is modeled directly on the teacher's own channel idioms
// (a producer goroutine broadcasting to per-subscriber buffered channels,
// the same shape as a streaming TTS fan-out) rather than on an external
// library.
package membus

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/glyphoxa/pkg/bus"
)

// subscriberBufferSize bounds how many unread messages a slow subscriber may
// accumulate before new publishes are dropped for it. A bounded buffer
// protects the publisher from a stalled consumer blocking the whole topic.
const subscriberBufferSize = 256

type subscriber struct {
	id uint64
	ch chan []byte
}

// Broker is an in-memory, multi-topic pub/sub fan-out.
type Broker struct {
	mu     sync.Mutex
	topics map[string][]*subscriber
	nextID uint64
	closed bool
}

var _ bus.Broker = (*Broker)(nil)

// New creates an empty in-process Broker.
func New() *Broker {
	return &Broker{topics: make(map[string][]*subscriber)}
}

// Publish broadcasts payload to every live subscriber of topic. Subscribers
// whose buffer is full have the message dropped for them rather than
// blocking the publisher — membus favours liveness over per-subscriber
// completeness, matching the bus's documented "fire-and-forget" contract.
func (b *Broker) Publish(_ context.Context, topic string, payload []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, bus.ErrClosed
	}
	subs := b.topics[topic]
	delivered := 0
	for _, s := range subs {
		select {
		case s.ch <- payload:
			delivered++
		default:
		}
	}
	return delivered, nil
}

// Subscribe registers a new subscriber on topic.
func (b *Broker) Subscribe(_ context.Context, topic string) (bus.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return bus.Subscription{}, bus.ErrClosed
	}
	b.nextID++
	s := &subscriber{id: b.nextID, ch: make(chan []byte, subscriberBufferSize)}
	b.topics[topic] = append(b.topics[topic], s)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.topics[topic]
			for i, sub := range subs {
				if sub.id == s.id {
					b.topics[topic] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
			close(s.ch)
		})
	}
	return bus.Subscription{C: s.ch, Unsubscribe: unsub}, nil
}

// Close tears down every topic's subscriber channels.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.topics {
		for _, s := range subs {
			close(s.ch)
		}
	}
	b.topics = nil
	return nil
}

// entry is a keystore value with an optional absolute expiry.
type entry struct {
	value    []byte
	expires  time.Time
	hasTTL   bool
}

// Keystore is an in-memory, TTL-aware key-value store guarded by a mutex and
// swept periodically by a background janitor goroutine — the same
// prune-on-a-timer shape the teacher's trace store uses for a SQL table,
// applied here to an in-memory map.
type Keystore struct {
	mu     sync.RWMutex
	data   map[string]entry
	stopCh chan struct{}
}

var _ bus.Keystore = (*Keystore)(nil)

// NewKeystore creates an empty Keystore and starts its janitor goroutine,
// which sweeps expired entries every interval.
func NewKeystore(interval time.Duration) *Keystore {
	k := &Keystore{data: make(map[string]entry), stopCh: make(chan struct{})}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	go k.janitor(interval)
	return k
}

func (k *Keystore) janitor(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			now := time.Now()
			k.mu.Lock()
			for key, e := range k.data {
				if e.hasTTL && now.After(e.expires) {
					delete(k.data, key)
				}
			}
			k.mu.Unlock()
		case <-k.stopCh:
			return
		}
	}
}

// Close stops the janitor goroutine. Safe to call once; subsequent calls
// are no-ops.
func (k *Keystore) Close() {
	select {
	case <-k.stopCh:
	default:
		close(k.stopCh)
	}
}

func (k *Keystore) Get(_ context.Context, key string) ([]byte, error) {
	k.mu.RLock()
	e, ok := k.data[key]
	k.mu.RUnlock()
	if !ok || (e.hasTTL && time.Now().After(e.expires)) {
		return nil, bus.ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (k *Keystore) Set(ctx context.Context, key string, value []byte) error {
	return k.SetWithTTL(ctx, key, value, 0)
}

func (k *Keystore) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	cp := make([]byte, len(value))
	copy(cp, value)
	e := entry{value: cp}
	if ttl > 0 {
		e.hasTTL = true
		e.expires = time.Now().Add(ttl)
	}
	k.mu.Lock()
	k.data[key] = e
	k.mu.Unlock()
	return nil
}

func (k *Keystore) Delete(_ context.Context, key string) error {
	k.mu.Lock()
	delete(k.data, key)
	k.mu.Unlock()
	return nil
}

func (k *Keystore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := k.Get(ctx, key)
	if err == bus.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
