// Package pg is a PostgreSQL-backed implementation of [bus.Broker] and
// [bus.Keystore], grounded on the teacher's pkg/memory/postgres package
// (same pgxpool.Pool + idempotent-DDL-on-connect pattern) and on the
// sibling corpus repo's trace store (//go:embed-free inline DDL, prune
// query on a timer). No pub/sub broker client library exists anywhere in
// the retrieval corpus this module was built from, so topic fan-out is
// built from jackc/pgx/v5's native LISTEN/NOTIFY support plus a durable
// bus_messages queue table for payloads that may exceed NOTIFY's ~8000
// byte practical limit (inbound/outbound audio chunks).
//
// Every process that calls Subscribe holds one dedicated LISTEN connection
// (acquired from the pool and never released back) that broadcasts each row
// insert to every local subscriber of the matching topic — this gives true
// cross-process pub/sub broadcast, not a competing-consumers queue: each
// subscribing process sees every message published after it started
// listening.
package pg

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/glyphoxa/pkg/bus"
)

const (
	notifyChannel    = "glyphoxa_bus_events"
	messageRetention = 2 * time.Minute
)

// Broker is the PostgreSQL-backed [bus.Broker].
type Broker struct {
	pool *pgxpool.Pool

	mu       sync.Mutex
	subs     map[string][]*localSub // topic -> local subscribers
	nextID   uint64
	listener *pgxpool.Conn
	cancel   context.CancelFunc
	closed   bool
}

var _ bus.Broker = (*Broker)(nil)

type localSub struct {
	id uint64
	ch chan []byte
}

// Open connects to dsn, runs schema migration, and starts the listener
// connection. The returned Broker and a Keystore sharing the same pool can
// both be constructed from [Connect].
func Open(ctx context.Context, dsn string) (*Broker, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("bus/pg: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bus/pg: ping: %w", err)
	}
	if err := migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bus/pg: migrate: %w", err)
	}

	b := &Broker{pool: pool, subs: make(map[string][]*localSub)}
	if err := b.startListener(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bus/pg: start listener: %w", err)
	}
	go b.janitor()
	return b, nil
}

// Pool exposes the underlying pool so a [Keystore] can share it.
func (b *Broker) Pool() *pgxpool.Pool { return b.pool }

func (b *Broker) startListener(ctx context.Context) error {
	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return err
	}
	listenCtx, cancel := context.WithCancel(context.Background())
	b.listener = conn
	b.cancel = cancel
	go b.listenLoop(listenCtx, conn)
	return nil
}

func (b *Broker) listenLoop(ctx context.Context, conn *pgxpool.Conn) {
	for {
		notif, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("bus/pg: listener error, retrying", "error", err)
			time.Sleep(time.Second)
			continue
		}
		id, err := strconv.ParseInt(notif.Payload, 10, 64)
		if err != nil {
			continue
		}
		b.deliver(ctx, id)
	}
}

func (b *Broker) deliver(ctx context.Context, rowID int64) {
	var topic string
	var payload []byte
	err := b.pool.QueryRow(ctx, `SELECT topic, payload FROM bus_messages WHERE id = $1`, rowID).
		Scan(&topic, &payload)
	if err == pgx.ErrNoRows {
		return
	}
	if err != nil {
		slog.Warn("bus/pg: fetch notified row failed", "error", err)
		return
	}

	b.mu.Lock()
	subs := append([]*localSub(nil), b.subs[topic]...)
	b.mu.Unlock()

	for _, s := range subs {
		select {
		case s.ch <- payload:
		default:
		}
	}
}

// Publish inserts payload into the queue table and notifies every listening
// process. The returned subscriber count reflects only this process's local
// subscribers (remote subscriber counts are not observable over NOTIFY).
func (b *Broker) Publish(ctx context.Context, topic string, payload []byte) (int, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, bus.ErrClosed
	}
	b.mu.Unlock()

	var id int64
	err := b.pool.QueryRow(ctx,
		`INSERT INTO bus_messages (topic, payload) VALUES ($1, $2) RETURNING id`,
		topic, payload,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("bus/pg: publish: %w", err)
	}
	if _, err := b.pool.Exec(ctx, "SELECT pg_notify($1, $2)", notifyChannel, strconv.FormatInt(id, 10)); err != nil {
		return 0, fmt.Errorf("bus/pg: notify: %w", err)
	}

	b.mu.Lock()
	n := len(b.subs[topic])
	b.mu.Unlock()
	return n, nil
}

// Subscribe registers a local subscriber for topic.
func (b *Broker) Subscribe(_ context.Context, topic string) (bus.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return bus.Subscription{}, bus.ErrClosed
	}
	b.nextID++
	s := &localSub{id: b.nextID, ch: make(chan []byte, 256)}
	b.subs[topic] = append(b.subs[topic], s)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			ss := b.subs[topic]
			for i, sub := range ss {
				if sub.id == s.id {
					b.subs[topic] = append(ss[:i], ss[i+1:]...)
					break
				}
			}
			close(s.ch)
		})
	}
	return bus.Subscription{C: s.ch, Unsubscribe: unsub}, nil
}

func (b *Broker) janitor() {
	t := time.NewTicker(messageRetention)
	defer t.Stop()
	for range t.C {
		b.mu.Lock()
		closed := b.closed
		b.mu.Unlock()
		if closed {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_, _ = b.pool.Exec(ctx, `DELETE FROM bus_messages WHERE created_at < now() - $1::interval`,
			fmt.Sprintf("%d seconds", int(messageRetention.Seconds())))
		cancel()
	}
}

// Close releases the listener connection and closes the pool.
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, s := range subs {
			close(s.ch)
		}
	}
	b.subs = nil
	b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
	}
	if b.listener != nil {
		b.listener.Release()
	}
	b.pool.Close()
	return nil
}
