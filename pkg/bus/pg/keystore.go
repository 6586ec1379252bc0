package pg

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/glyphoxa/pkg/bus"
)

// Keystore is a PostgreSQL-backed implementation of [bus.Keystore] using a
// single kv_store table. Expiry is enforced lazily on read (a row past its
// expires_at is treated as absent) and by a background janitor goroutine
// that periodically deletes expired rows — the same two-pronged approach
// the teacher's trace store uses to bound the sessions table (prune query
// on write), adapted here to a timer-driven sweep since keys are written far
// more often than the teacher's session rows.
type Keystore struct {
	pool   *pgxpool.Pool
	stopCh chan struct{}
}

var _ bus.Keystore = (*Keystore)(nil)

// NewKeystore wraps pool and starts the janitor goroutine that sweeps
// expired rows every interval.
func NewKeystore(pool *pgxpool.Pool, interval time.Duration) *Keystore {
	if interval <= 0 {
		interval = time.Minute
	}
	k := &Keystore{pool: pool, stopCh: make(chan struct{})}
	go k.janitor(interval)
	return k
}

func (k *Keystore) janitor(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_, _ = k.pool.Exec(ctx, `DELETE FROM kv_store WHERE expires_at IS NOT NULL AND expires_at <= now()`)
			cancel()
		case <-k.stopCh:
			return
		}
	}
}

// Close stops the janitor goroutine. It does not close the underlying pool,
// which may be shared with [Broker].
func (k *Keystore) Close() {
	select {
	case <-k.stopCh:
	default:
		close(k.stopCh)
	}
}

func (k *Keystore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := k.pool.QueryRow(ctx,
		`SELECT value FROM kv_store WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key,
	).Scan(&value)
	if err == pgx.ErrNoRows {
		return nil, bus.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

func (k *Keystore) Set(ctx context.Context, key string, value []byte) error {
	return k.SetWithTTL(ctx, key, value, 0)
}

func (k *Keystore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}
	_, err := k.pool.Exec(ctx,
		`INSERT INTO kv_store (key, value, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, expiresAt,
	)
	return err
}

func (k *Keystore) Delete(ctx context.Context, key string) error {
	_, err := k.pool.Exec(ctx, `DELETE FROM kv_store WHERE key = $1`, key)
	return err
}

func (k *Keystore) Exists(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := k.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM kv_store WHERE key = $1 AND (expires_at IS NULL OR expires_at > now()))`,
		key,
	).Scan(&exists)
	return exists, err
}
