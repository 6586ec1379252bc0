package pg

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema for the PostgreSQL-backed Broker/Keystore, grounded on the
// teacher's pkg/memory/postgres schema.go idiom: idempotent DDL constants
// applied with CREATE TABLE IF NOT EXISTS, no external migration tool.

const ddlKV = `
CREATE TABLE IF NOT EXISTS kv_store (
    key        TEXT         PRIMARY KEY,
    value      BYTEA        NOT NULL,
    expires_at TIMESTAMPTZ  NULL
);

CREATE INDEX IF NOT EXISTS idx_kv_store_expires_at
    ON kv_store (expires_at)
    WHERE expires_at IS NOT NULL;
`

const ddlBusMessages = `
CREATE TABLE IF NOT EXISTS bus_messages (
    id         BIGSERIAL    PRIMARY KEY,
    topic      TEXT         NOT NULL,
    payload    BYTEA        NOT NULL,
    created_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_bus_messages_topic_id
    ON bus_messages (topic, id);
`

// migrate applies all idempotent DDL to pool. It is safe to call on every
// process startup.
func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, ddl := range []string{ddlKV, ddlBusMessages} {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}
