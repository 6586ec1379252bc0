package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/MrWong99/glyphoxa/internal/config"
	"github.com/MrWong99/glyphoxa/pkg/bus"
	"github.com/MrWong99/glyphoxa/pkg/bus/membus"
	"github.com/MrWong99/glyphoxa/pkg/bus/pg"
)

// keystoreJanitorInterval is how often a TTL-backed keystore sweeps expired
// keys, shared by both driver implementations.
const keystoreJanitorInterval = 30 * time.Second

// NewBus constructs the [bus.Bus] selected by cfg.Driver. The returned
// closer releases every resource the bus opened; callers should defer it
// immediately.
func NewBus(ctx context.Context, cfg config.BusConfig) (*bus.Bus, func() error, error) {
	switch cfg.Driver {
	case config.BusDriverPostgres, "":
		if cfg.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("bootstrap: bus.driver is postgres but no DSN was provided (set bus.postgres_dsn or BUS_POSTGRES_DSN)")
		}
		broker, err := pg.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("bootstrap: open postgres bus: %w", err)
		}
		keystore := pg.NewKeystore(broker.Pool(), keystoreJanitorInterval)
		b := &bus.Bus{Broker: broker, Keystore: keystore}
		closer := func() error {
			keystore.Close()
			return b.Close()
		}
		return b, closer, nil

	case config.BusDriverMemory:
		broker := membus.New()
		keystore := membus.NewKeystore(keystoreJanitorInterval)
		b := &bus.Bus{Broker: broker, Keystore: keystore}
		closer := func() error {
			keystore.Close()
			return b.Close()
		}
		return b, closer, nil

	default:
		return nil, nil, fmt.Errorf("bootstrap: unknown bus driver %q", cfg.Driver)
	}
}
