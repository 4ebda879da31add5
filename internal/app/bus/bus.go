/*
Package bus carries document change events between server instances.

A Bus is a fire-and-forget publish/subscribe channel: every subscriber on every
instance, the publisher's own included, receives each published payload. Three
drivers exist: Redis pub/sub (the default), Postgres LISTEN/NOTIFY backed by an
event table, and an in-process bus for development and tests.
*/
package bus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notesync/internal/app/db"
	"notesync/internal/configs"
)

// ErrClosed is returned by operations on a closed bus.
var ErrClosed = errors.New("bus: closed")

// Handler receives one raw payload. A subscription calls its handler from a
// single goroutine, in the order the bus delivered the payloads.
type Handler func(payload []byte)

// Bus is the publish/subscribe transport shared by all instances.
type Bus interface {
	// Publish sends payload on channel. Delivery is at most once per subscriber.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns once the subscription is active. handler runs until ctx
	// is done or the bus is closed.
	Subscribe(ctx context.Context, channel string, handler Handler) error

	// Close releases the driver's resources.
	Close() error
}

// Open builds the bus selected by cfg.BusDriver and checks it is reachable.
func Open(ctx context.Context, cfg *configs.AppConfig) (Bus, error) {
	switch cfg.BusDriver {
	case configs.BusDriverRedis:
		return NewRedisBus(ctx, cfg.RedisURL)

	case configs.BusDriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN, db.PoolOptions{
			MaxConns: int32(cfg.DBMaxConns),
			MinConns: int32(cfg.DBMinConns),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres bus: %w", err)
		}
		b := NewPostgresBus(pool, PostgresOptions{
			Retention: cfg.BusRetention,
			ClosePool: true,
		})
		return b, nil

	case configs.BusDriverMemory:
		return NewMemoryBus(), nil

	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.BusDriver)
	}
}

// backoff returns the wait before reconnect attempt n (0-based), capped at 30s.
func backoff(n int) time.Duration {
	d := 500 * time.Millisecond
	for i := 0; i < n && d < 30*time.Second; i++ {
		d *= 2
	}
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}
