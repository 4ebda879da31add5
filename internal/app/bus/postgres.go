package bus

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"notesync/internal/pkg/logx"
)

// NOTIFY payloads are capped at 8000 bytes, far below a note's content, so the
// payload goes into document_events and the notification carries only its id.
const (
	publishSQL = `WITH ev AS (
	INSERT INTO document_events (channel, payload) VALUES ($1, $2) RETURNING id
)
SELECT pg_notify($1, ev.id::text) FROM ev`

	fetchSQL = `SELECT payload FROM document_events WHERE id = $1`

	pruneSQL = `DELETE FROM document_events WHERE created_at < $1`

	pruneInterval = time.Minute
)

// PostgresOptions tunes a PostgresBus.
type PostgresOptions struct {
	// Retention is how long published events stay in document_events.
	// Zero disables pruning.
	Retention time.Duration

	// ClosePool makes Close also close the pool.
	ClosePool bool
}

// PostgresBus is a Bus over LISTEN/NOTIFY with the payload stored in the
// document_events table. Each subscription holds one pooled connection.
type PostgresBus struct {
	pool   *pgxpool.Pool
	opts   PostgresOptions
	logger zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPostgresBus starts the retention loop and returns the bus.
func NewPostgresBus(pool *pgxpool.Pool, opts PostgresOptions) *PostgresBus {
	ctx, cancel := context.WithCancel(context.Background())

	b := &PostgresBus{
		pool:   pool,
		opts:   opts,
		logger: logx.Component("bus.postgres"),
		ctx:    ctx,
		cancel: cancel,
	}

	if opts.Retention > 0 {
		b.wg.Add(1)
		go b.pruneLoop()
	}

	return b
}

// Publish stores payload and notifies listeners on channel in one statement.
func (b *PostgresBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if b.ctx.Err() != nil {
		return ErrClosed
	}

	if _, err := b.pool.Exec(ctx, publishSQL, channel, string(payload)); err != nil {
		return fmt.Errorf("postgres publish on %s: %w", channel, err)
	}
	return nil
}

// Subscribe issues LISTEN on a dedicated connection and relays notifications to
// handler. A broken connection is replaced with exponential backoff.
func (b *PostgresBus) Subscribe(ctx context.Context, channel string, handler Handler) error {
	conn, err := b.listen(ctx, channel)
	if err != nil {
		return err
	}

	b.logger.Info().Str("channel", channel).Msg("Subscribed to bus channel.")

	subCtx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(b.ctx, cancel)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer stop()
		defer cancel()

		b.relay(subCtx, conn, channel, handler)
	}()

	return nil
}

// listen acquires a connection and subscribes it to channel.
func (b *PostgresBus) listen(ctx context.Context, channel string) (*pgx.Conn, error) {
	pooled, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres acquire listener: %w", err)
	}

	conn := pooled.Hijack()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{channel}.Sanitize()); err != nil {
		_ = conn.Close(context.Background())
		return nil, fmt.Errorf("postgres listen on %s: %w", channel, err)
	}

	return conn, nil
}

// relay waits for notifications until ctx is done, reconnecting on failure.
func (b *PostgresBus) relay(ctx context.Context, conn *pgx.Conn, channel string, handler Handler) {
	defer func() {
		if conn != nil {
			_ = conn.Close(context.Background())
		}
		b.logger.Info().Str("channel", channel).Msg("Bus subscription stopped.")
	}()

	attempt := 0

	for {
		if conn == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff(attempt)):
			}

			var err error
			conn, err = b.listen(ctx, channel)
			if err != nil {
				attempt++
				b.logger.Warn().Err(err).Int("attempt", attempt).Msg("Reconnecting bus listener failed.")
				continue
			}

			attempt = 0
			b.logger.Info().Str("channel", channel).Msg("Bus listener reconnected.")
		}

		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}

			b.logger.Error().Err(err).Str("channel", channel).Msg("Bus listener connection lost.")
			_ = conn.Close(context.Background())
			conn = nil
			continue
		}

		if n.Channel != channel {
			continue
		}

		payload, err := b.fetch(ctx, n.Payload)
		if err != nil {
			b.logger.Warn().Err(err).Str("event_id", n.Payload).Msg("Dropping bus notification.")
			continue
		}

		handler(payload)
	}
}

// fetch loads the payload referenced by a notification.
func (b *PostgresBus) fetch(ctx context.Context, rawID string) ([]byte, error) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("notification payload is not an event id: %w", err)
	}

	var payload string
	if err := b.pool.QueryRow(ctx, fetchSQL, id).Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("event %d already pruned", id)
		}
		return nil, fmt.Errorf("load event %d: %w", id, err)
	}

	return []byte(payload), nil
}

// pruneLoop deletes events older than the retention window.
func (b *PostgresBus) pruneLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case now := <-ticker.C:
			tag, err := b.pool.Exec(b.ctx, pruneSQL, now.Add(-b.opts.Retention))
			if err != nil {
				if b.ctx.Err() == nil {
					b.logger.Warn().Err(err).Msg("Pruning document_events failed.")
				}
				continue
			}
			if tag.RowsAffected() > 0 {
				b.logger.Debug().Int64("removed", tag.RowsAffected()).Msg("Pruned document_events.")
			}
		}
	}
}

// Close stops every subscription and the retention loop.
func (b *PostgresBus) Close() error {
	b.cancel()
	b.wg.Wait()

	if b.opts.ClosePool {
		b.pool.Close()
	}
	return nil
}
