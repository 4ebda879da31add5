package bus

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"notesync/internal/app/db"
)

// collector records payloads delivered to a handler.
type collector struct {
	mu   sync.Mutex
	msgs []string
}

func (c *collector) handle(p []byte) {
	c.mu.Lock()
	c.msgs = append(c.msgs, string(p))
	c.mu.Unlock()
}

func (c *collector) snapshot() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func waitForCount(t *testing.T, c *collector, n int) []string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.snapshot(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d messages, got %v", n, c.snapshot())
	return nil
}

// exerciseOrderedFanOut publishes a sequence and checks both subscribers see it in order.
func exerciseOrderedFanOut(t *testing.T, b Bus) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var a, c collector
	if err := b.Subscribe(ctx, "document-updates", a.handle); err != nil {
		t.Fatalf("Subscribe a: %v", err)
	}
	if err := b.Subscribe(ctx, "document-updates", c.handle); err != nil {
		t.Fatalf("Subscribe c: %v", err)
	}

	const n = 20
	for i := range n {
		if err := b.Publish(ctx, "document-updates", []byte(fmt.Sprintf("m%02d", i))); err != nil {
			t.Fatalf("Publish %d: %v", i, err)
		}
	}

	for _, got := range [][]string{waitForCount(t, &a, n), waitForCount(t, &c, n)} {
		for i := range n {
			if want := fmt.Sprintf("m%02d", i); got[i] != want {
				t.Fatalf("message %d = %q, want %q (all: %v)", i, got[i], want, got)
			}
		}
	}
}

func TestMemoryBusOrderedFanOut(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	exerciseOrderedFanOut(t, b)
}

func TestMemoryBusChannelsAreIsolated(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var docs, other collector
	_ = b.Subscribe(ctx, "document-updates", docs.handle)
	_ = b.Subscribe(ctx, "other", other.handle)

	_ = b.Publish(ctx, "document-updates", []byte("x"))
	waitForCount(t, &docs, 1)

	time.Sleep(20 * time.Millisecond)
	if got := other.snapshot(); len(got) != 0 {
		t.Fatalf("other channel received %v", got)
	}
}

func TestMemoryBusStopsDeliveringAfterCancel(t *testing.T) {
	b := NewMemoryBus()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())

	var c collector
	_ = b.Subscribe(ctx, "document-updates", c.handle)
	_ = b.Publish(context.Background(), "document-updates", []byte("before"))
	waitForCount(t, &c, 1)

	cancel()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		b.mu.RLock()
		remaining := len(b.subs["document-updates"])
		b.mu.RUnlock()
		if remaining == 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	_ = b.Publish(context.Background(), "document-updates", []byte("after"))
	time.Sleep(20 * time.Millisecond)
	if got := c.snapshot(); len(got) != 1 {
		t.Fatalf("delivered after cancel: %v", got)
	}
}

func TestMemoryBusClosed(t *testing.T) {
	b := NewMemoryBus()
	_ = b.Close()

	if err := b.Publish(context.Background(), "c", []byte("x")); err != ErrClosed {
		t.Errorf("Publish after Close = %v, want ErrClosed", err)
	}
	if err := b.Subscribe(context.Background(), "c", func([]byte) {}); err != ErrClosed {
		t.Errorf("Subscribe after Close = %v, want ErrClosed", err)
	}
}

func TestRedisBusOrderedFanOut(t *testing.T) {
	mr := miniredis.RunT(t)

	b := NewRedisBusFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	defer b.Close()

	exerciseOrderedFanOut(t, b)
}

func TestNewRedisBusPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)

	b, err := NewRedisBus(context.Background(), "redis://"+mr.Addr()+"/0")
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	_ = b.Close()

	if _, err := NewRedisBus(context.Background(), "not-a-url"); err == nil {
		t.Error("expected error for malformed url")
	}
}

// TestPostgresBusOrderedFanOut runs only against a real database:
// NOTESYNC_TEST_DATABASE_URL=postgres://... go test ./internal/app/bus/
func TestPostgresBusOrderedFanOut(t *testing.T) {
	dsn := os.Getenv("NOTESYNC_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("NOTESYNC_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, dsn, db.PoolOptions{MaxConns: 4})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}

	b := NewPostgresBus(pool, PostgresOptions{Retention: time.Minute, ClosePool: true})
	defer b.Close()

	exerciseOrderedFanOut(t, b)
}

func TestBackoffIsCapped(t *testing.T) {
	if got := backoff(0); got != 500*time.Millisecond {
		t.Errorf("backoff(0) = %s", got)
	}
	if got := backoff(3); got != 4*time.Second {
		t.Errorf("backoff(3) = %s", got)
	}
	if got := backoff(50); got != 30*time.Second {
		t.Errorf("backoff(50) = %s", got)
	}
}
