package bus

import (
	"context"
	"sync"
)

const memorySubscriberBuffer = 256

// MemoryBus is an in-process Bus. Several hubs sharing one MemoryBus behave like
// several server processes sharing a broker.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
}

type memorySub struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewMemoryBus returns an empty in-process bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string]map[*memorySub]struct{}),
	}
}

// Publish queues payload for every current subscriber of channel, waiting for
// room in a full subscriber queue until ctx is done.
func (b *MemoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	msg := append([]byte(nil), payload...)

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	for sub := range b.subs[channel] {
		select {
		case sub.ch <- msg:
		case <-sub.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

// Subscribe registers handler on channel.
func (b *MemoryBus) Subscribe(ctx context.Context, channel string, handler Handler) error {
	sub := &memorySub{
		ch:   make(chan []byte, memorySubscriberBuffer),
		done: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.subs[channel] == nil {
		b.subs[channel] = make(map[*memorySub]struct{})
	}
	b.subs[channel][sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-sub.done:
		}
		sub.stop()

		b.mu.Lock()
		delete(b.subs[channel], sub)
		if len(b.subs[channel]) == 0 {
			delete(b.subs, channel)
		}
		b.mu.Unlock()
	}()

	go func() {
		for {
			select {
			case msg := <-sub.ch:
				handler(msg)
			case <-sub.done:
				return
			}
		}
	}()

	return nil
}

// Close stops every subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	for _, subs := range b.subs {
		for sub := range subs {
			sub.stop()
		}
	}

	return nil
}
