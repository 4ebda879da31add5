package collab

import (
	"testing"

	"github.com/gorilla/websocket"

	"notesync/internal/app/user"
)

func TestClientSendDisconnectsWhenQueueOverflows(t *testing.T) {
	c := NewClient(nil, nil, alice, ClientOptions{})

	for i := range sendQueueSize {
		if err := c.Send([]byte("x")); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	if err := c.Send([]byte("overflow")); err != errClientSlow {
		t.Fatalf("overflow Send = %v, want errClientSlow", err)
	}
	if err := c.Send([]byte("after")); err != errClientClosed {
		t.Fatalf("Send after overflow = %v, want errClientClosed", err)
	}
	if c.closeCode != WsCloseCodeTooSlow {
		t.Errorf("close code = %d", c.closeCode)
	}

	drained := 0
	for range c.send {
		drained++
	}
	if drained != sendQueueSize {
		t.Errorf("drained %d queued frames", drained)
	}
}

func TestClientCloseIsIdempotent(t *testing.T) {
	c := NewClient(nil, nil, alice, ClientOptions{})
	c.Close()
	c.Close()

	if c.closeCode != websocket.CloseGoingAway {
		t.Errorf("close code = %d", c.closeCode)
	}
	if err := c.Send([]byte("x")); err != errClientClosed {
		t.Errorf("Send after Close = %v", err)
	}
}

func TestClientIdentityOverridesPayloadUser(t *testing.T) {
	c := NewClient(nil, nil, alice, ClientOptions{})
	if got := c.identity(bob); got != alice {
		t.Errorf("identity = %+v, want %+v", got, alice)
	}

	anon := NewClient(nil, nil, user.User{ID: alice.ID}, ClientOptions{})
	if got := anon.identity(bob); got.ID != alice.ID || got.Username != "Bob" {
		t.Errorf("identity without token username = %+v", got)
	}
}

func TestClientCursorThrottle(t *testing.T) {
	c := NewClient(nil, nil, alice, ClientOptions{CursorRate: 1, CursorBurst: 2})
	if c.cursorLimiter == nil {
		t.Fatal("limiter not configured")
	}

	allowed := 0
	for range 5 {
		if c.cursorLimiter.Allow() {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("allowed %d moves in a burst, want 2", allowed)
	}

	if NewClient(nil, nil, alice, ClientOptions{}).cursorLimiter != nil {
		t.Error("zero rate should disable throttling")
	}
}
