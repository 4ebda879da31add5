package db

import (
	"testing"
	"time"
)

func TestPoolConfigDefaults(t *testing.T) {
	config, err := poolConfig("postgres://notesync@localhost:5432/notesync", PoolOptions{})
	if err != nil {
		t.Fatalf("poolConfig: %v", err)
	}

	if config.MaxConns != 10 || config.MinConns != 1 {
		t.Errorf("conns = %d/%d, want 10/1", config.MaxConns, config.MinConns)
	}
	if config.MaxConnLifetime != 30*time.Minute || config.MaxConnIdleTime != 5*time.Minute {
		t.Errorf("lifetime/idle = %s/%s", config.MaxConnLifetime, config.MaxConnIdleTime)
	}
}

func TestPoolConfigFollowsOptions(t *testing.T) {
	tests := []struct {
		name     string
		opts     PoolOptions
		max, min int32
	}{
		{"explicit", PoolOptions{MaxConns: 25, MinConns: 4}, 25, 4},
		{"too small for listen plus publish", PoolOptions{MaxConns: 1}, MinPoolConns, 1},
		{"min clamped to max", PoolOptions{MaxConns: 3, MinConns: 8}, 3, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := poolConfig("postgres://notesync@localhost:5432/notesync", tt.opts)
			if err != nil {
				t.Fatalf("poolConfig: %v", err)
			}
			if config.MaxConns != tt.max || config.MinConns != tt.min {
				t.Errorf("conns = %d/%d, want %d/%d", config.MaxConns, config.MinConns, tt.max, tt.min)
			}
		})
	}
}

func TestPoolConfigRejectsBadDSN(t *testing.T) {
	if _, err := poolConfig("postgres://%zz", PoolOptions{}); err == nil {
		t.Fatal("expected an error for a malformed DSN")
	}
}
