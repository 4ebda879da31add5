package configs

import (
	"strings"
	"testing"
	"time"
)

// clearEnv blanks every variable LoadConfig reads so the host environment
// cannot leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ENVIRONMENT", "PORT", "ALLOWED_ORIGINS", "JWT_SECRET",
		"BUS_DRIVER", "BUS_CHANNEL", "REDIS_URL", "DATABASE_URL",
		"BUS_PUBLISH_TIMEOUT", "BUS_RETENTION", "ECHO_TO_SENDER",
		"DB_MAX_CONNS", "DB_MIN_CONNS",
		"CURSOR_TTL", "CURSOR_RATE", "CURSOR_BURST",
		"WS_MAX_MESSAGE_BYTES", "WS_WRITE_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadConfigDevelopmentDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if !cfg.IsDevelopment() || cfg.Port != 8080 {
		t.Errorf("environment/port = %s/%d", cfg.Environment, cfg.Port)
	}
	if cfg.BusDriver != BusDriverRedis || cfg.BusChannel != DefaultBusChannel {
		t.Errorf("bus = %s on %s", cfg.BusDriver, cfg.BusChannel)
	}
	if cfg.RedisURL == "" || cfg.JWTSecret == "" {
		t.Error("development defaults for REDIS_URL and JWT_SECRET were not applied")
	}
	if cfg.BusPublishTimeout != 2*time.Second || cfg.WSWriteTimeout != 10*time.Second {
		t.Errorf("timeouts = %s/%s", cfg.BusPublishTimeout, cfg.WSWriteTimeout)
	}
	if cfg.CursorTTL != 0 || cfg.EchoToSender {
		t.Errorf("cursor ttl = %s, echo = %v", cfg.CursorTTL, cfg.EchoToSender)
	}
	if cfg.WSMaxMessageBytes != 1<<20 {
		t.Errorf("max message bytes = %d", cfg.WSMaxMessageBytes)
	}
	if cfg.DBMaxConns != 10 || cfg.DBMinConns != 1 {
		t.Errorf("db pool = %d/%d", cfg.DBMaxConns, cfg.DBMinConns)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("BUS_DRIVER", "Postgres")
	t.Setenv("BUS_CHANNEL", "notes")
	t.Setenv("ECHO_TO_SENDER", "true")
	t.Setenv("CURSOR_TTL", "30s")
	t.Setenv("DB_MAX_CONNS", "24")
	t.Setenv("DB_MIN_CONNS", "3")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("port = %d", cfg.Port)
	}
	if strings.Join(cfg.AllowedOrigins, "|") != "https://a.example|https://b.example" {
		t.Errorf("origins = %v", cfg.AllowedOrigins)
	}
	if cfg.BusDriver != BusDriverPostgres || cfg.DatabaseDSN == "" || cfg.BusChannel != "notes" {
		t.Errorf("bus = %s dsn=%q channel=%s", cfg.BusDriver, cfg.DatabaseDSN, cfg.BusChannel)
	}
	if !cfg.EchoToSender || cfg.CursorTTL != 30*time.Second {
		t.Errorf("echo = %v ttl = %s", cfg.EchoToSender, cfg.CursorTTL)
	}
	if cfg.DBMaxConns != 24 || cfg.DBMinConns != 3 {
		t.Errorf("db pool = %d/%d", cfg.DBMaxConns, cfg.DBMinConns)
	}
}

func TestLoadConfigProductionRequirements(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "missing secret",
			env:  map[string]string{"ENVIRONMENT": "production", "REDIS_URL": "redis://r:6379"},
			want: "JWT_SECRET",
		},
		{
			name: "missing redis url",
			env:  map[string]string{"ENVIRONMENT": "production", "JWT_SECRET": "s"},
			want: "REDIS_URL",
		},
		{
			name: "memory bus",
			env:  map[string]string{"ENVIRONMENT": "production", "JWT_SECRET": "s", "BUS_DRIVER": "memory"},
			want: "memory",
		},
		{
			name: "unknown driver",
			env:  map[string]string{"BUS_DRIVER": "kafka"},
			want: "BUS_DRIVER",
		},
		{
			name: "privileged port",
			env:  map[string]string{"PORT": "80"},
			want: "port number",
		},
		{
			name: "bad duration",
			env:  map[string]string{"CURSOR_TTL": "soon"},
			want: "CURSOR_TTL",
		},
		{
			name: "pool too small for listen",
			env:  map[string]string{"DB_MAX_CONNS": "1"},
			want: "DB_MAX_CONNS",
		},
		{
			name: "min above max",
			env:  map[string]string{"DB_MAX_CONNS": "4", "DB_MIN_CONNS": "5"},
			want: "DB_MIN_CONNS",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			_, err := LoadConfig()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("LoadConfig err = %v, want mention of %q", err, tc.want)
			}
		})
	}
}
