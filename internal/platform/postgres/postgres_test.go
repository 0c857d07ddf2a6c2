package postgres

import (
	"testing"
	"time"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.URL == "" {
		t.Fatalf("expected default URL")
	}
	if cfg.PingTimeout != 2*time.Second {
		t.Fatalf("PingTimeout=%v, want 2s", cfg.PingTimeout)
	}
}

func TestConfigFromEnvSecretSubstitution(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://jobgate:%s@db:5432/jobgate")
	t.Setenv("DATABASE_SECRET", `{"password": "from-secrets-manager"}`)

	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	want := "postgres://jobgate:from-secrets-manager@db:5432/jobgate"
	if cfg.URL != want {
		t.Fatalf("URL=%q, want %q", cfg.URL, want)
	}
}

func TestValidateRejectsIdleAboveOpen(t *testing.T) {
	cfg := Config{
		URL:          "postgres://x",
		PingTimeout:  time.Second,
		MaxOpenConns: 2,
		MaxIdleConns: 5,
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error")
	}
}
