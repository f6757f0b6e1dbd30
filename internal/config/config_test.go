package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  api_key: secret\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Errorf("expected postgres driver, got %q", cfg.Database.Driver)
	}
	if cfg.Vision.MaxImagePixels != 40_000_000 {
		t.Errorf("expected max image pixels 40000000, got %d", cfg.Vision.MaxImagePixels)
	}
	if cfg.Vision.EmbeddingDim != 512 {
		t.Errorf("expected embedding dim 512, got %d", cfg.Vision.EmbeddingDim)
	}
	if got := cfg.Auth.MatchTolerance(); got != DefaultTolerance {
		t.Errorf("expected default tolerance %v, got %v", DefaultTolerance, got)
	}
	if !cfg.Auth.RejectMultipleFaces() {
		t.Error("expected multiple faces to be rejected by default")
	}
	if cfg.Auth.SessionTTL != 12*time.Hour {
		t.Errorf("expected 12h session ttl, got %s", cfg.Auth.SessionTTL)
	}
}

func TestLoad_ExplicitValues(t *testing.T) {
	body := `
database:
  driver: memory
auth:
  tolerance: 0
  reject_multiple_faces_on_verify: false
  session_ttl: 30m
vision:
  worker_count: 3
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Auth.MatchTolerance() != 0 {
		t.Errorf("explicit zero tolerance should be kept, got %v", cfg.Auth.MatchTolerance())
	}
	if cfg.Auth.RejectMultipleFaces() {
		t.Error("expected multiple faces to be allowed")
	}
	if cfg.Auth.SessionTTL != 30*time.Minute {
		t.Errorf("expected 30m session ttl, got %s", cfg.Auth.SessionTTL)
	}
	if cfg.Vision.WorkerCount != 3 {
		t.Errorf("expected 3 workers, got %d", cfg.Vision.WorkerCount)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FACEGATE_SERVER_PORT", "9000")
	t.Setenv("FACEGATE_DB_DRIVER", "memory")
	t.Setenv("FACEGATE_TOLERANCE", "0.55")
	t.Setenv("FACEGATE_REDIS_ADDR", "redis:6379")

	cfg, err := Load(writeConfig(t, "server:\n  port: 8081\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("expected env port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Database.Driver != DriverMemory {
		t.Errorf("expected memory driver, got %q", cfg.Database.Driver)
	}
	if cfg.Auth.MatchTolerance() != 0.55 {
		t.Errorf("expected tolerance 0.55, got %v", cfg.Auth.MatchTolerance())
	}
	if cfg.Redis.Addr != "redis:6379" {
		t.Errorf("expected redis addr override, got %q", cfg.Redis.Addr)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	neg := -0.1

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "negative tolerance", mutate: func(c *Config) { c.Auth.Tolerance = &neg }, wantErr: "auth.tolerance"},
		{name: "unknown driver", mutate: func(c *Config) { c.Database.Driver = "sqlite" }, wantErr: "database.driver"},
		{name: "zero embedding dim", mutate: func(c *Config) { c.Vision.EmbeddingDim = -1 }, wantErr: "vision.embedding_dim"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{}
			setDefaults(cfg)
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}
