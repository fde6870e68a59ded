package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" {
		t.Fatalf("expected default addr, got %q", cfg.HTTP.Addr)
	}
	if cfg.Catalog.CacheTTL != time.Minute {
		t.Fatalf("expected 60s cache ttl, got %s", cfg.Catalog.CacheTTL)
	}
	if len(cfg.Proof.AllowedHosts) == 0 {
		t.Fatalf("expected default proof hosts")
	}
	if len(cfg.Providers) != 1 || cfg.Providers[0].Kind != "preview" {
		t.Fatalf("expected preview provider, got %+v", cfg.Providers)
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := []byte("http:\n  addr: \":9090\"\nusage:\n  batch_size: 42\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TOKENGEN_AUTH_JWT_SECRET", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Fatalf("expected file addr, got %q", cfg.HTTP.Addr)
	}
	if cfg.Usage.BatchSize != 42 {
		t.Fatalf("expected batch size 42, got %d", cfg.Usage.BatchSize)
	}
	if cfg.Auth.JWTSecret != "from-env" {
		t.Fatalf("expected env secret, got %q", cfg.Auth.JWTSecret)
	}
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err != nil {
		t.Fatalf("expected defaults when file is missing, got %v", err)
	}
}

func TestValidateRequiresSecret(t *testing.T) {
	cfg := Config{Proof: ProofConfig{AllowedHosts: []string{"i.ibb.co"}}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected missing secret error")
	}
}
