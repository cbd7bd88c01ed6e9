package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Store.Backend != "memory" {
		t.Fatalf("backend = %q", cfg.Store.Backend)
	}
	if cfg.Store.Tables.Loans != "loans" {
		t.Fatalf("loans table = %q", cfg.Store.Tables.Loans)
	}
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "treasury.yaml")
	data := []byte("server:\n  addr: \":9090\"\nstore:\n  backend: remote\n  base_url: https://rows.example.com\ncache:\n  ttl_seconds: 120\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("TREASURY_JWT_SECRET", "s3cret")
	t.Setenv("TREASURY_STORE_KEY", "key-1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Server.JWTSecret != "s3cret" || cfg.Store.APIKey != "key-1" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if got := cfg.Cache.CacheTTL(); got != 2*time.Minute {
		t.Fatalf("cache ttl = %v", got)
	}
}

func TestLoadStoreURLPromotesBackend(t *testing.T) {
	t.Setenv("TREASURY_STORE_URL", "https://rows.example.com")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Store.Backend != "remote" {
		t.Fatalf("backend = %q", cfg.Store.Backend)
	}
}

func TestLoadRemoteRequiresBaseURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "treasury.yaml")
	if err := os.WriteFile(path, []byte("store:\n  backend: remote\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for remote backend without base URL")
	}
}
