// SPDX-License-Identifier: MIT

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoaderDefaults(t *testing.T) {
	cfg, err := NewLoader("", "test").Load()
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.SignalTTL != 30*time.Second {
		t.Errorf("expected 30s signal TTL, got %s", cfg.SignalTTL)
	}
	if cfg.SignalPollInterval != 2*time.Second {
		t.Errorf("expected 2s poll interval, got %s", cfg.SignalPollInterval)
	}
	if cfg.CredentialRefresh >= cfg.CredentialTTL {
		t.Errorf("refresh %s must precede expiry %s", cfg.CredentialRefresh, cfg.CredentialTTL)
	}
}

func TestLoaderFileThenEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := []byte("listen_addr: \":9999\"\nredis_addr: \"file-redis:6379\"\nsignal_ttl: 45s\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("WARMLINE_REDIS_ADDR", "env-redis:6379")

	cfg, err := NewLoader(path, "test").Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":9999" {
		t.Errorf("file value not applied: %s", cfg.ListenAddr)
	}
	if cfg.RedisAddr != "env-redis:6379" {
		t.Errorf("env must override file, got %s", cfg.RedisAddr)
	}
	if cfg.SignalTTL != 45*time.Second {
		t.Errorf("file signal_ttl not applied: %s", cfg.SignalTTL)
	}
}

func TestValidateRejectsRefreshAfterExpiry(t *testing.T) {
	cfg := Defaults()
	cfg.CredentialRefresh = 5 * time.Hour
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error when refresh >= expiry")
	}
}

func TestValidateRejectsZeroTTL(t *testing.T) {
	cfg := Defaults()
	cfg.SignalTTL = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for zero signal TTL")
	}
}
