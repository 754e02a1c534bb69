package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig_IsValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.Wait.LeaseDuration.Std() != 10*time.Minute {
		t.Errorf("expected 10m default lease, got %v", cfg.Wait.LeaseDuration.Std())
	}
	if cfg.Retry.MaxAge.Std() != 30*24*time.Hour {
		t.Errorf("expected 30d default retry age, got %v", cfg.Retry.MaxAge.Std())
	}
}

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load with empty path failed: %v", err)
	}
	if cfg.Server.Addr != "127.0.0.1:8080" {
		t.Errorf("unexpected default addr: %s", cfg.Server.Addr)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `server:
  addr: 0.0.0.0:9000
database:
  path: /var/lib/restage/restage.db
wait:
  leaseDuration: 2m
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("addr not overridden: %s", cfg.Server.Addr)
	}
	if cfg.Database.Path != "/var/lib/restage/restage.db" {
		t.Errorf("database path not overridden: %s", cfg.Database.Path)
	}
	if cfg.Wait.LeaseDuration.Std() != 2*time.Minute {
		t.Errorf("lease duration not overridden: %v", cfg.Wait.LeaseDuration.Std())
	}
	// Untouched sections keep their defaults
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("expected default pool size, got %d", cfg.Database.MaxOpenConns)
	}
}

func TestLoad_InvalidAddrRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  addr: not-an-address\n"), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected validation failure for malformed listen address")
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoad_MalformedYaml(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [unclosed"), 0o600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for malformed yaml")
	}
}
