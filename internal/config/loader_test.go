package config

import (
	"strings"
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTPPort != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.HTTPPort)
	}
	if cfg.PrimarySchema != "main" {
		t.Errorf("expected default primary schema main, got %s", cfg.PrimarySchema)
	}
	if len(cfg.AllowedSchemas) != 1 || cfg.AllowedSchemas[0] != "main" {
		t.Errorf("expected allow-list [main], got %v", cfg.AllowedSchemas)
	}
	if cfg.BackupRetention != 5 {
		t.Errorf("expected default retention 5, got %d", cfg.BackupRetention)
	}
	if cfg.Actor != "system" {
		t.Errorf("expected default actor system, got %s", cfg.Actor)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("TABLESTORE_HTTP_PORT", "9090")
	t.Setenv("TABLESTORE_DATA_DIR", "/var/lib/tablestore")
	t.Setenv("TABLESTORE_SCHEMAS", "main, dmgr, archive")
	t.Setenv("TABLESTORE_BACKUP_RETENTION", "10")
	t.Setenv("TABLESTORE_ACTOR", "migrator")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.HTTPPort != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.HTTPPort)
	}
	if cfg.DataDir != "/var/lib/tablestore" {
		t.Errorf("expected data dir override, got %s", cfg.DataDir)
	}
	if len(cfg.AllowedSchemas) != 3 || cfg.AllowedSchemas[1] != "dmgr" {
		t.Errorf("expected three schemas with dmgr second, got %v", cfg.AllowedSchemas)
	}
	if cfg.BackupRetention != 10 {
		t.Errorf("expected retention 10, got %d", cfg.BackupRetention)
	}
	if cfg.Actor != "migrator" {
		t.Errorf("expected actor migrator, got %s", cfg.Actor)
	}
}

func TestLoad_PrimaryAlwaysAllowed(t *testing.T) {
	t.Setenv("TABLESTORE_PRIMARY_SCHEMA", "core")
	t.Setenv("TABLESTORE_SCHEMAS", "dmgr")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.AllowedSchemas[0] != "core" {
		t.Errorf("expected primary schema prepended to allow-list, got %v", cfg.AllowedSchemas)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	t.Setenv("TABLESTORE_HTTP_PORT", "not-a-port")
	t.Setenv("TABLESTORE_SCHEMAS", "Bad Schema!")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for invalid environment values")
	}
	if !strings.Contains(err.Error(), "TABLESTORE_HTTP_PORT") {
		t.Errorf("expected error to name TABLESTORE_HTTP_PORT, got %v", err)
	}
	if !strings.Contains(err.Error(), "TABLESTORE_SCHEMAS") {
		t.Errorf("expected error to name TABLESTORE_SCHEMAS, got %v", err)
	}
}
