package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marmos91/shuttle/internal/bytesize"
	"github.com/marmos91/shuttle/pkg/queue"
	"github.com/marmos91/shuttle/pkg/store/blob"
	"github.com/marmos91/shuttle/pkg/store/metadata"
)

// yamlSafePath converts a filesystem path into a form that is safe to
// embed in a YAML document on every platform. Windows backslashes are
// escape characters inside double-quoted YAML scalars.
func yamlSafePath(path string) string {
	return filepath.ToSlash(path)
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoad_FileValues(t *testing.T) {
	root := t.TempDir()
	content := `
server:
  host: "127.0.0.1"
  port: 9000
  shutdown_timeout: "45s"

database:
  driver: "sqlite"
  path: "` + yamlSafePath(filepath.Join(root, "meta.db")) + `"

storage:
  backend: "local"
  root: "` + yamlSafePath(root) + `"

transfer:
  chunk_size: "1MiB"
  max_retries: 7
  workers: 4

cleanup:
  interval: "5m"
  stale_upload_ttl: "1h"

logging:
  level: "DEBUG"
  format: "json"
`
	path := writeConfigFile(t, content)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got %s", cfg.Server.Host)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Server.Port)
	}
	if cfg.Server.ShutdownTimeout != 45*time.Second {
		t.Errorf("expected shutdown timeout 45s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Transfer.ChunkSize != bytesize.MiB {
		t.Errorf("expected chunk size 1MiB, got %d", cfg.Transfer.ChunkSize)
	}
	if cfg.Transfer.MaxRetries != 7 {
		t.Errorf("expected max retries 7, got %d", cfg.Transfer.MaxRetries)
	}
	if cfg.Transfer.Workers != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Transfer.Workers)
	}
	if cfg.Cleanup.Interval != 5*time.Minute {
		t.Errorf("expected cleanup interval 5m, got %v", cfg.Cleanup.Interval)
	}
	if cfg.Cleanup.StaleUploadTTL != time.Hour {
		t.Errorf("expected stale upload TTL 1h, got %v", cfg.Cleanup.StaleUploadTTL)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("expected level DEBUG, got %s", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected format json, got %s", cfg.Logging.Format)
	}
}

func TestLoad_DefaultsFillUnsetKeys(t *testing.T) {
	// A sparse file only overrides what it names; everything else
	// comes from the registered defaults.
	path := writeConfigFile(t, "logging:\n  level: \"WARN\"\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Logging.Level != "WARN" {
		t.Errorf("expected level WARN, got %s", cfg.Logging.Level)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Transfer.ChunkSize != 5*bytesize.MiB {
		t.Errorf("expected default chunk size 5MiB, got %d", cfg.Transfer.ChunkSize)
	}
	if cfg.Database.Driver != metadata.DriverSQLite {
		t.Errorf("expected default driver sqlite, got %s", cfg.Database.Driver)
	}
	if cfg.Storage.Backend != blob.BackendLocal {
		t.Errorf("expected default backend local, got %s", cfg.Storage.Backend)
	}
	if cfg.Queue.Backend != queue.BackendMemory {
		t.Errorf("expected default queue backend memory, got %s", cfg.Queue.Backend)
	}
	if cfg.Cleanup.Interval != 15*time.Minute {
		t.Errorf("expected default cleanup interval 15m, got %v", cfg.Cleanup.Interval)
	}
	if cfg.Cleanup.StaleUploadTTL != 24*time.Hour {
		t.Errorf("expected default stale upload TTL 24h, got %v", cfg.Cleanup.StaleUploadTTL)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Transfer.MaxGlobalInflight != 128 {
		t.Errorf("expected default global inflight 128, got %d", cfg.Transfer.MaxGlobalInflight)
	}
	if cfg.Cleanup.Interval != 15*time.Minute {
		t.Errorf("expected default cleanup interval 15m, got %v", cfg.Cleanup.Interval)
	}
}

func TestLoad_EnvironmentOverridesFile(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 9000\nlogging:\n  level: \"INFO\"\n")

	t.Setenv("SHUTTLE_SERVER_PORT", "9090")
	t.Setenv("SHUTTLE_LOGGING_LEVEL", "ERROR")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected env port 9090 to win over file, got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "ERROR" {
		t.Errorf("expected env level ERROR to win over file, got %s", cfg.Logging.Level)
	}
}

func TestLoad_EnvironmentWithoutFile(t *testing.T) {
	// Containers often run with nothing but SHUTTLE_* variables.
	path := filepath.Join(t.TempDir(), "absent.yaml")

	t.Setenv("SHUTTLE_TRANSFER_WORKERS", "3")
	t.Setenv("SHUTTLE_TRANSFER_CHUNK_SIZE", "8MiB")
	t.Setenv("SHUTTLE_CLEANUP_STALE_UPLOAD_TTL", "2h")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Transfer.Workers != 3 {
		t.Errorf("expected 3 workers from env, got %d", cfg.Transfer.Workers)
	}
	if cfg.Transfer.ChunkSize != 8*bytesize.MiB {
		t.Errorf("expected chunk size 8MiB from env, got %d", cfg.Transfer.ChunkSize)
	}
	if cfg.Cleanup.StaleUploadTTL != 2*time.Hour {
		t.Errorf("expected stale upload TTL 2h from env, got %v", cfg.Cleanup.StaleUploadTTL)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: [not closed\n")

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	path := writeConfigFile(t, "logging:\n  level: \"SHOUTING\"\n")

	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error, got nil")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("expected a oneof violation, got: %v", err)
	}
}

func TestMustLoad_MissingExplicitFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.yaml")

	if _, err := MustLoad(path); err == nil {
		t.Fatal("expected error for explicitly named missing file, got nil")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "saved", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Server.Port = 9191
	cfg.Transfer.ChunkSize = 2 * bytesize.MiB

	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig failed: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("saved config missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("expected mode 0600, got %o", perm)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load of saved config failed: %v", err)
	}
	if loaded.Server.Port != 9191 {
		t.Errorf("expected port 9191 after round trip, got %d", loaded.Server.Port)
	}
	if loaded.Transfer.ChunkSize != 2*bytesize.MiB {
		t.Errorf("expected chunk size 2MiB after round trip, got %d", loaded.Transfer.ChunkSize)
	}
}

func TestGetDefaultConfigPath(t *testing.T) {
	path := GetDefaultConfigPath()
	if path == "" {
		t.Fatal("expected non-empty default config path")
	}
	if filepath.Base(path) != "config.yaml" {
		t.Errorf("expected path to end in config.yaml, got %s", path)
	}
}

func TestGetConfigDir(t *testing.T) {
	dir := GetConfigDir()
	if dir == "" {
		t.Fatal("expected non-empty config dir")
	}
	if filepath.Base(dir) != "shuttle" && dir != "." {
		t.Errorf("expected config dir named shuttle, got %s", dir)
	}
}

func TestServerConfig_Addr(t *testing.T) {
	cfg := ServerConfig{Host: "0.0.0.0", Port: 8080}
	if got := cfg.Addr(); got != "0.0.0.0:8080" {
		t.Errorf("expected 0.0.0.0:8080, got %s", got)
	}
}

func TestTransferConfig_Limits(t *testing.T) {
	cfg := TransferConfig{
		QueueSize:                256,
		MaxGlobalInflight:        64,
		MaxInflightPerUpload:     8,
		MaxFairInflightPerUpload: 2,
		Workers:                  16,
	}

	lim := cfg.Limits()
	if lim.QueueSize != 256 {
		t.Errorf("expected queue size 256, got %d", lim.QueueSize)
	}
	if lim.GlobalLimit != 64 {
		t.Errorf("expected global limit 64, got %d", lim.GlobalLimit)
	}
	if lim.PerUploadLimit != 8 {
		t.Errorf("expected per-upload limit 8, got %d", lim.PerUploadLimit)
	}
	if lim.FairShareLimit != 2 {
		t.Errorf("expected fair share limit 2, got %d", lim.FairShareLimit)
	}
	if lim.WorkerCount != 16 {
		t.Errorf("expected worker count 16, got %d", lim.WorkerCount)
	}
}
