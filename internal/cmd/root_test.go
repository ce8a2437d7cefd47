package cmd

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/skeincrawl/skein/internal/config"
)

func TestSetVersionInfo(t *testing.T) {
	SetVersionInfo("1.2.3", "2026-08-01T10:00:00Z")

	expected := "1.2.3 (built 2026-08-01T10:00:00Z)"
	if rootCmd.Version != expected {
		t.Errorf("Expected version %s, got %s", expected, rootCmd.Version)
	}
}

func TestGenerateUserAgent(t *testing.T) {
	origVersion := version
	defer func() { version = origVersion }()

	version = "2.0.0"
	if ua := generateUserAgent(); ua != "Skein/2.0.0" {
		t.Errorf("generateUserAgent() = %q, want Skein/2.0.0", ua)
	}

	version = "dev"
	if ua := generateUserAgent(); ua != "Skein/dev" {
		t.Errorf("generateUserAgent() = %q, want Skein/dev", ua)
	}
}

func TestInitConfigReadsFile(t *testing.T) {
	tempDir := t.TempDir()
	configFile := filepath.Join(tempDir, "skein.yml")

	configContent := `
workers: 5
page_timeout: 2s
user_agent: "TestAgent/1.0"
max_pages: 42
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to create test config file: %v", err)
	}

	origCfgFile := cfgFile
	defer func() {
		cfgFile = origCfgFile
		viper.Reset()
	}()

	cfgFile = configFile
	initConfig()

	cfg := config.DefaultConfig()
	if err := viper.Unmarshal(cfg); err != nil {
		t.Fatalf("viper.Unmarshal() error = %v", err)
	}

	if cfg.Workers != 5 {
		t.Errorf("Workers = %d, want 5", cfg.Workers)
	}
	if cfg.PageTimeout != 2*time.Second {
		t.Errorf("PageTimeout = %v, want 2s", cfg.PageTimeout)
	}
	if cfg.UserAgent != "TestAgent/1.0" {
		t.Errorf("UserAgent = %q, want TestAgent/1.0", cfg.UserAgent)
	}
	if cfg.MaxPages != 42 {
		t.Errorf("MaxPages = %d, want 42", cfg.MaxPages)
	}
}

func TestShowCurrentConfig(t *testing.T) {
	if err := showCurrentConfig(nil); err == nil {
		t.Error("showCurrentConfig(nil) should return an error")
	}

	cfg := config.DefaultConfig()
	if err := showCurrentConfig(cfg); err != nil {
		t.Errorf("showCurrentConfig() error = %v", err)
	}
}

func TestOpenStorageSQLiteCreatesDirectory(t *testing.T) {
	tempDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DatabasePath = filepath.Join(tempDir, "nested", "dir", "skein.db")

	store, err := openStorage(cfg)
	if err != nil {
		t.Fatalf("openStorage() error = %v", err)
	}
	defer func() { _ = store.Close() }()

	if _, err := os.Stat(filepath.Dir(cfg.DatabasePath)); err != nil {
		t.Errorf("database directory was not created: %v", err)
	}
}

func TestOpenStoragePostgresRequiresDSN(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.StorageBackend = "postgres"
	cfg.PostgresDSN = ""

	if _, err := openStorage(cfg); err == nil {
		t.Error("openStorage() with empty postgres DSN should fail")
	}
}
