package config

import (
	"encoding/base64"
	"os"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Workers != 4 {
		t.Errorf("Expected workers 4, got %d", cfg.Workers)
	}

	if cfg.MaxDepth != 3 {
		t.Errorf("Expected max depth 3, got %d", cfg.MaxDepth)
	}

	if cfg.MaxPages != 1000 {
		t.Errorf("Expected max pages 1000, got %d", cfg.MaxPages)
	}

	if cfg.MinDelay != 500*time.Millisecond {
		t.Errorf("Expected min delay 500ms, got %v", cfg.MinDelay)
	}

	if cfg.MaxDelay != 5*time.Second {
		t.Errorf("Expected max delay 5s, got %v", cfg.MaxDelay)
	}

	if cfg.PageTimeout != 30*time.Second {
		t.Errorf("Expected page timeout 30s, got %v", cfg.PageTimeout)
	}

	if cfg.UserAgent != "Skein/1.0" {
		t.Errorf("Expected user agent 'Skein/1.0', got %s", cfg.UserAgent)
	}

	if !cfg.RespectRobots {
		t.Errorf("Expected respect robots true, got %v", cfg.RespectRobots)
	}

	if cfg.SimilarityThreshold != 0.85 {
		t.Errorf("Expected similarity threshold 0.85, got %v", cfg.SimilarityThreshold)
	}

	if cfg.StorageBackend != "sqlite" {
		t.Errorf("Expected storage backend 'sqlite', got %s", cfg.StorageBackend)
	}

	if cfg.DatabasePath != "./skein.db" {
		t.Errorf("Expected database path './skein.db', got %s", cfg.DatabasePath)
	}
}

func TestConfigValidate(t *testing.T) {
	newValid := func() *CrawlConfig {
		cfg := DefaultConfig()
		cfg.SeedURLs = []string{"https://example.com"}
		return cfg
	}

	tests := []struct {
		name    string
		config  *CrawlConfig
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  newValid(),
			wantErr: false,
		},
		{
			name: "invalid workers",
			config: &CrawlConfig{
				Workers:        0,
				PageTimeout:    30 * time.Second,
				StorageBackend: "sqlite",
				DatabasePath:   "./test.db",
				RenderMode:     RenderAuto,
			},
			wantErr: true,
		},
		{
			name: "invalid timeout",
			config: &CrawlConfig{
				Workers:        10,
				PageTimeout:    0,
				StorageBackend: "sqlite",
				DatabasePath:   "./test.db",
				RenderMode:     RenderAuto,
			},
			wantErr: true,
		},
		{
			name: "empty database path",
			config: &CrawlConfig{
				Workers:        10,
				PageTimeout:    30 * time.Second,
				StorageBackend: "sqlite",
				DatabasePath:   "",
				RenderMode:     RenderAuto,
			},
			wantErr: true,
		},
		{
			name: "unknown storage backend",
			config: &CrawlConfig{
				Workers:        10,
				PageTimeout:    30 * time.Second,
				StorageBackend: "mongo",
				RenderMode:     RenderAuto,
			},
			wantErr: true,
		},
		{
			name: "unknown render mode",
			config: &CrawlConfig{
				Workers:        10,
				PageTimeout:    30 * time.Second,
				StorageBackend: "sqlite",
				DatabasePath:   "./test.db",
				RenderMode:     "headless",
			},
			wantErr: true,
		},
		{
			name: "minimum delay enforcement",
			config: &CrawlConfig{
				Workers:        10,
				MinDelay:       50 * time.Millisecond,
				PageTimeout:    30 * time.Second,
				StorageBackend: "sqlite",
				DatabasePath:   "./test.db",
				RenderMode:     RenderAuto,
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}

			if tt.name == "minimum delay enforcement" && tt.config.MinDelay < 100*time.Millisecond {
				t.Errorf("Expected minimum delay to be enforced, got %v", tt.config.MinDelay)
			}
		})
	}
}

func TestGetBasicAuthCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth = &Auth{
		Type: AuthBasic,
		Basic: &BasicAuth{
			Username: "alice",
			Password: "hunter2",
		},
	}

	user, pass := cfg.GetBasicAuthCredentials()
	if user != "alice" || pass != "hunter2" {
		t.Errorf("expected alice/hunter2, got %s/%s", user, pass)
	}
}

func TestGetBasicAuthCredentialsFromEnv(t *testing.T) {
	t.Setenv("TEST_USER", "bob")
	t.Setenv("TEST_PASS", "swordfish")

	cfg := DefaultConfig()
	cfg.Auth = &Auth{
		Type: AuthBasic,
		Basic: &BasicAuth{
			UsernameEnv: "TEST_USER",
			PasswordEnv: "TEST_PASS",
		},
	}

	user, pass := cfg.GetBasicAuthCredentials()
	if user != "bob" || pass != "swordfish" {
		t.Errorf("expected bob/swordfish, got %s/%s", user, pass)
	}
}

func TestGetBearerToken(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth = &Auth{Type: AuthBearer, Token: "abc123"}
	if got := cfg.GetBearerToken(); got != "abc123" {
		t.Errorf("expected abc123, got %s", got)
	}

	t.Setenv("TEST_TOKEN", "envtoken")
	cfg.Auth.TokenEnv = "TEST_TOKEN"
	if got := cfg.GetBearerToken(); got != "envtoken" {
		t.Errorf("expected envtoken, got %s", got)
	}
}

func TestGetAPIKeyCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth = &Auth{
		Type: AuthAPIKey,
		APIKey: &APIKeyAuth{
			Header: "X-API-Key",
			Value:  "plain-value",
		},
	}

	header, value := cfg.GetAPIKeyCredentials()
	if header != "X-API-Key" || value != "plain-value" {
		t.Errorf("unexpected header/value: %s/%s", header, value)
	}
}

func TestLoadHeadersFromEnv(t *testing.T) {
	os.Setenv("SKEIN_HEADER_X_CUSTOM", "value1")
	defer os.Unsetenv("SKEIN_HEADER_X_CUSTOM")

	cfg := DefaultConfig()
	cfg.LoadHeadersFromEnv()

	found := false
	for _, h := range cfg.Headers {
		if h == "X_CUSTOM: value1" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a header derived from SKEIN_HEADER_X_CUSTOM, got %v", cfg.Headers)
	}
}

func TestBuildSessionContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Headers = []string{"X-Foo: bar", "malformed-header"}
	cfg.Auth = &Auth{Type: AuthBearer, Token: "tok"}

	sc := cfg.BuildSessionContext()
	if sc.Headers["X-Foo"] != "bar" {
		t.Errorf("expected header X-Foo=bar, got %v", sc.Headers)
	}
	if len(sc.Headers) != 1 {
		t.Errorf("expected malformed header to be skipped, got %v", sc.Headers)
	}
	if sc.BearerToken != "tok" {
		t.Errorf("expected bearer token tok, got %s", sc.BearerToken)
	}
}

func TestBuildSessionContextAuthVariants(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Auth = &Auth{Type: AuthBasic, Basic: &BasicAuth{Username: "alice", Password: "hunter2"}}
	sc := cfg.BuildSessionContext()
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("alice:hunter2"))
	if sc.Headers["Authorization"] != want {
		t.Errorf("basic auth header = %q, want %q", sc.Headers["Authorization"], want)
	}

	cfg.Auth = &Auth{Type: AuthAPIKey, APIKey: &APIKeyAuth{Header: "X-API-Key", Value: "k123"}}
	sc = cfg.BuildSessionContext()
	if sc.Headers["X-API-Key"] != "k123" {
		t.Errorf("api key header = %q, want k123", sc.Headers["X-API-Key"])
	}
}
