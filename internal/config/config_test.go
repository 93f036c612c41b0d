package config

import (
	"testing"
	"time"
)

// TestLoadDefaults verifies the defaults used when no environment is set
func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"NOMAD_API_URL", "NOMAD_OASIS", "NOMAD_CLIENT_ACCESS_TOKEN",
		"NOMAD_USERNAME", "NOMAD_PASSWORD", "NOMAD_SECTION_TYPE",
		"NOMAD_CACHE_DIR", "NOMAD_CACHE_ENABLED", "NOMAD_ENTRIES_EXPIRY",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	if cfg.SectionType != "HySprint_Sample" {
		t.Errorf("Expected default section type, got %s", cfg.SectionType)
	}
	if cfg.CacheDir != ".nomad_cache" {
		t.Errorf("Expected default cache dir, got %s", cfg.CacheDir)
	}
	if !cfg.CacheEnabled {
		t.Error("Cache should be enabled by default")
	}
	if cfg.EntriesExpiry != 24*time.Hour || cfg.UsersExpiry != 168*time.Hour || cfg.UploadsExpiry != 48*time.Hour {
		t.Errorf("Unexpected default expiries: %v / %v / %v",
			cfg.EntriesExpiry, cfg.UsersExpiry, cfg.UploadsExpiry)
	}
}

// TestLoadFromEnvironment verifies env values override the defaults
func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("NOMAD_CLIENT_ACCESS_TOKEN", "tok-1")
	t.Setenv("NOMAD_CACHE_ENABLED", "false")
	t.Setenv("NOMAD_ENTRIES_EXPIRY", "1h")
	t.Setenv("NOMAD_REQUESTS_PER_SECOND", "2.5")

	cfg := Load()
	if cfg.Token != "tok-1" {
		t.Errorf("Expected token tok-1, got %s", cfg.Token)
	}
	if cfg.CacheEnabled {
		t.Error("Cache should be disabled by env")
	}
	if cfg.EntriesExpiry != time.Hour {
		t.Errorf("Expected 1h entries expiry, got %v", cfg.EntriesExpiry)
	}
	if cfg.RequestsPerSecond != 2.5 {
		t.Errorf("Expected 2.5 rps, got %v", cfg.RequestsPerSecond)
	}
}

// TestResolveBaseURLPrecedence verifies explicit URL > oasis name > default
func TestResolveBaseURLPrecedence(t *testing.T) {
	cfg := &Config{BaseURL: "https://example.org/api/v1", OasisName: "CE Oasis"}
	if got := cfg.ResolveBaseURL(); got != "https://example.org/api/v1" {
		t.Errorf("Explicit URL should win, got %s", got)
	}

	cfg = &Config{OasisName: "CE Oasis"}
	if got := cfg.ResolveBaseURL(); got != OasisOptions["CE Oasis"] {
		t.Errorf("Oasis name should resolve, got %s", got)
	}

	cfg = &Config{OasisName: "No Such Oasis"}
	if got := cfg.ResolveBaseURL(); got != OasisOptions[DefaultOasis] {
		t.Errorf("Unknown oasis should fall back to default, got %s", got)
	}

	cfg = &Config{}
	if got := cfg.ResolveBaseURL(); got != OasisOptions[DefaultOasis] {
		t.Errorf("Empty config should use the default oasis, got %s", got)
	}
}
