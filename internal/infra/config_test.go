package infra

import (
	"testing"
	"time"
)

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("PORT", "")
	t.Setenv("STORAGE_BASE_URL", "")
	t.Setenv("JOB_RETRY_DELAYS", "")
	t.Setenv("WEBHOOK_RETRY_DELAYS", "")
	t.Setenv("IMAGE_SOURCE_HOST_ALLOWLIST", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "http://localhost:8080/static" {
		t.Fatalf("StorageBaseURL mismatch: got %q", cfg.StorageBaseURL)
	}
	if cfg.PollMaxIterations != 300 || cfg.PollInterval != time.Second {
		t.Fatalf("poll defaults mismatch: %d %s", cfg.PollMaxIterations, cfg.PollInterval)
	}
	if len(cfg.JobRetryDelays) != 2 || cfg.JobRetryDelays[0] != 15*time.Second || cfg.JobRetryDelays[1] != time.Minute {
		t.Fatalf("JobRetryDelays mismatch: %v", cfg.JobRetryDelays)
	}
	want := []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute, 2 * time.Hour}
	if len(cfg.WebhookRetryDelays) != len(want) {
		t.Fatalf("WebhookRetryDelays mismatch: %v", cfg.WebhookRetryDelays)
	}
	for i := range want {
		if cfg.WebhookRetryDelays[i] != want[i] {
			t.Fatalf("WebhookRetryDelays[%d] = %s, want %s", i, cfg.WebhookRetryDelays[i], want[i])
		}
	}
	if cfg.ImageSourceAllowlist != nil {
		t.Fatalf("allowlist should be disabled by default: %#v", cfg.ImageSourceAllowlist)
	}
	if cfg.Provider != "mock" {
		t.Fatalf("Provider = %q, want mock", cfg.Provider)
	}
}

func TestLoadConfigInheritsPortInStorageBaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("PORT", "1919")
	t.Setenv("STORAGE_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StorageBaseURL != "http://localhost:1919/static" {
		t.Fatalf("StorageBaseURL mismatch: got %q", cfg.StorageBaseURL)
	}
}

func TestLoadConfigMergesExplicitAllowlist(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("STORAGE_BASE_URL", "https://cdn.example.com/static")
	t.Setenv("IMAGE_SOURCE_HOST_ALLOWLIST", "media.example.com, Localhost ")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	expected := []string{"cdn.example.com", "localhost", "media.example.com"}
	if len(cfg.ImageSourceAllowlist) != len(expected) {
		t.Fatalf("ImageSourceAllowlist mismatch: got %#v want %#v", cfg.ImageSourceAllowlist, expected)
	}
	for i, host := range expected {
		if cfg.ImageSourceAllowlist[i] != host {
			t.Fatalf("ImageSourceAllowlist[%d] = %q, want %q", i, cfg.ImageSourceAllowlist[i], host)
		}
	}
}

func TestLoadConfigParsesDurationLists(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("JOB_RETRY_DELAYS", "1s, 2s,3s")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.JobRetryDelays) != 3 || cfg.JobRetryDelays[2] != 3*time.Second {
		t.Fatalf("JobRetryDelays mismatch: %v", cfg.JobRetryDelays)
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("PollInterval mismatch: %s", cfg.PollInterval)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("KafkaBrokers mismatch: %v", cfg.KafkaBrokers)
	}
}

func TestLoadConfigFallsBackOnMalformedDurations(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("WEBHOOK_RETRY_DELAYS", "1m,soon")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.WebhookRetryDelays) != 4 {
		t.Fatalf("expected default webhook delays, got %v", cfg.WebhookRetryDelays)
	}
}
