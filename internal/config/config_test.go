package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestIntEnvParsesValue(t *testing.T) {
	t.Setenv("MSGRELAY_TEST_INT", "42")
	if got := intEnv("MSGRELAY_TEST_INT", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	t.Setenv("MSGRELAY_TEST_INT", "0x01060000")
	if got := intEnv("MSGRELAY_TEST_INT", 7); got != 0x01060000 {
		t.Fatalf("expected hex value, got %#x", got)
	}
}

func TestIntEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("MSGRELAY_TEST_INT_BAD", "not-a-number")
	if got := intEnv("MSGRELAY_TEST_INT_BAD", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
}

func TestDurationEnvParsesValue(t *testing.T) {
	t.Setenv("MSGRELAY_TEST_DURATION", "150ms")
	if got := durationEnv("MSGRELAY_TEST_DURATION", time.Second); got != 150*time.Millisecond {
		t.Fatalf("expected 150ms, got %s", got)
	}
}

func TestDurationEnvFallsBackOnInvalidValue(t *testing.T) {
	t.Setenv("MSGRELAY_TEST_DURATION_BAD", "soon")
	if got := durationEnv("MSGRELAY_TEST_DURATION_BAD", 2*time.Second); got != 2*time.Second {
		t.Fatalf("expected fallback 2s, got %s", got)
	}
}

func TestEnvHelpersUseFallbackWhenUnset(t *testing.T) {
	_ = os.Unsetenv("MSGRELAY_TEST_INT_UNSET")
	_ = os.Unsetenv("MSGRELAY_TEST_BOOL_UNSET")
	if got := intEnv("MSGRELAY_TEST_INT_UNSET", 9); got != 9 {
		t.Fatalf("expected fallback 9, got %d", got)
	}
	if got := boolEnv("MSGRELAY_TEST_BOOL_UNSET", true); !got {
		t.Fatalf("expected fallback true")
	}
}

func TestLoadFileMissingUsesDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load missing file: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.MinClientVersion != DefaultMinClientVersion || cfg.RequestTimeout != 60*time.Second {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.MaxBodyBytes != 32<<20 || cfg.InlinePayloadLimit != 1000000 {
		t.Fatalf("unexpected size defaults %+v", cfg)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "msgrelay.yaml")
	data := []byte(`
addr: ":9090"
version_id: "01060000p.3"
min_client_version: 0x01070000
request_timeout: 30s
storage:
  datastore_dsn: "sqlite:///var/lib/msgrelay/relay.db"
  blob_dsn: "s3://relay-blobs/payloads"
push:
  apns_reply_wait: 500ms
log:
  level: warn
  console: true
`)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.VersionID != "01060000p.3" || cfg.MinClientVersion != 0x01070000 {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.RequestTimeout != 30*time.Second || cfg.Push.APNSReplyWait != 500*time.Millisecond {
		t.Fatalf("unexpected durations %+v", cfg)
	}
	if cfg.Storage.BlobDSN != "s3://relay-blobs/payloads" || cfg.Log.Level != "warn" || !cfg.Log.Console {
		t.Fatalf("unexpected nested config %+v", cfg)
	}
	if cfg.Credentials.CacheTTL != 10*time.Minute {
		t.Fatalf("expected untouched default cache ttl, got %s", cfg.Credentials.CacheTTL)
	}
}

func TestLoadFileRejectsInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("addr: [unterminated"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadAppliesEnvFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "test.env")
	if err := os.WriteFile(envFile, []byte("MSGRELAY_TEST_DOTENV_ONLY=1\nMSGRELAY_NATS_SUBJECT=relay.test.canonical\n"), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Unsetenv("MSGRELAY_TEST_DOTENV_ONLY")
		_ = os.Unsetenv("MSGRELAY_NATS_SUBJECT")
	})
	t.Setenv("HTTPS", "on")
	t.Setenv("CURRENT_VERSION_ID", "01060000.1")
	t.Setenv("MSGRELAY_RATE_LIMIT_MAX", "5")
	t.Setenv("MSGRELAY_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(filepath.Join(dir, "absent.yaml"), envFile)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if os.Getenv("MSGRELAY_TEST_DOTENV_ONLY") != "1" {
		t.Fatalf("expected env file to be loaded")
	}
	if cfg.HTTPS != "on" || cfg.VersionID != "01060000.1" || cfg.RateLimit.Max != 5 {
		t.Fatalf("unexpected env overrides %+v", cfg)
	}
	if cfg.Events.Subject != "relay.test.canonical" {
		t.Fatalf("expected subject from env file, got %q", cfg.Events.Subject)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("unexpected origins %v", cfg.CORS.AllowedOrigins)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RequestTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected zero timeout to be rejected")
	}
	cfg = DefaultConfig()
	cfg.MinClientVersion = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected zero min client version to be rejected")
	}
}

func TestTrustForwardedProtoDefaultsOff(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.TrustForwardedProto {
		t.Fatalf("expected forwarded proto to be untrusted by default")
	}
	t.Setenv("MSGRELAY_TRUST_FORWARDED_PROTO", "true")
	cfg.ApplyEnv()
	if !cfg.TrustForwardedProto {
		t.Fatalf("expected env to enable forwarded proto trust")
	}
}
