package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bedtime.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(body)), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(t.TempDir()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("BEDTIME_DATA_DIR", "/tmp/bedtime-data")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Path() != "" {
		t.Fatalf("expected no config path, got %q", cfg.Path())
	}
	if cfg.Client.APIBase != DefaultAPIBase {
		t.Fatalf("expected default api base, got %q", cfg.Client.APIBase)
	}
	if cfg.Client.PushURL != "ws://127.0.0.1:3001/ws" {
		t.Fatalf("expected derived push url, got %q", cfg.Client.PushURL)
	}
	if cfg.Client.PushTimeout != DefaultPushTimeout {
		t.Fatalf("expected default push timeout, got %s", cfg.Client.PushTimeout)
	}
	if cfg.Server.Port != DefaultPort || cfg.Server.Store.Backend != "memory" {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.LogFilePath() != filepath.Join("/tmp/bedtime-data", "logs", "bedtime.log") {
		t.Fatalf("unexpected log path %q", cfg.LogFilePath())
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit file")
	}
}

func TestLoadParsesYaml(t *testing.T) {
	path := writeConfig(t, `
version: 1
log_level: DEBUG
client:
  api_base: https://plan.example.com/
  variant: V1
  policy: manual
  push_timeout: 3s
  cache_driver: sqlite
  data_dir: state
server:
  host: 0.0.0.0
  port: 8080
  store:
    backend: nats
    nats_url: nats://127.0.0.1:4222
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.LogLevel != "debug" || cfg.Client.Variant != "v1" || cfg.Client.Policy != "manual" {
		t.Fatalf("expected lowercased enums, got %+v", cfg)
	}
	if cfg.Client.APIBase != "https://plan.example.com" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.Client.APIBase)
	}
	if cfg.Client.PushURL != "wss://plan.example.com/ws" {
		t.Fatalf("expected wss push url, got %q", cfg.Client.PushURL)
	}
	if cfg.Client.PushTimeout != 3*time.Second {
		t.Fatalf("expected 3s push timeout, got %s", cfg.Client.PushTimeout)
	}
	if cfg.Client.DataDir != filepath.Join(filepath.Dir(path), "state") {
		t.Fatalf("expected data dir resolved against config dir, got %q", cfg.Client.DataDir)
	}
	if cfg.Server.Store.NATSBucket != DefaultNATSBucket {
		t.Fatalf("expected default bucket, got %q", cfg.Server.Store.NATSBucket)
	}
}

func TestLoadHonorsEnv(t *testing.T) {
	path := writeConfig(t, `
client:
  api_base: http://10.0.0.5:3001
`)
	t.Setenv("BEDTIME_API_BASE", "http://192.168.1.20:9000")
	t.Setenv("BEDTIME_PUSH_URL", "http://192.168.1.20:9000/state/stream")
	t.Setenv("BEDTIME_SYNC_POLICY", "manual")
	t.Setenv("BEDTIME_PUSH_TIMEOUT", "250ms")
	t.Setenv("BEDTIME_PORT", "9001")
	t.Setenv("BEDTIME_STORE_BACKEND", "postgres")
	t.Setenv("BEDTIME_POSTGRES_DSN", "postgres://localhost/bedtime")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Client.APIBase != "http://192.168.1.20:9000" {
		t.Fatalf("expected env api base, got %q", cfg.Client.APIBase)
	}
	if cfg.Client.PushURL != "http://192.168.1.20:9000/state/stream" {
		t.Fatalf("expected env push url, got %q", cfg.Client.PushURL)
	}
	if cfg.Client.Policy != "manual" || cfg.Client.PushTimeout != 250*time.Millisecond {
		t.Fatalf("env overrides not applied: %+v", cfg.Client)
	}
	if cfg.Server.Port != 9001 || cfg.Server.Store.Backend != "postgres" {
		t.Fatalf("env overrides not applied: %+v", cfg.Server)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]string{
		"unknown variant":   "client:\n  variant: v3",
		"unknown policy":    "client:\n  policy: sometimes",
		"bad api base":      "client:\n  api_base: ftp://x",
		"bad port":          "server:\n  port: 70000",
		"postgres no dsn":   "server:\n  store:\n    backend: postgres",
		"nats no url":       "server:\n  store:\n    backend: nats",
		"unknown backend":   "server:\n  store:\n    backend: redis",
		"unknown log level": "log_level: loud",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatalf("expected validation error but got none")
			}
		})
	}
}

func TestLoadRejectsBadEnv(t *testing.T) {
	t.Setenv("BEDTIME_PORT", "three-thousand")
	if _, err := Load(writeConfig(t, "version: 1")); err == nil {
		t.Fatalf("expected error for non-numeric BEDTIME_PORT")
	}
}

func TestEnsureFileWritesLoadableDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "bedtime.yaml")
	wrote, err := EnsureFile(path)
	if err != nil || !wrote {
		t.Fatalf("EnsureFile: wrote=%v err=%v", wrote, err)
	}
	wrote, err = EnsureFile(path)
	if err != nil || wrote {
		t.Fatalf("second EnsureFile should leave the file alone: wrote=%v err=%v", wrote, err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("default file does not load: %v", err)
	}
	if cfg.Path() != path {
		t.Fatalf("expected path %q, got %q", path, cfg.Path())
	}
}
