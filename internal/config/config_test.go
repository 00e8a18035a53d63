package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Provider.PrimaryAuthority != "org.dmfs.tasks" {
		t.Errorf("Expected primary authority org.dmfs.tasks, got %q", cfg.Provider.PrimaryAuthority)
	}
	if cfg.Provider.CompatAuthority != "org.tasks.opentasks" {
		t.Errorf("Expected compat authority org.tasks.opentasks, got %q", cfg.Provider.CompatAuthority)
	}
	if cfg.Provider.MinVersion != "v1.0.0" {
		t.Errorf("Expected min version v1.0.0, got %q", cfg.Provider.MinVersion)
	}
	if len(cfg.Provider.AccountTypes) != 2 || cfg.Provider.AccountTypes[0] != "bitfire.at.davdroid" {
		t.Errorf("Unexpected account types: %v", cfg.Provider.AccountTypes)
	}
	if cfg.Provider.Path != filepath.Join(".taskbridge", "provider.db") {
		t.Errorf("Unexpected provider path: %q", cfg.Provider.Path)
	}
	if cfg.Jobs.Workers != 2 || !cfg.Jobs.Coalesce {
		t.Errorf("Unexpected jobs config: %+v", cfg.Jobs)
	}
	if cfg.Jobs.Debounce != 250*time.Millisecond || cfg.Jobs.JobTimeout != 30*time.Second {
		t.Errorf("Unexpected jobs durations: %+v", cfg.Jobs)
	}
	if cfg.Feed.PollInterval != 2*time.Second {
		t.Errorf("Expected poll interval 2s, got %v", cfg.Feed.PollInterval)
	}
	if cfg.Dashboard.Port != 8080 {
		t.Errorf("Expected dashboard port 8080, got %d", cfg.Dashboard.Port)
	}
	if cfg.Log.File != "" || cfg.Log.Debug {
		t.Errorf("Expected stderr logging without debug, got %+v", cfg.Log)
	}
	if !strings.HasPrefix(cfg.Client.Origin, "taskbridge-") {
		t.Errorf("Expected generated origin, got %q", cfg.Client.Origin)
	}
	if cfg.File != "" {
		t.Errorf("Expected no config file, got %q", cfg.File)
	}
}

func TestLoad_OriginIsPerProcess(t *testing.T) {
	t.Chdir(t.TempDir())

	a, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	b, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if a.Client.Origin == b.Client.Origin {
		t.Errorf("Expected distinct generated origins, both %q", a.Client.Origin)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TASKBRIDGE_JOBS_WORKERS", "5")
	t.Setenv("TASKBRIDGE_JOBS_DEBOUNCE", "1s")
	t.Setenv("TASKBRIDGE_PROVIDER_PRIMARY_AUTHORITY", "com.example.tasks")
	t.Setenv("TASKBRIDGE_CLIENT_ORIGIN", "fixed")
	t.Setenv("TASKBRIDGE_LOG_DEBUG", "true")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Jobs.Workers != 5 {
		t.Errorf("Expected 5 workers from env, got %d", cfg.Jobs.Workers)
	}
	if cfg.Jobs.Debounce != time.Second {
		t.Errorf("Expected 1s debounce from env, got %v", cfg.Jobs.Debounce)
	}
	if cfg.Provider.PrimaryAuthority != "com.example.tasks" {
		t.Errorf("Expected authority from env, got %q", cfg.Provider.PrimaryAuthority)
	}
	if cfg.Client.Origin != "fixed" {
		t.Errorf("Expected origin from env, got %q", cfg.Client.Origin)
	}
	if !cfg.Log.Debug {
		t.Error("Expected debug logging from env")
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	if err := os.MkdirAll(DirName, 0755); err != nil {
		t.Fatal(err)
	}
	content := `
provider:
  path: /data/provider.db
jobs:
  workers: 4
  coalesce: false
dashboard:
  port: 9090
`
	if err := os.WriteFile(filepath.Join(DirName, "taskbridge.yaml"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TASKBRIDGE_DASHBOARD_PORT", "9191")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Provider.Path != "/data/provider.db" {
		t.Errorf("Expected provider path from file, got %q", cfg.Provider.Path)
	}
	if cfg.Jobs.Workers != 4 || cfg.Jobs.Coalesce {
		t.Errorf("Expected jobs from file, got %+v", cfg.Jobs)
	}
	if cfg.Dashboard.Port != 9191 {
		t.Errorf("Expected env to win over file, got port %d", cfg.Dashboard.Port)
	}
	if cfg.Jobs.JobTimeout != 30*time.Second {
		t.Errorf("Expected default job timeout, got %v", cfg.Jobs.JobTimeout)
	}
	if !strings.HasSuffix(cfg.File, "taskbridge.yaml") {
		t.Errorf("Expected config file to be reported, got %q", cfg.File)
	}
}

func TestLoad_ExplicitTOMLFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "custom.toml")
	content := `
[mirror]
path = "/tmp/m.db"

[feed]
poll_interval = "500ms"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Mirror.Path != "/tmp/m.db" {
		t.Errorf("Expected mirror path from file, got %q", cfg.Mirror.Path)
	}
	if cfg.Feed.PollInterval != 500*time.Millisecond {
		t.Errorf("Expected 500ms poll interval, got %v", cfg.Feed.PollInterval)
	}
	if cfg.LockPath() != filepath.Join("/tmp", "watch.lock") {
		t.Errorf("Unexpected lock path %q", cfg.LockPath())
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Expected error for a missing explicit config file")
	}
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TASKBRIDGE_JOBS_WORKERS", "0")

	if _, err := Load(""); err == nil {
		t.Error("Expected error for zero workers")
	}
}
