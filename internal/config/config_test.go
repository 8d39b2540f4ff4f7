package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nicobailon/pi-messenger-sub001/pkg/models"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Crew.Runtime != "pi" {
		t.Errorf("expected runtime 'pi', got %q", cfg.Crew.Runtime)
	}
	if cfg.Crew.Concurrency != 2 {
		t.Errorf("expected concurrency 2, got %d", cfg.Crew.Concurrency)
	}
	if cfg.Crew.ShutdownGrace != 30*time.Second {
		t.Errorf("expected shutdown grace 30s, got %v", cfg.Crew.ShutdownGrace)
	}
	if !cfg.Crew.Artifacts.Enabled {
		t.Error("expected artifacts to be enabled")
	}
	if cfg.Planning.StaleAfter != 5*time.Minute {
		t.Errorf("expected stale_after 5m, got %v", cfg.Planning.StaleAfter)
	}
	if cfg.Crew.Coordination != DefaultCoordination {
		t.Errorf("expected coordination %q, got %q", DefaultCoordination, cfg.Crew.Coordination)
	}
}

func TestLoadFromPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
crew:
  concurrency: 4
  shutdown_grace: 10s
  thinking:
    planner: high
    worker: "off"
  output_budget:
    worker:
      bytes: 2048
      lines: 40
  env:
    - FOO_Bar=baz
    - broken
  artifacts:
    enabled: false
planning:
  stale_after: 2m
logging:
  level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.Crew.Concurrency != 4 {
		t.Errorf("expected concurrency 4, got %d", cfg.Crew.Concurrency)
	}
	if cfg.Crew.ShutdownGrace != 10*time.Second {
		t.Errorf("expected grace 10s, got %v", cfg.Crew.ShutdownGrace)
	}
	if got := cfg.Crew.ThinkingFor(models.RolePlanner); got != "high" {
		t.Errorf("planner thinking = %q, want high", got)
	}
	if got := cfg.Crew.ThinkingFor(models.RoleWorker); got != "off" {
		t.Errorf("worker thinking = %q, want off", got)
	}
	b, ok := cfg.Crew.BudgetFor(models.RoleWorker)
	if !ok || b.Bytes != 2048 || b.Lines != 40 {
		t.Errorf("worker budget = %+v (%v)", b, ok)
	}
	if _, ok := cfg.Crew.BudgetFor(models.RoleReviewer); ok {
		t.Error("reviewer budget should be unset")
	}
	env := cfg.Crew.EnvMap()
	if env["FOO_Bar"] != "baz" || len(env) != 1 {
		t.Errorf("env = %v", env)
	}
	if cfg.Crew.Artifacts.Enabled {
		t.Error("expected artifacts disabled")
	}
	if cfg.Planning.StaleAfter != 2*time.Minute {
		t.Errorf("stale_after = %v", cfg.Planning.StaleAfter)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q", cfg.Logging.Level)
	}
}

func TestLoadProjectOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cwd := t.TempDir()
	writeProject(t, cwd, `{"concurrency": 5, "artifacts": {"dir": "out"}}`)

	cfg, err := Load(cwd)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Crew.Concurrency != 5 {
		t.Errorf("expected project concurrency 5, got %d", cfg.Crew.Concurrency)
	}
	if got, want := cfg.Crew.ArtifactsDir(cwd), filepath.Join(cwd, "out"); got != want {
		t.Errorf("ArtifactsDir = %q, want %q", got, want)
	}
	if len(cfg.Warnings) != 0 {
		t.Errorf("unexpected warnings: %v", cfg.Warnings)
	}
}

func TestLoadMalformedProjectIgnored(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cwd := t.TempDir()
	writeProject(t, cwd, `{"concurrency": `)

	cfg, err := Load(cwd)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Crew.Concurrency != 2 {
		t.Errorf("expected default concurrency, got %d", cfg.Crew.Concurrency)
	}
	if len(cfg.Warnings) != 1 {
		t.Errorf("expected one warning, got %v", cfg.Warnings)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("PI_CREW_CONCURRENCY", "7")
	t.Setenv("PI_CREW_SHUTDOWN_GRACE", "1s")

	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Crew.Concurrency != 7 {
		t.Errorf("concurrency = %d, want 7", cfg.Crew.Concurrency)
	}
	if cfg.Crew.ShutdownGrace != time.Second {
		t.Errorf("grace = %v, want 1s", cfg.Crew.ShutdownGrace)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := Default()
	if err := cfg.Set("crew.concurrency", "3"); err != nil {
		t.Fatal(err)
	}
	if err := cfg.Set("crew.output_budget.planner.lines", "100"); err != nil {
		t.Fatal(err)
	}
	if err := Save(cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Crew.Concurrency != 3 {
		t.Errorf("concurrency = %d, want 3", loaded.Crew.Concurrency)
	}
	if b, _ := loaded.Crew.BudgetFor(models.RolePlanner); b.Lines != 100 {
		t.Errorf("planner lines = %d, want 100", b.Lines)
	}
}

func TestValueAndSet(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		wantErr bool
	}{
		{"crew.runtime", "pi-dev", false},
		{"crew.concurrency", "0", true},
		{"crew.concurrency", "6", false},
		{"crew.shutdown_grace", "nope", true},
		{"crew.shutdown_grace", "45s", false},
		{"crew.artifacts.enabled", "false", false},
		{"crew.coordination", "chatty", false},
		{"crew.coordination", "loud", true},
		{"crew.thinking.worker", "low", false},
		{"crew.thinking.janitor", "low", true},
		{"crew.output_budget.worker.bytes", "1024", false},
		{"crew.output_budget.worker.words", "1", true},
		{"planning.max_passes", "2", false},
		{"no.such.key", "1", true},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			cfg := Default()
			err := cfg.Set(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Set() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			got, err := cfg.Value(tt.key)
			if err != nil {
				t.Fatalf("Value() error: %v", err)
			}
			want := tt.value
			if tt.key == "crew.shutdown_grace" {
				want = "45s"
			}
			if got != want {
				t.Errorf("Value(%q) = %q, want %q", tt.key, got, want)
			}
		})
	}
}

func TestInvalidRoleSentinel(t *testing.T) {
	cfg := Default()
	_, err := cfg.Value("crew.thinking.nobody")
	if !errors.Is(err, ErrInvalidRole) {
		t.Errorf("expected ErrInvalidRole, got %v", err)
	}
}

func writeProject(t *testing.T, cwd, content string) {
	t.Helper()
	path := ProjectConfigPath(cwd)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
