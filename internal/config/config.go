// Package config loads crew configuration.
//
// Values are layered, lowest precedence first: built-in defaults, the user
// config (~/.config/pi-messenger/config.yaml), the project config
// (<cwd>/.pi/messenger/crew/config.json), and PI_CREW_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/nicobailon/pi-messenger-sub001/pkg/models"
)

// ErrInvalidRole is returned when a role-keyed setting names an unknown role.
var ErrInvalidRole = errors.New("invalid role")

// Config holds all crew configuration.
type Config struct {
	Crew     CrewConfig     `mapstructure:"crew"`
	Planning PlanningConfig `mapstructure:"planning"`
	Logging  LoggingConfig  `mapstructure:"logging"`

	// Warnings collects non-fatal problems seen while loading, such as a
	// malformed project config that was ignored.
	Warnings []string `mapstructure:"-"`
}

// DefaultCoordination is the coordination level lobby workers start with.
const DefaultCoordination = "moderate"

// CoordinationLevels lists how much lobby workers talk to the rest of the
// crew, quietest first.
var CoordinationLevels = []string{"none", "minimal", "moderate", "chatty"}

// ValidCoordination reports whether level is one of CoordinationLevels.
func ValidCoordination(level string) bool {
	for _, l := range CoordinationLevels {
		if l == level {
			return true
		}
	}
	return false
}

// CrewConfig holds worker orchestration settings.
type CrewConfig struct {
	Runtime       string                         `mapstructure:"runtime"`
	Concurrency   int                            `mapstructure:"concurrency"`
	Extension     string                         `mapstructure:"extension"`
	ShutdownGrace time.Duration                  `mapstructure:"shutdown_grace"`
	Coordination  string                         `mapstructure:"coordination"`
	Artifacts     ArtifactsConfig                `mapstructure:"artifacts"`
	Thinking      map[string]string              `mapstructure:"thinking"`
	OutputBudget  map[string]models.OutputBudget `mapstructure:"output_budget"`
	// Env entries are KEY=VALUE so variable names keep their case.
	Env       []string `mapstructure:"env"`
	AgentDirs []string `mapstructure:"agent_dirs"`
}

// ArtifactsConfig controls per-task artifact archival.
type ArtifactsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// PlanningConfig holds planning supervisor settings.
type PlanningConfig struct {
	StaleAfter time.Duration `mapstructure:"stale_after"`
	MaxPasses  int           `mapstructure:"max_passes"`
}

// LoggingConfig holds debug log settings.
type LoggingConfig struct {
	Level string `mapstructure:"level"`
}

// ThinkingFor returns the configured thinking level for a role, or "".
func (c *CrewConfig) ThinkingFor(role models.Role) string {
	if c.Thinking == nil {
		return ""
	}
	return strings.TrimSpace(c.Thinking[string(role)])
}

// BudgetFor returns the configured output budget for a role.
func (c *CrewConfig) BudgetFor(role models.Role) (models.OutputBudget, bool) {
	if c.OutputBudget == nil {
		return models.OutputBudget{}, false
	}
	b, ok := c.OutputBudget[string(role)]
	if !ok || b.IsZero() {
		return models.OutputBudget{}, false
	}
	return b, true
}

// EnvMap parses Env into a map. Entries without '=' are skipped.
func (c *CrewConfig) EnvMap() map[string]string {
	out := make(map[string]string, len(c.Env))
	for _, kv := range c.Env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		out[k] = v
	}
	return out
}

// ArtifactsDir returns the artifact directory for cwd.
func (c *CrewConfig) ArtifactsDir(cwd string) string {
	if c.Artifacts.Dir == "" {
		return filepath.Join(CrewDir(cwd), "artifacts")
	}
	if filepath.IsAbs(c.Artifacts.Dir) {
		return c.Artifacts.Dir
	}
	return filepath.Join(cwd, c.Artifacts.Dir)
}

// MessengerDir returns the coordination directory for a project.
func MessengerDir(cwd string) string {
	return filepath.Join(cwd, ".pi", "messenger")
}

// CrewDir returns the crew control directory for a project.
func CrewDir(cwd string) string {
	return filepath.Join(MessengerDir(cwd), "crew")
}

// ProjectConfigPath returns the project config path for cwd.
func ProjectConfigPath(cwd string) string {
	return filepath.Join(CrewDir(cwd), "config.json")
}

// UserConfigPath returns the path to the user config file.
func UserConfigPath() string {
	return filepath.Join(userConfigDir(), "config.yaml")
}

// Load loads configuration for the project rooted at cwd.
func Load(cwd string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir())
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	var warnings []string
	if cwd != "" {
		if w := mergeProject(v, ProjectConfigPath(cwd)); w != "" {
			warnings = append(warnings, w)
		}
	}

	bindEnv(v)

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.Warnings = warnings
	normalize(cfg)
	return cfg, nil
}

// LoadFromPath loads configuration from a single file (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	normalize(cfg)
	return cfg, nil
}

// mergeProject merges the project JSON config into v. A missing file is
// silent; an unreadable or malformed one is ignored and reported.
func mergeProject(v *viper.Viper, path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}
	pv := viper.New()
	pv.SetConfigFile(path)
	pv.SetConfigType("json")
	if err := pv.ReadInConfig(); err != nil {
		return fmt.Sprintf("ignoring project config %s: %v", path, err)
	}
	// Project files may omit the "crew" wrapper since they already live in
	// the crew directory.
	settings := pv.AllSettings()
	if _, wrapped := settings["crew"]; !wrapped {
		crew := map[string]any{}
		for k, val := range settings {
			if k == "planning" || k == "logging" {
				continue
			}
			crew[k] = val
			delete(settings, k)
		}
		if len(crew) > 0 {
			settings["crew"] = crew
		}
	}
	if err := v.MergeConfigMap(settings); err != nil {
		return fmt.Sprintf("ignoring project config %s: %v", path, err)
	}
	return ""
}

func bindEnv(v *viper.Viper) {
	v.BindEnv("crew.runtime", "PI_CREW_RUNTIME")
	v.BindEnv("crew.concurrency", "PI_CREW_CONCURRENCY")
	v.BindEnv("crew.extension", "PI_CREW_EXTENSION")
	v.BindEnv("crew.shutdown_grace", "PI_CREW_SHUTDOWN_GRACE")
	v.BindEnv("crew.artifacts.enabled", "PI_CREW_ARTIFACTS")
	v.BindEnv("crew.artifacts.dir", "PI_CREW_ARTIFACTS_DIR")
	v.BindEnv("planning.stale_after", "PI_CREW_PLANNING_STALE_AFTER")
	v.BindEnv("planning.max_passes", "PI_CREW_PLANNING_MAX_PASSES")
	v.BindEnv("logging.level", "PI_CREW_LOG_LEVEL")
}

// Save writes cfg to the user config file.
func Save(cfg *Config) error {
	dir := userConfigDir()
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(dir, "config.yaml"))

	v.Set("crew.runtime", cfg.Crew.Runtime)
	v.Set("crew.concurrency", cfg.Crew.Concurrency)
	v.Set("crew.extension", cfg.Crew.Extension)
	v.Set("crew.shutdown_grace", cfg.Crew.ShutdownGrace.String())
	v.Set("crew.coordination", cfg.Crew.Coordination)
	v.Set("crew.artifacts.enabled", cfg.Crew.Artifacts.Enabled)
	v.Set("crew.artifacts.dir", cfg.Crew.Artifacts.Dir)
	if len(cfg.Crew.Thinking) > 0 {
		v.Set("crew.thinking", cfg.Crew.Thinking)
	}
	for role, b := range cfg.Crew.OutputBudget {
		v.Set("crew.output_budget."+role+".bytes", b.Bytes)
		v.Set("crew.output_budget."+role+".lines", b.Lines)
	}
	if len(cfg.Crew.Env) > 0 {
		v.Set("crew.env", cfg.Crew.Env)
	}
	if len(cfg.Crew.AgentDirs) > 0 {
		v.Set("crew.agent_dirs", cfg.Crew.AgentDirs)
	}
	v.Set("planning.stale_after", cfg.Planning.StaleAfter.String())
	v.Set("planning.max_passes", cfg.Planning.MaxPasses)
	v.Set("logging.level", cfg.Logging.Level)

	return v.WriteConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crew.runtime", "pi")
	v.SetDefault("crew.concurrency", 2)
	v.SetDefault("crew.extension", "")
	v.SetDefault("crew.shutdown_grace", "30s")
	v.SetDefault("crew.coordination", DefaultCoordination)
	v.SetDefault("crew.artifacts.enabled", true)
	v.SetDefault("crew.artifacts.dir", "")

	v.SetDefault("planning.stale_after", "5m")
	v.SetDefault("planning.max_passes", 3)

	v.SetDefault("logging.level", "info")
}

// normalize repairs values that would break the runtime.
func normalize(cfg *Config) {
	d := Default()
	if cfg.Crew.Runtime == "" {
		cfg.Crew.Runtime = d.Crew.Runtime
	}
	if cfg.Crew.Concurrency < 1 {
		cfg.Crew.Concurrency = 1
	}
	if cfg.Crew.ShutdownGrace <= 0 {
		cfg.Crew.ShutdownGrace = d.Crew.ShutdownGrace
	}
	if !ValidCoordination(cfg.Crew.Coordination) {
		cfg.Crew.Coordination = d.Crew.Coordination
	}
	if cfg.Planning.StaleAfter <= 0 {
		cfg.Planning.StaleAfter = d.Planning.StaleAfter
	}
	if cfg.Planning.MaxPasses < 1 {
		cfg.Planning.MaxPasses = d.Planning.MaxPasses
	}
}

func userConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "pi-messenger")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "pi-messenger")
	}
	return filepath.Join(home, ".config", "pi-messenger")
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Crew: CrewConfig{
			Runtime:       "pi",
			Concurrency:   2,
			ShutdownGrace: 30 * time.Second,
			Coordination:  DefaultCoordination,
			Artifacts:     ArtifactsConfig{Enabled: true},
		},
		Planning: PlanningConfig{
			StaleAfter: 5 * time.Minute,
			MaxPasses:  3,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Keys lists the scalar keys shown by `crew config`.
func Keys() []string {
	keys := []string{
		"crew.runtime",
		"crew.concurrency",
		"crew.extension",
		"crew.shutdown_grace",
		"crew.coordination",
		"crew.artifacts.enabled",
		"crew.artifacts.dir",
		"planning.stale_after",
		"planning.max_passes",
		"logging.level",
	}
	sort.Strings(keys)
	return keys
}
