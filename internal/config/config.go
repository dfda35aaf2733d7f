// internal/config/config.go
//
// This package handles configuration and the .claude directory layout the
// hooks write into. Every project that runs the hooks gets its state,
// audit records, context snapshots and logs under <project>/.claude/.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	// HooksDir is the per-project directory shared with the host.
	HooksDir = ".claude"

	SettingsFile = "lattice-hooks.yaml"
	StateFile    = "workflow-state.json"
	StateDBFile  = "workflow-state.db"
	ResultsDir   = "agent-results"
	ContextDir   = "agent-context"
	LogsDir      = "logs"
	LogFile      = "lattice-hooks.log"
	LogbookFile  = "workflow.log"

	// EnvPrefix prefixes environment overrides (LATTICE_HOOKS_STATE_BACKEND).
	EnvPrefix = "LATTICE_HOOKS"
	// EnvProjectDir is exported by the host to every hook.
	EnvProjectDir = "CLAUDE_PROJECT_DIR"
)

// State backends.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
)

const defaultSettingsYAML = `# lattice-hooks project settings
version: 1

# Optional catalog override (worker profiles and chains), relative to .claude/.
# catalog: lattice-catalog.yaml

state:
  # json keeps workflow-state.json; sqlite serialises concurrent hooks.
  backend: json

router:
  threshold: 0.3
  max_suggestions: 3

preparer:
  enabled: true
  max_bytes: 8192
  probe_timeout: 2s

gate:
  enabled: true
  recent_window: 2h
  transcript_tail_bytes: 262144
  protected_branches: [main, master, production]
  timeout: 5s

log:
  level: info
`

// Settings models .claude/lattice-hooks.yaml.
type Settings struct {
	Version  int              `mapstructure:"version"`
	Catalog  string           `mapstructure:"catalog"`
	State    StateSettings    `mapstructure:"state"`
	Router   RouterSettings   `mapstructure:"router"`
	Preparer PreparerSettings `mapstructure:"preparer"`
	Gate     GateSettings     `mapstructure:"gate"`
	Log      LogSettings      `mapstructure:"log"`
}

// StateSettings selects the persistence backend.
type StateSettings struct {
	Backend string `mapstructure:"backend"`
}

// RouterSettings tunes candidate selection.
type RouterSettings struct {
	Threshold      float64 `mapstructure:"threshold"`
	MaxSuggestions int     `mapstructure:"max_suggestions"`
}

// PreparerSettings bounds the context snapshot.
type PreparerSettings struct {
	Enabled      bool          `mapstructure:"enabled"`
	MaxBytes     int           `mapstructure:"max_bytes"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
}

// GateSettings configures the stop gate.
type GateSettings struct {
	Enabled             bool          `mapstructure:"enabled"`
	RecentWindow        time.Duration `mapstructure:"recent_window"`
	TranscriptTailBytes int64         `mapstructure:"transcript_tail_bytes"`
	ProtectedBranches   []string      `mapstructure:"protected_branches"`
	Timeout             time.Duration `mapstructure:"timeout"`
}

// LogSettings configures the structured log.
type LogSettings struct {
	Level string `mapstructure:"level"`
}

// Config holds the runtime configuration for one project.
type Config struct {
	// ProjectDir is the repository the host is working in.
	ProjectDir string

	// HooksProjectDir is ProjectDir/.claude.
	HooksProjectDir string

	Settings Settings
}

// DefaultSettings returns the built-in settings.
func DefaultSettings() Settings {
	return Settings{
		Version:  1,
		State:    StateSettings{Backend: BackendJSON},
		Router:   RouterSettings{Threshold: 0.3, MaxSuggestions: 3},
		Preparer: PreparerSettings{Enabled: true, MaxBytes: 8192, ProbeTimeout: 2 * time.Second},
		Gate: GateSettings{
			Enabled:             true,
			RecentWindow:        2 * time.Hour,
			TranscriptTailBytes: 256 << 10,
			ProtectedBranches:   []string{"main", "master", "production"},
			Timeout:             5 * time.Second,
		},
		Log: LogSettings{Level: "info"},
	}
}

// Default returns a configuration with built-in settings, ignoring any file.
func Default(projectDir string) *Config {
	projectDir = filepath.Clean(projectDir)
	return &Config{
		ProjectDir:      projectDir,
		HooksProjectDir: filepath.Join(projectDir, HooksDir),
		Settings:        DefaultSettings(),
	}
}

// ResolveProjectDir picks the project directory: the event's cwd, then the
// host's CLAUDE_PROJECT_DIR, then the process working directory.
func ResolveProjectDir(cwd string) string {
	if cwd = strings.TrimSpace(cwd); cwd != "" {
		return filepath.Clean(cwd)
	}
	if env := strings.TrimSpace(os.Getenv(EnvProjectDir)); env != "" {
		return filepath.Clean(env)
	}
	if wd, err := os.Getwd(); err == nil {
		return wd
	}
	return "."
}

// Load reads .claude/lattice-hooks.yaml (if present) and LATTICE_HOOKS_*
// environment overrides on top of the defaults.
func Load(projectDir string) (*Config, error) {
	cfg := Default(projectDir)
	v := viper.New()
	setDefaults(v, cfg.Settings)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := cfg.SettingsPath()
	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	settings.applyDefaults()
	settings.normalize()
	if err := settings.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.Settings = settings
	return cfg, nil
}

// Init creates the .claude directory layout and a default settings file.
//
// Structure created:
// .claude/
// ├── lattice-hooks.yaml <- project settings
// ├── agent-results/     <- one audit record per worker completion
// ├── agent-context/     <- context snapshots prepared for workers
// └── logs/              <- structured log and workflow logbook
func Init(projectDir string) (*Config, error) {
	cfg := Default(projectDir)
	dirs := []string{
		cfg.HooksProjectDir,
		cfg.ResultsDir(),
		cfg.ContextDir(),
		cfg.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("config: create %s: %w", dir, err)
		}
	}
	if err := ensureSettingsFile(cfg.SettingsPath()); err != nil {
		return nil, err
	}
	return Load(projectDir)
}

// SettingsPath returns the project settings file.
func (c *Config) SettingsPath() string {
	return filepath.Join(c.HooksProjectDir, SettingsFile)
}

// StatePath returns the JSON state file.
func (c *Config) StatePath() string {
	return filepath.Join(c.HooksProjectDir, StateFile)
}

// StateDBPath returns the SQLite state database.
func (c *Config) StateDBPath() string {
	return filepath.Join(c.HooksProjectDir, StateDBFile)
}

// ResultsDir returns the directory holding completion records.
func (c *Config) ResultsDir() string {
	return filepath.Join(c.HooksProjectDir, ResultsDir)
}

// ContextDir returns the directory holding context snapshots.
func (c *Config) ContextDir() string {
	return filepath.Join(c.HooksProjectDir, ContextDir)
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.HooksProjectDir, LogsDir)
}

// LogPath returns the structured log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.LogsDir(), LogFile)
}

// LogbookPath returns the human readable workflow logbook.
func (c *Config) LogbookPath() string {
	return filepath.Join(c.LogsDir(), LogbookFile)
}

// CatalogPath returns the catalog override file, or "" when none is set.
func (c *Config) CatalogPath() string {
	return resolvePath(c.HooksProjectDir, c.Settings.Catalog)
}

func setDefaults(v *viper.Viper, defaults Settings) {
	v.SetDefault("version", defaults.Version)
	v.SetDefault("catalog", defaults.Catalog)
	v.SetDefault("state.backend", defaults.State.Backend)
	v.SetDefault("router.threshold", defaults.Router.Threshold)
	v.SetDefault("router.max_suggestions", defaults.Router.MaxSuggestions)
	v.SetDefault("preparer.enabled", defaults.Preparer.Enabled)
	v.SetDefault("preparer.max_bytes", defaults.Preparer.MaxBytes)
	v.SetDefault("preparer.probe_timeout", defaults.Preparer.ProbeTimeout)
	v.SetDefault("gate.enabled", defaults.Gate.Enabled)
	v.SetDefault("gate.recent_window", defaults.Gate.RecentWindow)
	v.SetDefault("gate.transcript_tail_bytes", defaults.Gate.TranscriptTailBytes)
	v.SetDefault("gate.protected_branches", defaults.Gate.ProtectedBranches)
	v.SetDefault("gate.timeout", defaults.Gate.Timeout)
	v.SetDefault("log.level", defaults.Log.Level)
}

func (s *Settings) applyDefaults() {
	defaults := DefaultSettings()
	if s.Version == 0 {
		s.Version = defaults.Version
	}
	if s.Router.MaxSuggestions == 0 {
		s.Router.MaxSuggestions = defaults.Router.MaxSuggestions
	}
	if s.Router.Threshold == 0 {
		s.Router.Threshold = defaults.Router.Threshold
	}
	if s.Preparer.MaxBytes == 0 {
		s.Preparer.MaxBytes = defaults.Preparer.MaxBytes
	}
	if s.Preparer.ProbeTimeout <= 0 {
		s.Preparer.ProbeTimeout = defaults.Preparer.ProbeTimeout
	}
	if s.Gate.RecentWindow <= 0 {
		s.Gate.RecentWindow = defaults.Gate.RecentWindow
	}
	if s.Gate.TranscriptTailBytes <= 0 {
		s.Gate.TranscriptTailBytes = defaults.Gate.TranscriptTailBytes
	}
	if s.Gate.Timeout <= 0 {
		s.Gate.Timeout = defaults.Gate.Timeout
	}
}

func (s *Settings) normalize() {
	s.Catalog = strings.TrimSpace(s.Catalog)
	s.State.Backend = strings.ToLower(strings.TrimSpace(s.State.Backend))
	if s.State.Backend == "" {
		s.State.Backend = BackendJSON
	}
	s.Log.Level = strings.ToLower(strings.TrimSpace(s.Log.Level))
	if s.Log.Level == "" {
		s.Log.Level = "info"
	}
	branches := make([]string, 0, len(s.Gate.ProtectedBranches))
	for _, branch := range s.Gate.ProtectedBranches {
		if branch = strings.TrimSpace(branch); branch != "" {
			branches = append(branches, branch)
		}
	}
	s.Gate.ProtectedBranches = branches
}

func (s *Settings) validate() error {
	if s.Version < 1 {
		return fmt.Errorf("version must be >= 1")
	}
	switch s.State.Backend {
	case BackendJSON, BackendSQLite:
	default:
		return fmt.Errorf("state.backend must be %q or %q", BackendJSON, BackendSQLite)
	}
	if s.Router.Threshold < 0 || s.Router.Threshold > 1 {
		return fmt.Errorf("router.threshold must be within [0,1]")
	}
	if s.Router.MaxSuggestions < 1 {
		return fmt.Errorf("router.max_suggestions must be >= 1")
	}
	if s.Preparer.MaxBytes < 512 {
		return fmt.Errorf("preparer.max_bytes must be >= 512")
	}
	switch s.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error")
	}
	return nil
}

func resolvePath(base, candidate string) string {
	trimmed := strings.TrimSpace(candidate)
	if trimmed == "" {
		return ""
	}
	if filepath.IsAbs(trimmed) {
		return filepath.Clean(trimmed)
	}
	return filepath.Clean(filepath.Join(base, trimmed))
}

func ensureSettingsFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultSettingsYAML), 0o644)
}
