package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const projectConfigFilename = ".catenary.toml"

// EnvPrefix is the prefix recognized for environment overrides, per §6
// ("CATENARY_*-prefixed variables override corresponding configuration
// fields").
const EnvPrefix = "CATENARY_"

// LoadOptions carries everything the loader needs beyond the filesystem:
// an explicit --config path, the roots supplied on the command line, and
// the process environment (injected for testability).
type LoadOptions struct {
	ExplicitConfigPath string
	CLIRoots           []string
	CLIIdleTimeout     int // 0 means "not set on the CLI"
	Environ            []string
	StartDir           string // directory to walk upward from for project config discovery
	UserConfigPath     string // e.g. ~/.config/catenary/config.toml
}

// Load applies the full precedence chain from §6: compiled defaults, user
// config file, project config file (discovered by walking parents from
// StartDir), explicit --config, environment, CLI flags.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Defaults()

	if opts.UserConfigPath != "" {
		if userCfg, err := loadFile(opts.UserConfigPath); err == nil {
			cfg.Merge(userCfg)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("loading user config %s: %w", opts.UserConfigPath, err)
		}
	}

	if projectPath, ok := findProjectConfig(opts.StartDir); ok {
		projCfg, err := loadFile(projectPath)
		if err != nil {
			return nil, fmt.Errorf("loading project config %s: %w", projectPath, err)
		}
		cfg.Merge(projCfg)
		cfg.projectConfigPath = projectPath
	}

	if opts.ExplicitConfigPath != "" {
		explicitCfg, err := loadFile(opts.ExplicitConfigPath)
		if err != nil {
			return nil, fmt.Errorf("loading --config %s: %w", opts.ExplicitConfigPath, err)
		}
		cfg.Merge(explicitCfg)
	}

	applyEnv(cfg, opts.Environ)

	if len(opts.CLIRoots) > 0 {
		cfg.WorkspaceRoots = opts.CLIRoots
	}
	if opts.CLIIdleTimeout != 0 {
		cfg.IdleTimeoutSeconds = opts.CLIIdleTimeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// findProjectConfig walks from dir up through every parent directory,
// stopping at the first .catenary.toml found or at the filesystem root;
// discovery is not bounded by any workspace root.
func findProjectConfig(dir string) (string, bool) {
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return "", false
		}
	}
	dir, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	for {
		candidate := filepath.Join(dir, projectConfigFilename)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// applyEnv scans environ for CATENARY_-prefixed variables and overlays the
// ones this loader understands. Unknown CATENARY_ variables are ignored
// rather than rejected, since they may be intended for a plugin or hook
// script the core doesn't know about.
func applyEnv(cfg *Config, environ []string) {
	for _, kv := range environ {
		key, value, found := strings.Cut(kv, "=")
		if !found || !strings.HasPrefix(key, EnvPrefix) {
			continue
		}
		field := strings.TrimPrefix(key, EnvPrefix)
		switch field {
		case "IDLE_TIMEOUT":
			if n, err := strconv.Atoi(value); err == nil {
				cfg.IdleTimeoutSeconds = n
			}
		case "SMART_WAIT":
			if b, err := strconv.ParseBool(value); err == nil {
				cfg.SmartWait = b
			}
		case "WORKSPACE_ROOTS":
			cfg.WorkspaceRoots = strings.Split(value, string(os.PathListSeparator))
		}
	}
}

// DefaultUserConfigPath returns the conventional per-user config location.
func DefaultUserConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "catenary", "config.toml")
}
