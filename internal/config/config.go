// Package config holds Catenary's configuration shape and load precedence:
// a Validate()-style struct using TOML (github.com/BurntSushi/toml) for the
// on-disk format, with "[server.<language-id>]" / "[tools.run]" table
// syntax for per-language server overrides.
package config

import "fmt"

// ServerDescriptor is the immutable tuple describing how to launch one
// language's LSP server, per §3 "Server descriptor".
type ServerDescriptor struct {
	Language              string                 `toml:"-"`
	Command               string                 `toml:"command"`
	Args                  []string               `toml:"args"`
	InitializationOptions map[string]interface{} `toml:"initialization_options,omitempty"`
}

// RunAllowlist is the optional { base set, per-language sets } shape from
// §3, consumed only by the external run-command tool but modeled here
// because it lives in the same configuration file.
type RunAllowlist struct {
	Allowed     []string            `toml:"allowed"`
	PerLanguage map[string]RunAllow `toml:"-"`
}

type RunAllow struct {
	Allowed []string `toml:"allowed"`
}

// rawToolsRun mirrors the literal [tools.run] / [tools.run.<language-id>]
// table shape from the config file before it's folded into RunAllowlist.
type rawToolsRun struct {
	Run map[string]RunAllow `toml:"run"`
}

// Config is the fully resolved, read-only-to-the-core configuration, per
// §3 "Configuration".
type Config struct {
	IdleTimeoutSeconds int                         `toml:"idle_timeout_seconds"`
	SmartWait          bool                        `toml:"smart_wait"`
	Servers            map[string]ServerDescriptor `toml:"server"`
	Tools              rawToolsRun                 `toml:"tools"`
	WorkspaceRoots     []string                    `toml:"workspace_roots"`

	// resolved is populated by Resolve() and exposes RunAllowlist in the
	// { base, per-language } shape §3 actually specifies.
	resolved *RunAllowlist

	// projectConfigPath is set by Load when findProjectConfig discovered an
	// in-tree project config file, so callers that need to protect it (see
	// pathsec) don't have to re-walk the directory tree themselves.
	projectConfigPath string
}

// ProjectConfigPath returns the in-tree project config file Load
// discovered while building this Config, or "" if none was found.
func (c *Config) ProjectConfigPath() string {
	return c.projectConfigPath
}

// Defaults returns the compiled-in configuration: no configured servers
// (the registry package supplies per-language defaults on demand), a
// 5-minute idle timeout, and smart_wait enabled.
func Defaults() *Config {
	return &Config{
		IdleTimeoutSeconds: 300,
		SmartWait:          true,
		Servers:            map[string]ServerDescriptor{},
	}
}

// Validate checks structural invariants: idle_timeout_seconds must be
// non-negative and every [server.<language-id>] block must name a command.
// An empty workspace_roots list is not rejected, here or by the loader.
func (c *Config) Validate() error {
	if c.IdleTimeoutSeconds < 0 {
		return fmt.Errorf("idle_timeout_seconds must be non-negative, got %d", c.IdleTimeoutSeconds)
	}
	for lang, sd := range c.Servers {
		if sd.Command == "" {
			return fmt.Errorf("server.%s: command must not be empty", lang)
		}
	}
	return nil
}

// Resolve folds the raw [tools.run] table into the {base, per-language}
// RunAllowlist shape and stamps each ServerDescriptor with its language
// key, then caches the result.
func (c *Config) Resolve() *RunAllowlist {
	if c.resolved != nil {
		return c.resolved
	}
	for lang, sd := range c.Servers {
		sd.Language = lang
		c.Servers[lang] = sd
	}
	base := c.Tools.Run["*"]
	perLang := make(map[string]RunAllow, len(c.Tools.Run))
	for k, v := range c.Tools.Run {
		if k == "*" {
			continue
		}
		perLang[k] = v
	}
	c.resolved = &RunAllowlist{Allowed: base.Allowed, PerLanguage: perLang}
	return c.resolved
}

// Merge overlays other on top of c, field by field, non-destructively: a
// zero value in other never clobbers a set value in c. Load uses it to apply
// the user config file, then the project config file, then an explicit
// --config file, in that order (§6 precedence); environment overrides and
// CLI flags are applied afterwards by direct assignment, not through Merge.
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.IdleTimeoutSeconds != 0 {
		c.IdleTimeoutSeconds = other.IdleTimeoutSeconds
	}
	if other.SmartWait {
		c.SmartWait = other.SmartWait
	}
	for lang, sd := range other.Servers {
		if c.Servers == nil {
			c.Servers = map[string]ServerDescriptor{}
		}
		c.Servers[lang] = sd
	}
	if len(other.Tools.Run) > 0 {
		if c.Tools.Run == nil {
			c.Tools.Run = map[string]RunAllow{}
		}
		for k, v := range other.Tools.Run {
			c.Tools.Run[k] = v
		}
	}
	if len(other.WorkspaceRoots) > 0 {
		c.WorkspaceRoots = append(c.WorkspaceRoots, other.WorkspaceRoots...)
	}
	c.resolved = nil
}
