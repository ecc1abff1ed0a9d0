package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsNegativeIdleTimeout(t *testing.T) {
	cfg := Defaults()
	cfg.IdleTimeoutSeconds = -1
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsServerWithoutCommand(t *testing.T) {
	cfg := Defaults()
	cfg.Servers["python"] = ServerDescriptor{Args: []string{"--stdio"}}
	require.Error(t, cfg.Validate())
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, Defaults().Validate())
}

func TestResolveFoldsBaseAndPerLanguageAllowlists(t *testing.T) {
	cfg := Defaults()
	cfg.Tools.Run = map[string]RunAllow{
		"*":      {Allowed: []string{"ls", "cat"}},
		"python": {Allowed: []string{"pytest"}},
	}

	resolved := cfg.Resolve()
	assert.ElementsMatch(t, []string{"ls", "cat"}, resolved.Allowed)
	assert.ElementsMatch(t, []string{"pytest"}, resolved.PerLanguage["python"].Allowed)
	_, hasWildcard := resolved.PerLanguage["*"]
	assert.False(t, hasWildcard, "wildcard entry must not leak into the per-language map")
}

func TestResolveStampsServerLanguage(t *testing.T) {
	cfg := Defaults()
	cfg.Servers["go"] = ServerDescriptor{Command: "gopls"}
	cfg.Resolve()
	assert.Equal(t, "go", cfg.Servers["go"].Language)
}

func TestMergeDoesNotClobberWithZeroValues(t *testing.T) {
	base := Defaults()
	base.IdleTimeoutSeconds = 600

	override := &Config{}
	base.Merge(override)

	assert.Equal(t, 600, base.IdleTimeoutSeconds, "a zero idle timeout in the overlay must not win")
}

func TestMergeOverlaysSetFields(t *testing.T) {
	base := Defaults()
	override := &Config{
		IdleTimeoutSeconds: 120,
		Servers: map[string]ServerDescriptor{
			"rust": {Command: "rust-analyzer"},
		},
		WorkspaceRoots: []string{"/w"},
	}
	base.Merge(override)

	assert.Equal(t, 120, base.IdleTimeoutSeconds)
	assert.Equal(t, "rust-analyzer", base.Servers["rust"].Command)
	assert.Contains(t, base.WorkspaceRoots, "/w")
}

func TestMergeInvalidatesCachedResolve(t *testing.T) {
	cfg := Defaults()
	cfg.Tools.Run = map[string]RunAllow{"*": {Allowed: []string{"ls"}}}
	first := cfg.Resolve()
	require.ElementsMatch(t, []string{"ls"}, first.Allowed)

	cfg.Merge(&Config{Tools: rawToolsRun{Run: map[string]RunAllow{"*": {Allowed: []string{"echo"}}}}})
	second := cfg.Resolve()
	assert.ElementsMatch(t, []string{"echo"}, second.Allowed)
}
