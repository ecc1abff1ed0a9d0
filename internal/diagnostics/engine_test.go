package diagnostics

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarkWells-Dev/Catenary/internal/config"
	"github.com/MarkWells-Dev/Catenary/internal/lspclient"
)

func buildMockls(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	bin := filepath.Join(dir, "mockls")
	cmd := exec.Command("go", "build", "-o", bin, "github.com/MarkWells-Dev/Catenary/cmd/mockls")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Skipf("could not build mockls fixture: %v\n%s", err, out)
	}
	return bin
}

func TestWaitForReanalysisProcessMonitorAdvancesOnPublish(t *testing.T) {
	bin := buildMockls(t)
	c := lspclient.New("go", config.ServerDescriptor{Command: bin})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Spawn(ctx))
	root := t.TempDir()
	_, err := c.Initialize(ctx, []string{root}, 5*time.Second)
	require.NoError(t, err)

	file := filepath.Join(root, "a.go")
	require.NoError(t, os.WriteFile(file, []byte("var x = 1\n"), 0o644))
	uri := "file://" + file
	_, err = c.EnsureOpen(ctx, uri, file, "go", nil)
	require.NoError(t, err)

	// EnsureOpen's didOpen already triggered one publish; wait for it so the
	// snapshot below observes a settled generation before the next edit.
	time.Sleep(200 * time.Millisecond)
	snapshot := c.Generation(uri)

	version, err := c.Change(ctx, uri, "var x = 2\n")
	require.NoError(t, err)

	engine := New()
	outcome := engine.WaitForReanalysis(ctx, c, uri, snapshot, version)
	assert.False(t, outcome.ServerDied)
	assert.Greater(t, outcome.Diagnostics.Generation, snapshot)

	require.NoError(t, c.Shutdown(ctx, 2*time.Second))
}

func TestNudgeAndRetrySendsDidSaveUnlessSuppressed(t *testing.T) {
	bin := buildMockls(t)
	c := lspclient.New("python", config.ServerDescriptor{Command: bin, Args: []string{"--diagnostics-on-save"}})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Spawn(ctx))
	root := t.TempDir()
	_, err := c.Initialize(ctx, []string{root}, 5*time.Second)
	require.NoError(t, err)

	file := filepath.Join(root, "a.py")
	require.NoError(t, os.WriteFile(file, []byte("def f():\n    pass\n"), 0o644))
	uri := "file://" + file
	_, err = c.EnsureOpen(ctx, uri, file, "python", nil)
	require.NoError(t, err)

	// diagnostics-on-save means didOpen alone produces nothing; the nudge's
	// didSave is what makes mockls publish.
	assert.False(t, c.DiagnosticsSnapshot(uri).HasPublished)

	require.NoError(t, NudgeAndRetry(ctx, c, uri))
	require.Eventually(t, func() bool {
		return c.DiagnosticsSnapshot(uri).HasPublished
	}, 2*time.Second, 20*time.Millisecond)

	require.NoError(t, c.Shutdown(ctx, 2*time.Second))
}
