package lspclient

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarkWells-Dev/Catenary/internal/catenaryerrors"
	"github.com/MarkWells-Dev/Catenary/internal/config"
)

// mocklsBinary builds cmd/mockls once per test binary run and returns its
// path, so every test in this file spawns the same real child process
// rather than a hand-mocked Go interface.
func mocklsBinary(t *testing.T) string {
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

func newTestClient(t *testing.T, extraArgs ...string) *Client {
	t.Helper()
	bin := mocklsBinary(t)
	descriptor := config.ServerDescriptor{Command: bin, Args: extraArgs}
	return New("mocklang", descriptor)
}

func TestSpawnInitializeShutdown(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Spawn(ctx))
	require.True(t, c.IsAlive())

	root := t.TempDir()
	caps, err := c.Initialize(ctx, []string{root}, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, true, caps["hoverProvider"])
	assert.Equal(t, PositionEncodingUTF16, c.PositionEncoding())

	require.NoError(t, c.Shutdown(ctx, 2*time.Second))
	assert.False(t, c.IsAlive())
}

func TestHoverAfterDidOpen(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Spawn(ctx))
	root := t.TempDir()
	_, err := c.Initialize(ctx, []string{root}, 5*time.Second)
	require.NoError(t, err)

	file := filepath.Join(root, "main.go")
	require.NoError(t, os.WriteFile(file, []byte("let counter = 1\n"), 0o644))
	uri := "file://" + file
	_, err = c.EnsureOpen(ctx, uri, file, "go", nil)
	require.NoError(t, err)

	result, err := c.Request(ctx, "textDocument/hover", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": uri},
		"position":     map[string]interface{}{"line": 0, "character": 4},
	}, 5*time.Second)
	require.NoError(t, err)
	assert.Contains(t, string(result), "counter")

	require.NoError(t, c.Shutdown(ctx, 2*time.Second))
}

func TestDiagnosticsPublishedOnDidOpen(t *testing.T) {
	c := newTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Spawn(ctx))
	root := t.TempDir()
	_, err := c.Initialize(ctx, []string{root}, 5*time.Second)
	require.NoError(t, err)

	events := make(chan Event, 16)
	c.SetEventSink(events)

	file := filepath.Join(root, "a.py")
	require.NoError(t, os.WriteFile(file, []byte("def f():\n    pass\n"), 0o644))
	uri := "file://" + file
	_, err = c.EnsureOpen(ctx, uri, file, "python", nil)
	require.NoError(t, err)

	select {
	case ev := <-events:
		require.Equal(t, EventDiagnosticsPublished, ev.Kind)
		assert.Equal(t, uri, ev.URI)
		assert.Equal(t, uint64(1), ev.Generation)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for diagnostics")
	}

	snapshot := c.DiagnosticsSnapshot(uri)
	assert.True(t, snapshot.HasPublished)
	assert.Len(t, snapshot.Diagnostics, 1)

	require.NoError(t, c.Shutdown(ctx, 2*time.Second))
}

func TestDecodeFailedOnMalformedResult(t *testing.T) {
	c := newTestClient(t, "--malformed-result", "textDocument/references")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Spawn(ctx))
	root := t.TempDir()
	_, err := c.Initialize(ctx, []string{root}, 5*time.Second)
	require.NoError(t, err)

	_, err = c.Request(ctx, "textDocument/references", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": "file:///nowhere"},
		"position":     map[string]interface{}{"line": 0, "character": 0},
	}, 5*time.Second)
	require.Error(t, err)
	kind, ok := catenaryerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, catenaryerrors.KindDecodeFailed, kind)

	require.NoError(t, c.Shutdown(ctx, 2*time.Second))
}

func TestRequestTimeoutOnHangOn(t *testing.T) {
	c := newTestClient(t, "--hang-on", "textDocument/hover")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Spawn(ctx))
	root := t.TempDir()
	_, err := c.Initialize(ctx, []string{root}, 5*time.Second)
	require.NoError(t, err)

	_, err = c.Request(ctx, "textDocument/hover", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": "file:///nowhere"},
		"position":     map[string]interface{}{"line": 0, "character": 0},
	}, 300*time.Millisecond)
	require.Error(t, err)
	kind, ok := catenaryerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, catenaryerrors.KindRequestTimeout, kind)

	require.NoError(t, c.Shutdown(ctx, 2*time.Second))
}

func TestFailOnReturnsInternalErrorWrappedAsMalformedOrRequestError(t *testing.T) {
	c := newTestClient(t, "--fail-on", "textDocument/hover")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Spawn(ctx))
	root := t.TempDir()
	_, err := c.Initialize(ctx, []string{root}, 5*time.Second)
	require.NoError(t, err)

	_, err = c.Request(ctx, "textDocument/hover", map[string]interface{}{
		"textDocument": map[string]interface{}{"uri": "file:///nowhere"},
		"position":     map[string]interface{}{"line": 0, "character": 0},
	}, 5*time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "configured to fail on")

	require.NoError(t, c.Shutdown(ctx, 2*time.Second))
}

func TestProcessDeathCompletesPendingRequestsAndClosesDone(t *testing.T) {
	c := newTestClient(t, "--drop-after", "0", "--hang-on", "textDocument/hover")
	// drop-after=0 never triggers (mockls only exits when count >= max and max
	// must be positive), so crash the server directly for a deterministic
	// death signal instead of relying on timing-sensitive drop-after values.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Spawn(ctx))
	root := t.TempDir()
	_, err := c.Initialize(ctx, []string{root}, 5*time.Second)
	require.NoError(t, err)

	respCh := make(chan error, 1)
	go func() {
		_, reqErr := c.Request(ctx, "textDocument/hover", map[string]interface{}{
			"textDocument": map[string]interface{}{"uri": "file:///nowhere"},
			"position":     map[string]interface{}{"line": 0, "character": 0},
		}, 5*time.Second)
		respCh <- reqErr
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, c.cmd.Process.Kill())

	select {
	case reqErr := <-respCh:
		require.Error(t, reqErr)
		kind, ok := catenaryerrors.KindOf(reqErr)
		require.True(t, ok)
		assert.Equal(t, catenaryerrors.KindServerClosed, kind)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for request to complete after process death")
	}

	select {
	case <-c.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done() channel never closed after process death")
	}
	assert.False(t, c.IsAlive())
}

func TestWorkspaceFoldersCapabilityAdvertised(t *testing.T) {
	c := newTestClient(t, "--workspace-folders")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Spawn(ctx))
	root := t.TempDir()
	caps, err := c.Initialize(ctx, []string{root}, 5*time.Second)
	require.NoError(t, err)

	workspace, ok := caps["workspace"].(map[string]interface{})
	require.True(t, ok)
	folders, ok := workspace["workspaceFolders"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, folders["supported"])

	require.NoError(t, c.Shutdown(ctx, 2*time.Second))
}

func TestIndexingProgressEmitsBeginAndEnd(t *testing.T) {
	c := newTestClient(t, "--indexing-delay", "50")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	require.NoError(t, c.Spawn(ctx))
	root := t.TempDir()

	events := make(chan Event, 16)
	c.SetEventSink(events)

	_, err := c.Initialize(ctx, []string{root}, 5*time.Second)
	require.NoError(t, err)

	var states []ProgressState
	timeout := time.After(5 * time.Second)
	for len(states) < 2 {
		select {
		case ev := <-events:
			if ev.Kind == EventProgress {
				states = append(states, ev.State)
			}
		case <-timeout:
			t.Fatalf("timed out waiting for progress events, got %v", states)
		}
	}
	assert.Equal(t, ProgressActive, states[0])
	assert.Equal(t, ProgressIdle, states[1])

	require.NoError(t, c.Shutdown(ctx, 2*time.Second))
}
