package manager

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarkWells-Dev/Catenary/internal/config"
	"github.com/MarkWells-Dev/Catenary/internal/pathsec"
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

func newTestManager(t *testing.T, root, bin string) *Manager {
	t.Helper()
	v, err := pathsec.New([]string{root}, nil)
	require.NoError(t, err)
	descriptors := func(language string) (config.ServerDescriptor, bool) {
		if language == "mocklang" {
			return config.ServerDescriptor{Command: bin}, true
		}
		return config.ServerDescriptor{}, false
	}
	return New([]string{root}, time.Hour, descriptors, v)
}

func TestGetOrSpawnReturnsSameClientOnSecondCall(t *testing.T) {
	root := t.TempDir()
	bin := buildMockls(t)
	m := newTestManager(t, root, bin)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c1, err := m.GetOrSpawn(ctx, "mocklang")
	require.NoError(t, err)
	c2, err := m.GetOrSpawn(ctx, "mocklang")
	require.NoError(t, err)
	assert.Same(t, c1, c2)

	m.ShutdownAll(2 * time.Second)
}

func TestGetOrSpawnConcurrentCallsShareOneSpawn(t *testing.T) {
	root := t.TempDir()
	bin := buildMockls(t)
	m := newTestManager(t, root, bin)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := make(chan interface{}, 8)
	for i := 0; i < 8; i++ {
		go func() {
			c, err := m.GetOrSpawn(ctx, "mocklang")
			if err != nil {
				results <- err
				return
			}
			results <- c
		}()
	}

	first := <-results
	for i := 1; i < 8; i++ {
		got := <-results
		assert.Same(t, first, got)
	}

	m.ShutdownAll(2 * time.Second)
}

func TestGetOrSpawnUnconfiguredLanguageReturnsMethodNotSupported(t *testing.T) {
	root := t.TempDir()
	bin := buildMockls(t)
	m := newTestManager(t, root, bin)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := m.GetOrSpawn(ctx, "cobol")
	require.Error(t, err)
}

func TestAddRootThenRemoveRootRoundTrips(t *testing.T) {
	root := t.TempDir()
	bin := buildMockls(t)
	m := newTestManager(t, root, bin)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	before := m.Roots()
	other := t.TempDir()

	canonical, err := m.AddRoot(ctx, other)
	require.NoError(t, err)
	assert.Len(t, m.Roots(), len(before)+1)

	_, err = m.RemoveRoot(ctx, canonical)
	require.NoError(t, err)
	assert.ElementsMatch(t, before, m.Roots())
}

func TestIdleSweepShutsDownClientWithNoOpenDocuments(t *testing.T) {
	root := t.TempDir()
	bin := buildMockls(t)
	v, err := pathsec.New([]string{root}, nil)
	require.NoError(t, err)
	descriptors := func(language string) (config.ServerDescriptor, bool) {
		return config.ServerDescriptor{Command: bin}, true
	}
	m := New([]string{root}, 10*time.Millisecond, descriptors, v)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = m.GetOrSpawn(ctx, "mocklang")
	require.NoError(t, err)
	assert.NotNil(t, m.GetIfAlive("mocklang"))

	time.Sleep(20 * time.Millisecond)
	m.IdleSweep(ctx)

	assert.Nil(t, m.GetIfAlive("mocklang"))
}

func TestIdleSweepKeepsRecentlyActiveClientWithNoOpenDocuments(t *testing.T) {
	root := t.TempDir()
	bin := buildMockls(t)
	v, err := pathsec.New([]string{root}, nil)
	require.NoError(t, err)
	descriptors := func(language string) (config.ServerDescriptor, bool) {
		return config.ServerDescriptor{Command: bin}, true
	}
	m := New([]string{root}, time.Hour, descriptors, v)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err = m.GetOrSpawn(ctx, "mocklang")
	require.NoError(t, err)

	// A broadcast-style lookup counts as activity even though it never
	// opens a document.
	assert.NotNil(t, m.GetIfAlive("mocklang"))

	m.IdleSweep(ctx)

	assert.NotNil(t, m.GetIfAlive("mocklang"), "a client used within idle_timeout_seconds must survive a sweep even with no open documents")
}
