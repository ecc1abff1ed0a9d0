package filelock

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MarkWells-Dev/Catenary/internal/catenaryerrors"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	sessionDir := t.TempDir()
	c, err := New(filepath.Join(sessionDir, "locks"))
	require.NoError(t, err)
	defer c.Close()

	target := filepath.Join(t.TempDir(), "a.go")
	require.NoError(t, os.WriteFile(target, []byte("package a\n"), 0o644))

	_, err = c.Acquire(target, "session-1", time.Second)
	require.NoError(t, err)

	require.NoError(t, c.Release(target, "session-1", 0))

	_, err = c.Acquire(target, "session-2", time.Second)
	require.NoError(t, err)
}

func TestAcquireDeniedByOtherOwnerUntilTimeout(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	target := filepath.Join(t.TempDir(), "a.go")
	require.NoError(t, os.WriteFile(target, []byte("package a\n"), 0o644))

	_, err = c.Acquire(target, "session-1", time.Second)
	require.NoError(t, err)

	_, err = c.Acquire(target, "session-2", 100*time.Millisecond)
	require.Error(t, err)
	kind, ok := catenaryerrors.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, catenaryerrors.KindLockDenied, kind)
}

func TestReleaseGraceAllowsSameOwnerImmediateReacquire(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	target := filepath.Join(t.TempDir(), "a.go")
	require.NoError(t, os.WriteFile(target, []byte("package a\n"), 0o644))

	_, err = c.Acquire(target, "session-1", time.Second)
	require.NoError(t, err)
	require.NoError(t, c.Release(target, "session-1", time.Minute))

	_, err = c.Acquire(target, "session-1", 100*time.Millisecond)
	require.NoError(t, err)

	_, err = c.Acquire(target, "session-2", 100*time.Millisecond)
	require.Error(t, err)
}

func TestTrackReadThenAcquireYieldsNoStaleReadUnlessModified(t *testing.T) {
	c, err := New(t.TempDir())
	require.NoError(t, err)
	defer c.Close()

	target := filepath.Join(t.TempDir(), "a.go")
	require.NoError(t, os.WriteFile(target, []byte("package a\n"), 0o644))

	require.NoError(t, c.TrackRead(target, "session-1"))
	result, err := c.Acquire(target, "session-1", time.Second)
	require.NoError(t, err)
	assert.False(t, result.StaleRead)
	require.NoError(t, c.Release(target, "session-1", 0))

	require.NoError(t, c.TrackRead(target, "session-1"))
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(target, []byte("package a\n\nvar x = 1\n"), 0o644))

	result, err = c.Acquire(target, "session-1", time.Second)
	require.NoError(t, err)
	assert.True(t, result.StaleRead)
}

func TestNewCoordinatorLoadsLocksHeldByAnotherProcess(t *testing.T) {
	dir := t.TempDir()
	first, err := New(dir)
	require.NoError(t, err)
	defer first.Close()

	target := filepath.Join(t.TempDir(), "a.go")
	require.NoError(t, os.WriteFile(target, []byte("package a\n"), 0o644))
	_, err = first.Acquire(target, "session-1", time.Second)
	require.NoError(t, err)

	second, err := New(dir)
	require.NoError(t, err)
	defer second.Close()

	_, err = second.Acquire(target, "session-2", 100*time.Millisecond)
	require.Error(t, err, "a Coordinator opened against the same directory should see the lock the first Coordinator holds")
}
