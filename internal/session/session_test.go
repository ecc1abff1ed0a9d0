package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewCreatesOwnerOnlyDirectory(t *testing.T) {
	base := t.TempDir()
	s, err := New(base)
	require.NoError(t, err)

	info, err := os.Stat(s.Dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(dirMode), info.Mode().Perm())
}

func TestWritePIDAndRootsRoundTripThroughDiscover(t *testing.T) {
	base := t.TempDir()
	s, err := New(base)
	require.NoError(t, err)

	require.NoError(t, s.WritePID())
	require.NoError(t, s.WriteRoots([]string{"/a", "/b"}))

	infos, err := Discover(base)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, os.Getpid(), infos[0].PID)
	assert.ElementsMatch(t, []string{"/a", "/b"}, infos[0].Roots)
	assert.True(t, infos[0].Alive)
}

func TestAppendRootPersistsJournal(t *testing.T) {
	base := t.TempDir()
	s, err := New(base)
	require.NoError(t, err)

	require.NoError(t, s.AppendRoot("/workspace", 42))

	data, err := os.ReadFile(filepath.Join(s.Dir, journalFile))
	require.NoError(t, err)
	assert.Contains(t, string(data), "/workspace")
}

func TestDiscoverOnMissingBaseDirReturnsEmpty(t *testing.T) {
	infos, err := Discover(filepath.Join(t.TempDir(), "does-not-exist"))
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestPublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	base := t.TempDir()
	s, err := New(base)
	require.NoError(t, err)
	require.NoError(t, s.ListenEvents())
	defer s.Close()

	s.Publish("test", map[string]string{"hello": "world"})
	// No subscriber connected yet; Publish must not block or panic.
}
