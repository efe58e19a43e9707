package procview

import (
	"os"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/google/pathauditor/pkg/auditerr"
)

func TestSameProcess_OpenRootIsADirectory(t *testing.T) {
	p := SameProcess{}
	fd, err := p.OpenRoot(unix.O_RDONLY)
	require.NoError(t, err)
	defer unix.Close(fd)

	var st unix.Stat_t
	require.NoError(t, unix.Fstat(fd, &st))
	assert.Equal(t, uint32(unix.S_IFDIR), st.Mode&unix.S_IFMT)
}

func TestSameProcess_OpenCwdIsADirectory(t *testing.T) {
	p := SameProcess{}
	fd, err := p.OpenCwd(unix.O_RDONLY)
	require.NoError(t, err)
	defer unix.Close(fd)

	var st unix.Stat_t
	require.NoError(t, unix.Fstat(fd, &st))
	assert.Equal(t, uint32(unix.S_IFDIR), st.Mode&unix.S_IFMT)
}

func TestSameProcess_DupDirFdEnforcesNewFlags(t *testing.T) {
	p := SameProcess{}
	orig, err := p.OpenRoot(unix.O_RDONLY)
	require.NoError(t, err)
	defer unix.Close(orig)

	dup, err := p.DupDirFd(orig, unix.O_RDONLY)
	require.NoError(t, err)
	defer unix.Close(dup)
	assert.NotEqual(t, orig, dup, "DupDirFd must reopen via openat, not return the same fd as dup() would")
}

func TestSameProcess_OpenNonDirectoryFails(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "notadir")
	require.NoError(t, err)
	f.Close()

	p := SameProcess{}
	_, err = p.DupDirFd(int(mustOpen(t, f.Name())), unix.O_RDONLY)
	require.Error(t, err)
	assert.True(t, auditerr.Is(err, auditerr.FailedPrecondition))
}

func mustOpen(t *testing.T, path string) uintptr {
	t.Helper()
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fd) })
	return uintptr(fd)
}

func TestNewRemoteProcess_ProcPathComposition(t *testing.T) {
	r := NewRemoteProcess(1234, "/home/alice", "sleep 100", false)
	assert.Equal(t, "/proc/1234/root", r.procPath("root"))
	assert.Equal(t, "/proc/1234/fd/5", r.procPath("fd", "5"))
}

func TestRemoteProcess_FallbackOnMissingPid(t *testing.T) {
	// A pid that (almost certainly) doesn't exist.
	r := NewRemoteProcess(1<<30, "/", "", true)
	fd, err := r.OpenRoot(unix.O_RDONLY)
	require.NoError(t, err, "fallback should retry against the real root when the target pid is gone")
	defer unix.Close(fd)
}

func TestRemoteProcess_NoFallbackPropagatesError(t *testing.T) {
	r := NewRemoteProcess(1<<30, "/", "", false)
	_, err := r.OpenRoot(unix.O_RDONLY)
	require.Error(t, err)
}
