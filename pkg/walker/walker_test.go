package walker

import (
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/stretchr/testify/require"

	"github.com/google/pathauditor/pkg/auditerr"
	"github.com/google/pathauditor/pkg/procview"
)

func openDirFd(t *testing.T, path string) int {
	t.Helper()
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	require.NoError(t, err)
	t.Cleanup(func() { unix.Close(fd) })
	return fd
}

func requireRoot(t *testing.T) {
	t.Helper()
	if os.Geteuid() != 0 {
		t.Skip("requires root to exercise root-owned fixtures")
	}
}

func TestIsUserControlled_SafeNestedDirectories(t *testing.T) {
	requireRoot(t)

	root := t.TempDir()
	require.NoError(t, os.Chown(root, 0, 0))
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0755))
	require.NoError(t, os.Chown(filepath.Join(root, "a"), 0, 0))
	require.NoError(t, os.Chown(nested, 0, 0))
	leaf := filepath.Join(nested, "c")
	require.NoError(t, os.WriteFile(leaf, nil, 0644))
	require.NoError(t, os.Chown(leaf, 0, 0))

	atFd := openDirFd(t, root)
	controlled, err := IsUserControlled(procview.SameProcess{}, "a/b/c", &atFd, DefaultBudget)
	require.NoError(t, err)
	require.False(t, controlled)
}

func TestIsUserControlled_UserOwnedAncestorIsControlled(t *testing.T) {
	requireRoot(t)

	root := t.TempDir()
	require.NoError(t, os.Chown(root, 0, 0))
	userDir := filepath.Join(root, "userdir")
	require.NoError(t, os.Mkdir(userDir, 0755))
	if err := os.Chown(userDir, 1000, 1000); err != nil {
		t.Skipf("chown to uid 1000 unavailable: %v", err)
	}
	leaf := filepath.Join(userDir, "c")
	require.NoError(t, os.WriteFile(leaf, nil, 0644))

	atFd := openDirFd(t, root)
	controlled, err := IsUserControlled(procview.SameProcess{}, "userdir/c", &atFd, DefaultBudget)
	require.NoError(t, err)
	require.True(t, controlled)
}

func TestIsUserControlled_SymlinkThroughNonStickyWritableParentIsControlled(t *testing.T) {
	requireRoot(t)

	root := t.TempDir()
	require.NoError(t, os.Chown(root, 0, 0))
	writable := filepath.Join(root, "tmp")
	require.NoError(t, os.Mkdir(writable, 0777))
	require.NoError(t, os.Chown(writable, 0, 0))
	require.NoError(t, os.Chmod(writable, 0777)) // Mkdir's mode is subject to the umask

	link := filepath.Join(writable, "link")
	require.NoError(t, os.Symlink("/etc/passwd", link))
	require.NoError(t, os.Lchown(link, 0, 0))

	atFd := openDirFd(t, root)
	controlled, err := IsUserControlled(procview.SameProcess{}, "tmp/link", &atFd, DefaultBudget)
	require.NoError(t, err)
	require.True(t, controlled, "a non-sticky world-writable parent makes the walk controlled irrespective of the symlink's own owner or target")
}

func TestIsUserControlled_SymlinkLoopExhaustsBudget(t *testing.T) {
	requireRoot(t)

	root := t.TempDir()
	require.NoError(t, os.Chown(root, 0, 0))
	link := filepath.Join(root, "loop")
	require.NoError(t, os.Symlink("loop", link))

	atFd := openDirFd(t, root)
	_, err := IsUserControlled(procview.SameProcess{}, "loop", &atFd, DefaultBudget)
	require.Error(t, err)
	require.True(t, auditerr.Is(err, auditerr.ResourceExhausted))
}

func TestIsUserControlled_NonDirectoryInMiddleOfPathIsError(t *testing.T) {
	requireRoot(t)

	root := t.TempDir()
	require.NoError(t, os.Chown(root, 0, 0))
	file := filepath.Join(root, "plainfile")
	require.NoError(t, os.WriteFile(file, nil, 0644))
	require.NoError(t, os.Chown(file, 0, 0))

	atFd := openDirFd(t, root)
	_, err := IsUserControlled(procview.SameProcess{}, "plainfile/extra", &atFd, DefaultBudget)
	require.Error(t, err)
	require.True(t, auditerr.Is(err, auditerr.FailedPrecondition))
}

func TestIsUserControlled_MissingLeafIsSafe(t *testing.T) {
	requireRoot(t)

	root := t.TempDir()
	require.NoError(t, os.Chown(root, 0, 0))

	atFd := openDirFd(t, root)
	controlled, err := IsUserControlled(procview.SameProcess{}, "nope", &atFd, DefaultBudget)
	require.NoError(t, err)
	require.False(t, controlled)
}

func TestResolveStartFd_AbsolutePathUsesRoot(t *testing.T) {
	fd, err := ResolveStartFd(procview.SameProcess{}, "/etc/passwd", nil)
	require.NoError(t, err)
	defer unix.Close(fd)

	var st unix.Stat_t
	require.NoError(t, unix.Fstat(fd, &st))
	require.Equal(t, uint32(unix.S_IFDIR), st.Mode&unix.S_IFMT)
}

func TestResolveStartFd_RelativePathWithAtFdCWDUsesCwd(t *testing.T) {
	cwdSentinel := AtFDCWD
	fd, err := ResolveStartFd(procview.SameProcess{}, "relative/path", &cwdSentinel)
	require.NoError(t, err)
	defer unix.Close(fd)
}

func TestResolveStartFd_RelativePathWithExplicitAtFd(t *testing.T) {
	dir := t.TempDir()
	dirFd := openDirFd(t, dir)

	fd, err := ResolveStartFd(procview.SameProcess{}, "relative/path", &dirFd)
	require.NoError(t, err)
	defer unix.Close(fd)
	require.NotEqual(t, dirFd, fd, "DupDirFd must reopen, not return the same descriptor")
}
