// Package procview abstracts "open a directory descriptor rooted at the
// auditee's view of /, cwd, or one of its open directory fds". Two
// realizations are provided: SameProcess, for auditing the calling
// process itself, and RemoteProcess, for auditing a different pid through
// /proc.
package procview

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/google/pathauditor/pkg/auditerr"
	"github.com/google/pathauditor/pkg/pathutil"
)

// ProcessView is the capability bundle the walker uses to resolve the
// starting directory descriptor for a path. Every method returns a freshly
// owned descriptor; the caller is responsible for closing it.
type ProcessView interface {
	// OpenRoot opens the process's root ("/") with the given open flags.
	OpenRoot(flags int) (int, error)
	// OpenCwd opens the process's current working directory.
	OpenCwd(flags int) (int, error)
	// DupDirFd reopens one of the process's open directory descriptors at
	// the caller-chosen flags. It must not inherit fd's original flags.
	DupDirFd(fd int, flags int) (int, error)
}

func openDir(path string, flags int) (int, error) {
	fd, err := unix.Open(path, flags, 0)
	if err != nil {
		return -1, auditerr.FailedPreconditionf(err, "could not open %q", path)
	}
	if err := requireDirectory(fd, path); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

func requireDirectory(fd int, path string) error {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return auditerr.FailedPreconditionf(err, "fstat %q", path)
	}
	if st.Mode&unix.S_IFMT != unix.S_IFDIR {
		return auditerr.FailedPreconditionf(nil, "%q is not a directory", path)
	}
	return nil
}

// SameProcess realizes ProcessView against the calling process's own view of
// the filesystem: OpenRoot/OpenCwd open "/" and "." directly, and DupDirFd
// re-opens the fd via openat(fd, ".", flags) rather than dup, so the
// caller-supplied flags are actually enforced.
type SameProcess struct{}

func (SameProcess) OpenRoot(flags int) (int, error) { return openDir("/", flags) }
func (SameProcess) OpenCwd(flags int) (int, error)  { return openDir(".", flags) }

func (SameProcess) DupDirFd(fd int, flags int) (int, error) {
	newFd, err := unix.Openat(fd, ".", flags, 0)
	if err != nil {
		return -1, auditerr.FailedPreconditionf(err, "openat on dir fd %d failed", fd)
	}
	if err := requireDirectory(newFd, "."); err != nil {
		unix.Close(newFd)
		return -1, err
	}
	return newFd, nil
}

// RemoteProcess realizes ProcessView for a pid other than the caller's own,
// by routing every lookup through /proc/<pid>: OpenRoot opens
// /proc/<pid>/root, OpenCwd opens Cwd joined under /proc/<pid>/root, and
// DupDirFd opens /proc/<pid>/fd/<n>. If the target has exited and Fallback
// is set, OpenRoot and OpenCwd retry against the current process's own
// namespace ("/" and the raw Cwd); DupDirFd never falls back.
type RemoteProcess struct {
	Pid      int
	Cwd      string
	Cmdline  string
	Fallback bool
}

// NewRemoteProcess builds a RemoteProcess. cmdline is informational only —
// the core never inspects it — and is carried for log enrichment.
func NewRemoteProcess(pid int, cwd string, cmdline string, fallback bool) *RemoteProcess {
	return &RemoteProcess{Pid: pid, Cwd: cwd, Cmdline: cmdline, Fallback: fallback}
}

func (r *RemoteProcess) procPath(elems ...string) string {
	all := append([]string{"/proc", fmt.Sprintf("%d", r.Pid)}, elems...)
	return pathutil.JoinPath(all...)
}

func (r *RemoteProcess) OpenRoot(flags int) (int, error) {
	fd, err := openDir(r.procPath("root"), flags)
	if err == nil || !r.Fallback {
		return fd, err
	}
	return openDir("/", flags)
}

func (r *RemoteProcess) OpenCwd(flags int) (int, error) {
	fd, err := openDir(r.procPath("root", r.Cwd), flags)
	if err == nil || !r.Fallback {
		return fd, err
	}
	return openDir(r.Cwd, flags)
}

func (r *RemoteProcess) DupDirFd(fd int, flags int) (int, error) {
	return openDir(r.procPath("fd", fmt.Sprintf("%d", fd)), flags)
}
