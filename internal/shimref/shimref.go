// Package shimref is a reference implementation of an out-of-process
// interception shim: something that watches a trusted process's filesystem
// activity and produces FileEvents for the dispatcher to classify. A
// production shim is typically an LD_PRELOAD libc wrapper that
// intercepts another process's calls to open/rename/unlink/...; a Go binary
// cannot be loaded into an arbitrary libc's address space that way, so this
// package instead watches one directory and its immediate entries with
// fanotify, which is the idiomatic Go analogue available to a process
// auditing itself. It is not part of the core's public contract — only the
// daemon package, and through it the example binary, depend on it.
package shimref

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/google/pathauditor/pkg/fileevent"
)

const (
	initFlags  = unix.FAN_CLASS_NOTIF | unix.FAN_UNLIMITED_QUEUE | unix.FAN_UNLIMITED_MARKS
	eventFlags = unix.O_RDONLY | unix.O_LARGEFILE

	markFlags = unix.FAN_MARK_ADD
	watchMask = unix.FAN_OPEN | unix.FAN_CLOSE_WRITE | unix.FAN_EVENT_ON_CHILD

	readBufferSize = 4096
)

// Watcher wraps a fanotify file descriptor marked on one directory,
// translating raw fanotify records into fileevent.FileEvent values. Events
// are reported for the directory and its immediate entries; deeper levels
// are not watched.
type Watcher struct {
	fd   int
	path string
}

// New initializes fanotify and marks path (which must be a directory) for
// watching. It requires CAP_SYS_ADMIN.
func New(path string) (*Watcher, error) {
	absPath, err := absolute(path)
	if err != nil {
		return nil, fmt.Errorf("shimref: resolving %q: %w", path, err)
	}
	if _, err := os.Stat(absPath); err != nil {
		return nil, fmt.Errorf("shimref: %q does not exist: %w", absPath, err)
	}

	fd, err := unix.FanotifyInit(initFlags, eventFlags)
	if err != nil {
		return nil, fmt.Errorf("shimref: FanotifyInit: %w (needs CAP_SYS_ADMIN)", err)
	}

	w := &Watcher{fd: fd, path: absPath}
	if err := w.mark(); err != nil {
		unix.Close(fd)
		return nil, err
	}
	return w, nil
}

func (w *Watcher) mark() error {
	if err := unix.FanotifyMark(w.fd, markFlags, watchMask, unix.AT_FDCWD, w.path); err != nil {
		return fmt.Errorf("shimref: FanotifyMark failed for %q: %w", w.path, err)
	}
	return nil
}

// Events streams decoded FileEvents until reading the watcher's fanotify fd
// fails with anything other than EINTR. It sends on events from the caller's
// goroutine, blocking on unix.Read; callers wanting concurrency should run
// this in its own goroutine.
func (w *Watcher) Events(events chan<- *fileevent.FileEvent, errs chan<- error) {
	buf := make([]byte, readBufferSize)
	for {
		n, err := unix.Read(w.fd, buf)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			errs <- fmt.Errorf("shimref: read: %w", err)
			return
		}
		w.decode(buf[:n], events)
	}
}

func (w *Watcher) decode(data []byte, out chan<- *fileevent.FileEvent) {
	offset := 0
	for offset+int(unsafe.Sizeof(unix.FanotifyEventMetadata{})) <= len(data) {
		meta := (*unix.FanotifyEventMetadata)(unsafe.Pointer(&data[offset]))

		if meta.Fd >= 0 {
			if ev := w.translate(meta); ev != nil {
				out <- ev
			}
			unix.Close(int(meta.Fd))
		}

		offset += int(meta.Event_len)
		if meta.Event_len == 0 {
			break
		}
	}
}

// translate maps a fanotify record onto the syscall it most plausibly
// corresponds to. Fanotify reports post-resolution events with an already
// open fd, not a path string and arguments the way a libc interceptor
// would, so this is necessarily an approximation: good enough to exercise
// the dispatcher end to end in an integration test, not a faithful
// reconstruction of the original syscall's exact argument encoding.
func (w *Watcher) translate(meta *unix.FanotifyEventMetadata) *fileevent.FileEvent {
	path, err := filePathFromFd(int(meta.Fd))
	if err != nil {
		return nil
	}

	atFDCWD := int64(unix.AT_FDCWD)
	switch {
	case meta.Mask&unix.FAN_OPEN != 0:
		return fileevent.New(fileevent.SysOpenat,
			[]uint64{uint64(atFDCWD), 0, uint64(unix.O_RDONLY)},
			[]string{path})
	case meta.Mask&unix.FAN_CLOSE_WRITE != 0:
		return fileevent.New(fileevent.SysOpenat,
			[]uint64{uint64(atFDCWD), 0, uint64(unix.O_WRONLY)},
			[]string{path})
	default:
		return nil
	}
}

// filePathFromFd resolves an open fd back to a path via /proc/self/fd.
func filePathFromFd(fd int) (string, error) {
	return os.Readlink(fmt.Sprintf("/proc/self/fd/%d", fd))
}

func (w *Watcher) Close() error {
	return unix.Close(w.fd)
}

func absolute(path string) (string, error) {
	if len(path) > 0 && path[0] == '/' {
		return path, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return wd + "/" + path, nil
}
