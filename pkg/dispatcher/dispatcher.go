// Package dispatcher maps each syscall's decoded FileEvent onto the precise
// path-walking regime the kernel would have used, invoking pkg/walker once
// or twice (primary path,
// secondary paths) and, for the exec family, a direct "is this file
// user-writable" check.
package dispatcher

import (
	"golang.org/x/sys/unix"

	"github.com/google/pathauditor/pkg/auditerr"
	"github.com/google/pathauditor/pkg/fileevent"
	"github.com/google/pathauditor/pkg/pathutil"
	"github.com/google/pathauditor/pkg/procview"
	"github.com/google/pathauditor/pkg/walker"
)

// FileEventIsUserControlled decides whether any path element touched by
// event could have been redirected by a local unprivileged principal. It is
// the dispatcher's sole entry point.
func FileEventIsUserControlled(p procview.ProcessView, event *fileevent.FileEvent) (bool, error) {
	path, err := event.PathArg(0)
	if err != nil {
		return false, err
	}

	var atFd *int
	skipLast := false

	switch event.Syscall {
	case fileevent.SysChmod, fileevent.SysChown, fileevent.SysChdir, fileevent.SysRmdir,
		fileevent.SysUselib, fileevent.SysSwapon, fileevent.SysChroot, fileevent.SysCreat,
		fileevent.SysTruncate:
		// Default regime: walk the full path, following a trailing
		// symlink.

	case fileevent.SysUnlink, fileevent.SysMknod, fileevent.SysMkdir, fileevent.SysLchown:
		// These don't dereference the final component.
		skipLast = true

	case fileevent.SysUnlinkat, fileevent.SysMknodat, fileevent.SysMkdirat:
		fd, err := argAsIntPtr(event, 0)
		if err != nil {
			return false, err
		}
		atFd = fd
		skipLast = true

	case fileevent.SysOpen:
		flags, err := event.Arg(1)
		if err != nil {
			return false, err
		}
		skipLast = hasNoFollowOrExcl(int(flags))

	case fileevent.SysOpenat:
		fd, err := argAsIntPtr(event, 0)
		if err != nil {
			return false, err
		}
		atFd = fd
		flags, err := event.Arg(2)
		if err != nil {
			return false, err
		}
		skipLast = hasNoFollowOrExcl(int(flags))

	case fileevent.SysFchmodat:
		fd, err := argAsIntPtr(event, 0)
		if err != nil {
			return false, err
		}
		atFd = fd
		// fchmodat has AT_SYMLINK_NOFOLLOW in its flags but glibc doesn't
		// actually support it; always follows the final component.

	case fileevent.SysFchownat:
		fd, err := argAsIntPtr(event, 0)
		if err != nil {
			return false, err
		}
		atFd = fd
		flags, err := event.Arg(4)
		if err != nil {
			return false, err
		}
		if int(flags)&unix.AT_EMPTY_PATH != 0 && path == "" {
			return false, nil
		}
		skipLast = int(flags)&unix.AT_SYMLINK_NOFOLLOW != 0

	case fileevent.SysExecveat:
		fd, err := argAsIntPtr(event, 0)
		if err != nil {
			return false, err
		}
		atFd = fd
		flags, err := event.Arg(4)
		if err != nil {
			return false, err
		}
		if int(flags)&unix.AT_EMPTY_PATH != 0 && path == "" {
			return false, nil
		}
		writable, err := fileIsUserWritable(p, path, atFd)
		if err == nil && writable {
			return true, nil
		}
		skipLast = int(flags)&unix.AT_SYMLINK_NOFOLLOW != 0

	case fileevent.SysExecve:
		writable, err := fileIsUserWritable(p, path, nil)
		if err == nil && writable {
			return true, nil
		}

	case fileevent.SysUmount2:
		flags, err := event.Arg(1)
		if err != nil {
			return false, err
		}
		skipLast = int(flags)&unix.UMOUNT_NOFOLLOW != 0

	case fileevent.SysNameToHandleAt:
		flags, err := event.Arg(4)
		if err != nil {
			return false, err
		}
		if int(flags)&unix.AT_EMPTY_PATH != 0 && path == "" {
			return false, nil
		}
		skipLast = int(flags)&unix.AT_SYMLINK_FOLLOW == 0

	case fileevent.SysRename:
		skipLast = true
		otherPath, err := event.PathArg(1)
		if err != nil {
			return false, err
		}
		if controlled, err := walker.IsUserControlled(p, pathutil.Dirname(otherPath), nil, walker.DefaultBudget); err == nil && controlled {
			return true, nil
		}

	case fileevent.SysRenameat, fileevent.SysRenameat2:
		skipLast = true
		fd, err := argAsIntPtr(event, 0)
		if err != nil {
			return false, err
		}
		atFd = fd
		newFd, err := argAsIntPtr(event, 2)
		if err != nil {
			return false, err
		}
		newPath, err := event.PathArg(1)
		if err != nil {
			return false, err
		}
		if controlled, err := walker.IsUserControlled(p, pathutil.Dirname(newPath), newFd, walker.DefaultBudget); err == nil && controlled {
			return true, nil
		}

	case fileevent.SysLink:
		newPath, err := event.PathArg(1)
		if err != nil {
			return false, err
		}
		if controlled, err := walker.IsUserControlled(p, pathutil.Dirname(newPath), nil, walker.DefaultBudget); err == nil && controlled {
			return true, nil
		}

	case fileevent.SysSymlink:
		newPath, err := event.PathArg(1)
		if err != nil {
			return false, err
		}
		controlled, err := walker.IsUserControlled(p, pathutil.Dirname(newPath), nil, walker.DefaultBudget)
		if err != nil {
			return false, err
		}
		// The link target string itself is never walked.
		return controlled, nil

	case fileevent.SysLinkat:
		fd, err := argAsIntPtr(event, 0)
		if err != nil {
			return false, err
		}
		atFd = fd
		newPath, err := event.PathArg(1)
		if err != nil {
			return false, err
		}
		newFd, err := argAsIntPtr(event, 2)
		if err != nil {
			return false, err
		}
		flags, err := event.Arg(4)
		if err != nil {
			return false, err
		}
		if controlled, err := walker.IsUserControlled(p, pathutil.Dirname(newPath), newFd, walker.DefaultBudget); err == nil && controlled {
			return true, nil
		}
		if int(flags)&unix.AT_EMPTY_PATH != 0 && path == "" {
			return false, nil
		}
		skipLast = int(flags)&unix.AT_SYMLINK_FOLLOW == 0

	case fileevent.SysSymlinkat:
		newPath, err := event.PathArg(1)
		if err != nil {
			return false, err
		}
		// newdirfd is read from numeric argument index 1, the same
		// positional slot that also carries the new-path string in the
		// path-argument list.
		newFd, err := argAsIntPtr(event, 1)
		if err != nil {
			return false, err
		}
		controlled, err := walker.IsUserControlled(p, pathutil.Dirname(newPath), newFd, walker.DefaultBudget)
		if err != nil {
			return false, err
		}
		return controlled, nil

	case fileevent.SysMount:
		source := path
		target, err := event.PathArg(1)
		if err != nil {
			return false, err
		}
		flags, err := event.Arg(3)
		if err != nil {
			return false, err
		}
		if controlled, err := walker.IsUserControlled(p, target, nil, walker.DefaultBudget); err == nil && controlled {
			return true, nil
		}
		if int(flags)&(unix.MS_BIND|unix.MS_MOVE) == 0 {
			// source isn't a filesystem path unless bind/move-mounting.
			return false, nil
		}
		path = source

	default:
		return false, auditerr.Unimplementedf("no support for syscall %s", event.Syscall)
	}

	if skipLast {
		path = pathutil.Dirname(path)
	}

	return walker.IsUserControlled(p, path, atFd, walker.DefaultBudget)
}

func hasNoFollowOrExcl(flags int) bool {
	return flags&unix.O_NOFOLLOW != 0 || flags&unix.O_EXCL != 0
}

func argAsIntPtr(event *fileevent.FileEvent, idx int) (*int, error) {
	v, err := event.Arg(idx)
	if err != nil {
		return nil, err
	}
	// Numeric arguments carry raw kernel register values; a negative fd
	// such as AT_FDCWD (-100) is sign-extended to 64 bits by the producer,
	// so decode through int64 rather than truncating to int32.
	fd := int(int64(v))
	return &fd, nil
}

// fileIsUserWritable is the exec-family direct check: resolve (path, atFd)
// to a directory the same way the walker would, then ask
// whether the final component itself — not its resolution — is a regular
// file that a non-root principal could have written.
func fileIsUserWritable(p procview.ProcessView, file string, atFd *int) (bool, error) {
	dirFd, err := walker.ResolveStartFd(p, file, atFd)
	if err != nil {
		return false, err
	}
	defer unix.Close(dirFd)

	var st unix.Stat_t
	if err := unix.Fstatat(dirFd, file, &st, 0); err != nil {
		if err == unix.ENOENT {
			return false, nil
		}
		return false, auditerr.FailedPreconditionf(err, "couldn't fstatat %q", file)
	}

	if st.Mode&unix.S_IFMT != unix.S_IFREG {
		return false, nil
	}
	if st.Uid != 0 {
		return true, nil
	}
	if (st.Gid != 0 && st.Mode&unix.S_IWGRP != 0) || st.Mode&unix.S_IWOTH != 0 {
		return true, nil
	}
	return false, nil
}
