// Package walker resolves a path one component at a time relative to a
// mutable "current directory" descriptor, following symlinks manually with
// a bounded budget, and asking pkg/classifier about each component before
// the kernel is allowed to follow it.
package walker

import (
	"golang.org/x/sys/unix"

	"github.com/google/pathauditor/pkg/auditerr"
	"github.com/google/pathauditor/pkg/classifier"
	"github.com/google/pathauditor/pkg/pathutil"
	"github.com/google/pathauditor/pkg/procview"
)

// DefaultBudget is the iteration budget used when callers don't specify one.
const DefaultBudget = 40

const dirOpenFlags = unix.O_RDONLY

// pathMax mirrors the kernel's PATH_MAX (linux/limits.h); a link target
// that doesn't fit is rejected rather than silently truncated.
const pathMax = 4096

// procSuperMagic is PROC_SUPER_MAGIC; duplicated from pkg/classifier
// rather than exported from there, since the two packages check it for
// different reasons (trusted pseudo-fs vs. magic-symlink dereference).
const procSuperMagic = 0x9fa0

// AtFDCWD mirrors the kernel's AT_FDCWD sentinel: "resolve relative to the
// caller's cwd", as opposed to an explicit directory fd.
const AtFDCWD = unix.AT_FDCWD

// ResolveStartFd picks the initial directory descriptor a resolution of
// path (optionally relative to atFd) should begin from, following the same
// rule the kernel itself would: absolute paths start at the root, AT_FDCWD
// (or no at_fd at all) starts at the cwd, anything else starts at a
// reopened copy of the given directory fd. Both the walker and the
// dispatcher's direct "is this file user-writable" check (which lets the
// kernel resolve the remaining components itself) use this to pick their
// starting point.
func ResolveStartFd(p procview.ProcessView, path string, atFd *int) (int, error) {
	if pathutil.IsAbsolutePath(path) {
		return p.OpenRoot(dirOpenFlags)
	}
	if atFd == nil || *atFd == AtFDCWD {
		return p.OpenCwd(dirOpenFlags)
	}
	return p.DupDirFd(*atFd, dirOpenFlags)
}

// IsUserControlled walks path relative to p (and, for a relative path, atFd)
// and reports whether any component's resolution could have been
// influenced by an unprivileged local principal. budget bounds the number
// of component-resolution iterations, guarding against symlink loops.
func IsUserControlled(p procview.ProcessView, path string, atFd *int, budget int) (bool, error) {
	dirFd, err := ResolveStartFd(p, path, atFd)
	if err != nil {
		return false, err
	}
	defer unix.Close(dirFd)

	queue := pathutil.SplitComponents(path)

	for i := 0; i < budget; i++ {
		if len(queue) == 0 {
			return false, nil
		}

		elem := queue[0]
		queue = queue[1:]

		if elem == "." {
			continue
		}

		controlled, err := classifier.IsUserControlled(dirFd, elem)
		if err != nil {
			return false, err
		}
		if controlled {
			return true, nil
		}

		var st unix.Stat_t
		if err := unix.Fstatat(dirFd, elem, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			if err == unix.ENOENT {
				// Nothing more to validate: the missing name has already
				// been classified.
				return false, nil
			}
			return false, auditerr.FailedPreconditionf(err, "could not stat path element %q", elem)
		}

		// Proc-symlink exception: magic links under /proc are dereferenced
		// by the kernel with trusted semantics, so re-stat without
		// AT_SYMLINK_NOFOLLOW and dispatch on that type instead.
		if st.Mode&unix.S_IFMT == unix.S_IFLNK {
			var fsBuf unix.Statfs_t
			if err := unix.Fstatfs(dirFd, &fsBuf); err != nil {
				return false, auditerr.FailedPreconditionf(err, "fstatfs(dirFd) failed")
			}
			if int64(fsBuf.Type) == procSuperMagic {
				if err := unix.Fstatat(dirFd, elem, &st, 0); err != nil {
					return false, auditerr.FailedPreconditionf(err, "could not stat path element %q without nofollow", elem)
				}
			}
		}

		switch st.Mode & unix.S_IFMT {
		case unix.S_IFDIR:
			newFd, err := unix.Openat(dirFd, elem, dirOpenFlags, 0)
			if err != nil {
				return false, auditerr.FailedPreconditionf(err, "couldn't openat next elem %q", elem)
			}
			unix.Close(dirFd)
			dirFd = newFd

		case unix.S_IFLNK:
			buf := make([]byte, pathMax)
			n, err := unix.Readlinkat(dirFd, elem, buf)
			if err != nil {
				return false, auditerr.FailedPreconditionf(err, "could not read link for path element %q", elem)
			}
			if n >= len(buf) {
				return false, auditerr.FailedPreconditionf(nil, "link target for %q is larger than PATH_MAX", elem)
			}
			target := string(buf[:n])

			if pathutil.IsAbsolutePath(target) {
				newFd, err := p.OpenRoot(dirOpenFlags)
				if err != nil {
					return false, err
				}
				unix.Close(dirFd)
				dirFd = newFd
			}

			queue = append(pathutil.SplitComponents(target), queue...)

		default:
			if len(queue) != 0 {
				return false, auditerr.FailedPreconditionf(nil, "non-directory in middle of path at %q", elem)
			}
			return false, nil
		}
	}

	return false, auditerr.ResourceExhaustedf("ran into max iteration count %d", budget)
}
