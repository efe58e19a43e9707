// Package classifier, given an open directory descriptor and one simple
// name within it, decides whether that single step of a path resolution
// could have been user-controlled.
package classifier

import (
	"golang.org/x/sys/unix"

	"github.com/google/pathauditor/pkg/auditerr"
)

// Filesystem magic numbers the classifier treats as trusted pseudo-fs, and
// the inode immutability flag it checks for. Values come straight from the
// kernel headers.
const (
	procSuperMagic    = 0x9fa0
	cgroupSuperMagic  = 0x27e0eb
	cgroup2SuperMagic = 0x63677270

	fsImmutableFl = 16 // FS_IMMUTABLE_FL

	// O_PATH is not enough: the immutability ioctl fails on an O_PATH fd.
	dirOpenFlags = unix.O_RDONLY
)

// fdIsImmutable reports whether fd's inode carries FS_IMMUTABLE_FL. ENOTTY
// (filesystem doesn't support the ioctl) is treated as "not immutable", not
// as an error.
func fdIsImmutable(fd int) (bool, error) {
	flags, err := unix.IoctlGetInt(fd, unix.FS_IOC_GETFLAGS)
	if err != nil {
		if err == unix.ENOTTY {
			return false, nil
		}
		return false, auditerr.FailedPreconditionf(err, "ioctl(FS_IOC_GETFLAGS) failed")
	}
	return flags&fsImmutableFl != 0, nil
}

// IsUserControlled runs the seven-step decision procedure against directory
// descriptor dirFd and simple name n. It never follows n itself except for
// the best-effort open used to check n's own immutability flag (step 3),
// which it closes before returning.
func IsUserControlled(dirFd int, n string) (bool, error) {
	// 1. "." and ".." are never user-controlled steps.
	if n == "." || n == ".." {
		return false, nil
	}

	// 2. An immutable directory can't have its contents altered by anyone.
	dirImmutable, err := fdIsImmutable(dirFd)
	if err != nil {
		return false, err
	}
	if dirImmutable {
		return false, nil
	}

	// 3. An immutable target file is likewise safe, even if its parent
	// directory is writable. ELOOP (a symlink chain the kernel won't
	// follow) is left to the walker, which expands links itself under its
	// own budget.
	fileFd, err := unix.Openat(dirFd, n, unix.O_RDONLY, 0)
	if err != nil {
		if err != unix.ENOENT && err != unix.ELOOP {
			return false, auditerr.FailedPreconditionf(err, "couldn't open %q for immutable check", n)
		}
	} else {
		fileImmutable, ferr := fdIsImmutable(fileFd)
		unix.Close(fileFd)
		if ferr != nil {
			return false, ferr
		}
		if fileImmutable {
			return false, nil
		}
	}

	// 4. Pseudo-filesystems are trusted regardless of their nominal mode
	// bits.
	var fsBuf unix.Statfs_t
	if err := unix.Fstatfs(dirFd, &fsBuf); err != nil {
		return false, auditerr.FailedPreconditionf(err, "fstatfs(dirFd) failed")
	}
	switch int64(fsBuf.Type) {
	case procSuperMagic, cgroupSuperMagic, cgroup2SuperMagic:
		return false, nil
	}

	var dirSt unix.Stat_t
	if err := unix.Fstat(dirFd, &dirSt); err != nil {
		return false, auditerr.FailedPreconditionf(err, "fstat(dirFd) failed")
	}

	// 5. A directory not owned by root is controlled by whoever owns it.
	if dirSt.Uid != 0 {
		return true, nil
	}

	// 6. Root-owned but writable by a non-root group or by everyone.
	groupWritable := dirSt.Gid != 0 && dirSt.Mode&unix.S_IWGRP != 0
	otherWritable := dirSt.Mode&unix.S_IWOTH != 0
	if groupWritable || otherWritable {
		if dirSt.Mode&unix.S_ISVTX == 0 {
			// 6a. Not sticky: anyone who can write the directory can
			// replace n.
			return true, nil
		}

		// 6b. Sticky: only the owner of n (or the directory owner, or
		// root) may replace it. An absent n can still be created by a
		// user, so that also counts as controlled.
		var nSt unix.Stat_t
		if err := unix.Fstatat(dirFd, n, &nSt, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			if err == unix.ENOENT {
				return true, nil
			}
			return false, auditerr.FailedPreconditionf(err, "couldn't fstatat %q", n)
		}
		if nSt.Uid != 0 {
			return true, nil
		}
	}

	// 7. Root-owned, not world/group-writable (or sticky-protected): safe.
	return false, nil
}
