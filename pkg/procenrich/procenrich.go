// Package procenrich fills in the process-identity fields a report wants
// ("caller cmdline, caller uid") for a given pid, backed by a bounded LRU
// instead of an unbounded map, since a long-lived auditor daemon sees the
// same pids repeatedly in a tight loop. None of
// this feeds the classifier — only the log record attached after a
// classification has already been decided.
package procenrich

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sys/unix"
)

// Info is the subset of process identity the reporter cares about.
type Info struct {
	PID     int32
	UID     uint32
	GID     uint32
	Comm    string
	Cmdline string
}

// Cache resolves and caches process identity lookups under /proc.
type Cache struct {
	entries *lru.Cache[int32, Info]
}

// NewCache builds a Cache holding up to size entries.
func NewCache(size int) (*Cache, error) {
	c, err := lru.New[int32, Info](size)
	if err != nil {
		return nil, fmt.Errorf("procenrich: building lru cache: %w", err)
	}
	return &Cache{entries: c}, nil
}

// Lookup returns cached identity info for pid, refreshing it from /proc on a
// cache miss. A pid that has exited between the event and the lookup yields
// a best-effort Info with whatever fields could still be read.
func (c *Cache) Lookup(pid int32) Info {
	if info, ok := c.entries.Get(pid); ok {
		return info
	}

	info := Info{PID: pid}
	if uid, gid, err := readOwner(pid); err == nil {
		info.UID, info.GID = uid, gid
	}
	if comm, err := readComm(pid); err == nil {
		info.Comm = comm
	}
	if cmdline, err := readCmdline(pid); err == nil {
		info.Cmdline = cmdline
	}

	c.entries.Add(pid, info)
	return info
}

// Invalidate drops any cached entry for pid, e.g. once the reporter learns
// the pid has exited and been reused by an unrelated process.
func (c *Cache) Invalidate(pid int32) {
	c.entries.Remove(pid)
}

// readOwner reports the uid/gid that owns /proc/<pid>, which is the calling
// process's credentials as seen by the kernel.
func readOwner(pid int32) (uid, gid uint32, err error) {
	var st unix.Stat_t
	if err := unix.Stat(fmt.Sprintf("/proc/%d", pid), &st); err != nil {
		return 0, 0, err
	}
	return st.Uid, st.Gid, nil
}

func readComm(pid int32) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/comm", pid))
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// readCmdline reads /proc/<pid>/cmdline, which separates arguments with NUL
// bytes, and joins them with spaces for a human-readable log field.
func readCmdline(pid int32) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return "", err
	}
	data = bytes.TrimRight(data, "\x00")
	return string(bytes.ReplaceAll(data, []byte{0}, []byte(" "))), nil
}
