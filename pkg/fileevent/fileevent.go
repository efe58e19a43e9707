// Package fileevent defines the input record the path auditor core
// consumes: a decoded filesystem-related syscall, ready for classification.
// Producing a FileEvent from a live syscall (the interception shim) is
// outside this package's job; see internal/shimref for a reference source.
package fileevent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/pathauditor/pkg/auditerr"
)

// Syscall identifies the fs-related syscall a FileEvent describes. The
// numeric values are irrelevant outside this package; only the identity of
// the constant matters to the dispatcher's switch.
type Syscall int

const (
	SysUnknown Syscall = iota
	SysOpen
	SysOpenat
	SysCreat
	SysTruncate
	SysChmod
	SysChown
	SysLchown
	SysChdir
	SysChroot
	SysUnlink
	SysUnlinkat
	SysRmdir
	SysMkdir
	SysMkdirat
	SysMknod
	SysMknodat
	SysLink
	SysLinkat
	SysSymlink
	SysSymlinkat
	SysRename
	SysRenameat
	SysRenameat2
	SysMount
	SysUmount2
	SysExecve
	SysExecveat
	SysFchmodat
	SysFchownat
	SysNameToHandleAt
	SysUselib
	SysSwapon
)

var syscallNames = map[Syscall]string{
	SysOpen:           "open",
	SysOpenat:         "openat",
	SysCreat:          "creat",
	SysTruncate:       "truncate",
	SysChmod:          "chmod",
	SysChown:          "chown",
	SysLchown:         "lchown",
	SysChdir:          "chdir",
	SysChroot:         "chroot",
	SysUnlink:         "unlink",
	SysUnlinkat:       "unlinkat",
	SysRmdir:          "rmdir",
	SysMkdir:          "mkdir",
	SysMkdirat:        "mkdirat",
	SysMknod:          "mknod",
	SysMknodat:        "mknodat",
	SysLink:           "link",
	SysLinkat:         "linkat",
	SysSymlink:        "symlink",
	SysSymlinkat:      "symlinkat",
	SysRename:         "rename",
	SysRenameat:       "renameat",
	SysRenameat2:      "renameat2",
	SysMount:          "mount",
	SysUmount2:        "umount2",
	SysExecve:         "execve",
	SysExecveat:       "execveat",
	SysFchmodat:       "fchmodat",
	SysFchownat:       "fchownat",
	SysNameToHandleAt: "name_to_handle_at",
	SysUselib:         "uselib",
	SysSwapon:         "swapon",
}

func (s Syscall) String() string {
	if name, ok := syscallNames[s]; ok {
		return name
	}
	return fmt.Sprintf("syscall(%d)", int(s))
}

var syscallByName = func() map[string]Syscall {
	m := make(map[string]Syscall, len(syscallNames))
	for s, name := range syscallNames {
		m[name] = s
	}
	return m
}()

// ParseSyscall maps a syscall name (as produced by Syscall.String) back to
// its Syscall value, for event sources that decode from text (e.g. a JSON
// event feed) rather than constructing a Syscall constant directly.
func ParseSyscall(name string) (Syscall, bool) {
	s, ok := syscallByName[name]
	return s, ok
}

// FileEvent represents one fs-related syscall made by the auditee: which
// syscall, its positional numeric arguments (path slots hold a zero
// placeholder, per spec), and its positional path-string arguments.
type FileEvent struct {
	Syscall  Syscall
	Args     []uint64
	PathArgs []string
}

// New builds a FileEvent. args and pathArgs are copied by reference, not
// defensively cloned — callers are expected to treat a FileEvent as
// immutable once constructed, same as the dispatcher does.
func New(syscall Syscall, args []uint64, pathArgs []string) *FileEvent {
	return &FileEvent{Syscall: syscall, Args: args, PathArgs: pathArgs}
}

// Arg returns the idx-th numeric argument, or an OutOfRange error.
func (e *FileEvent) Arg(idx int) (uint64, error) {
	if idx < 0 || idx >= len(e.Args) {
		return 0, auditerr.OutOfRangef("arg index %d out of range (size %d)", idx, len(e.Args))
	}
	return e.Args[idx], nil
}

// PathArg returns the idx-th path argument, or an OutOfRange error.
func (e *FileEvent) PathArg(idx int) (string, error) {
	if idx < 0 || idx >= len(e.PathArgs) {
		return "", auditerr.OutOfRangef("path arg index %d out of range (size %d)", idx, len(e.PathArgs))
	}
	return e.PathArgs[idx], nil
}

// String renders the event the way the reporting interface wants it logged:
// syscall name, args, path args.
func (e *FileEvent) String() string {
	args := make([]string, len(e.Args))
	for i, a := range e.Args {
		args[i] = fmt.Sprintf("%d", a)
	}
	return fmt.Sprintf("syscall: %s, args: [%s], path_args: [%s]",
		e.Syscall, strings.Join(args, ", "), strings.Join(e.PathArgs, ", "))
}

// wireEvent is the JSON shape used by event sources that decode FileEvents
// from text, such as the example daemon's "remote" mode stdin feed: the
// syscall is spelled out by name rather than by its internal enum value, so
// the feed stays readable and stable across reorderings of the Syscall
// constants.
type wireEvent struct {
	Syscall  string   `json:"syscall"`
	Args     []uint64 `json:"args"`
	PathArgs []string `json:"path_args"`
}

// MarshalJSON renders e using its syscall name rather than its numeric
// enum value.
func (e *FileEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEvent{
		Syscall:  e.Syscall.String(),
		Args:     e.Args,
		PathArgs: e.PathArgs,
	})
}

// UnmarshalJSON parses e from its wire representation, resolving the
// syscall name through ParseSyscall.
func (e *FileEvent) UnmarshalJSON(data []byte) error {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	syscall, ok := ParseSyscall(w.Syscall)
	if !ok {
		return fmt.Errorf("fileevent: unknown syscall name %q", w.Syscall)
	}
	e.Syscall = syscall
	e.Args = w.Args
	e.PathArgs = w.PathArgs
	return nil
}
