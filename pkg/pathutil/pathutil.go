// Package pathutil holds the small path-string helpers the rest of the
// auditor needs: an absolute-path test, a dirname split, and a join. Kept
// deliberately tiny and dependency-free, the way the original project keeps
// these helpers out of the classifier/walker proper.
package pathutil

import "strings"

// IsAbsolutePath reports whether path starts with "/".
func IsAbsolutePath(path string) bool {
	return strings.HasPrefix(path, "/")
}

// Dirname returns the directory portion of path. Unlike path.Dir, trailing
// slashes are stripped first ("/etc/" yields "/"); then the last
// "/"-delimited component is dropped, and a path with no remaining separator
// returns ".". An absolute path's dirname is never empty; at minimum it is
// "/".
func Dirname(path string) string {
	trimmed := strings.TrimRight(path, "/")
	if trimmed == "" {
		// path was "/" or "///..."
		return "/"
	}
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return "."
	}
	if idx == 0 {
		return "/"
	}
	return trimmed[:idx]
}

// Basename returns the last "/"-delimited component of path.
func Basename(path string) string {
	trimmed := strings.TrimRight(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return trimmed
	}
	return trimmed[idx+1:]
}

// JoinPath joins elems with "/", skipping empty elements. If the first
// non-empty element is absolute, the result is absolute.
func JoinPath(elems ...string) string {
	parts := make([]string, 0, len(elems))
	absolute := false
	for _, e := range elems {
		if e == "" {
			continue
		}
		if len(parts) == 0 {
			absolute = IsAbsolutePath(e)
		}
		parts = append(parts, strings.Trim(e, "/"))
	}
	joined := strings.Join(parts, "/")
	if absolute {
		return "/" + joined
	}
	return joined
}

// SplitComponents splits path on "/", dropping empty fragments. It never
// returns "." or ".." filtering — callers (the walker) decide what to do
// with those components themselves.
func SplitComponents(path string) []string {
	raw := strings.Split(path, "/")
	out := make([]string, 0, len(raw))
	for _, c := range raw {
		if c == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}
