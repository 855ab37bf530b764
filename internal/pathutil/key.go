package pathutil

import (
	"path/filepath"
	"strings"

	"github.com/keithlinneman/sitedeploy/internal/xerrors"
)

// HasDotSegments reports whether any slash-separated segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// CheckKey rejects object keys that could escape the build root or that
// object stores treat inconsistently. A leading slash is allowed and kept.
func CheckKey(key string) error {
	switch {
	case strings.Trim(key, "/") == "":
		return xerrors.Newf("empty key %q", key)
	case strings.ContainsRune(key, 0):
		return xerrors.Newf("key %q contains NUL", key)
	case strings.Contains(key, "\\"):
		return xerrors.Newf("key %q contains a backslash", key)
	case HasDotSegments(key):
		return xerrors.Newf("key %q contains dot segments", key)
	case strings.Contains(strings.Trim(key, "/"), "//"):
		return xerrors.Newf("key %q contains an empty segment", key)
	}
	return nil
}

// KeyFromRel converts a path relative to the build root into a key
func KeyFromRel(rel string) string {
	return filepath.ToSlash(rel)
}
