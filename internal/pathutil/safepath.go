package pathutil

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/keithlinneman/archive-ingest/internal/xerrors"
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// CleanArchiveName normalizes an untrusted archive entry name to a
// slash-separated relative path. Absolute names, drive letters, backslashes,
// NUL bytes and parent traversal are rejected. A trailing slash (directory
// entry) is dropped. Returns "" with no error for names that resolve to the
// archive root.
func CleanArchiveName(name string) (string, error) {
	if strings.IndexByte(name, 0) >= 0 {
		return "", xerrors.Newf("nul byte in entry name %q", name)
	}
	if strings.Contains(name, `\`) {
		return "", xerrors.Newf("backslash in entry name %q", name)
	}
	if strings.HasPrefix(name, "/") || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", xerrors.Newf("absolute path in archive: %s", name)
	}
	// reject traversal before Clean gets a chance to fold it away ("a/../../b")
	if containsParent(name) {
		return "", xerrors.Newf("path traversal in archive: %s", name)
	}

	clean := path.Clean(name)
	if clean == "." || clean == "" {
		return "", nil
	}
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", xerrors.Newf("path traversal in archive: %s", name)
	}
	return clean, nil
}

func containsParent(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == ".." {
			return true
		}
	}
	return false
}

// SafeJoin joins a cleaned relative name onto root and verifies the result
// stays inside root.
func SafeJoin(root, rel string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(rel))

	cleanRoot := filepath.Clean(root)
	cleanTarget := filepath.Clean(target)
	if cleanTarget == cleanRoot {
		return cleanTarget, nil
	}
	if !strings.HasPrefix(cleanTarget+string(filepath.Separator), cleanRoot+string(filepath.Separator)) {
		return "", xerrors.Newf("path escapes destination: %s", rel)
	}
	return cleanTarget, nil
}
