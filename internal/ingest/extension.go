package ingest

import "strings"

// ValidateExtension checks the client supplied filename against the
// allow-list. A filename without a "." has no extension and passes;
// otherwise the text after the last "." is lower-cased and must be allowed.
func ValidateExtension(filename string, limits Limits) error {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return nil
	}
	ext := strings.ToLower(filename[i+1:])
	if !limits.Allows(ext) {
		return reject(ReasonUnsupportedExtension, "uploaded file extension %q is not allowed", ext)
	}
	return nil
}
