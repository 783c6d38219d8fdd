package ingest

import (
	"sort"
	"strings"
)

const (
	// DefaultMaxUncompressedBytes is the ceiling on the summed uncompressed
	// size of all entries in an uploaded archive
	DefaultMaxUncompressedBytes int64 = 50 * 1024 * 1024 // 50MB

	// DefaultMaxUploadBytes is the ceiling on the compressed upload itself
	DefaultMaxUploadBytes int64 = 100 * 1024 * 1024 // 100MB

	// DefaultMaxEntries bounds the central directory size we are willing to walk
	DefaultMaxEntries = 10000
)

// DefaultAllowedExtensions is the extension allow-list used when none is configured.
var DefaultAllowedExtensions = []string{"zip"}

// Limits is the immutable ingestion policy. A single value is shared
// read-only by every concurrent ingestion.
type Limits struct {
	maxUncompressed int64
	maxUpload       int64
	maxEntries      int
	extensions      map[string]struct{}
}

// LimitOption adjusts a Limits value built by NewLimits.
type LimitOption func(*Limits)

// WithMaxUploadBytes caps the compressed upload size, n <= 0 keeps the default
func WithMaxUploadBytes(n int64) LimitOption {
	return func(l *Limits) {
		if n > 0 {
			l.maxUpload = n
		}
	}
}

// WithMaxEntries caps the number of entries in the archive, n <= 0 keeps the default
func WithMaxEntries(n int) LimitOption {
	return func(l *Limits) {
		if n > 0 {
			l.maxEntries = n
		}
	}
}

// NewLimits builds a Limits value. maxUncompressed <= 0 selects
// DefaultMaxUncompressedBytes; an empty extension list selects
// DefaultAllowedExtensions. Extensions are normalized to lower case
// without a leading dot.
func NewLimits(maxUncompressed int64, extensions []string, opts ...LimitOption) Limits {
	if maxUncompressed <= 0 {
		maxUncompressed = DefaultMaxUncompressedBytes
	}
	l := Limits{
		maxUncompressed: maxUncompressed,
		maxUpload:       DefaultMaxUploadBytes,
		maxEntries:      DefaultMaxEntries,
		extensions:      make(map[string]struct{}),
	}
	for _, e := range extensions {
		if e = NormalizeExtension(e); e != "" {
			l.extensions[e] = struct{}{}
		}
	}
	if len(l.extensions) == 0 {
		for _, e := range DefaultAllowedExtensions {
			l.extensions[e] = struct{}{}
		}
	}
	for _, o := range opts {
		o(&l)
	}
	return l
}

// DefaultLimits returns the production defaults.
func DefaultLimits() Limits { return NewLimits(0, nil) }

// NormalizeExtension lower-cases ext and strips surrounding space and a leading dot.
func NormalizeExtension(ext string) string {
	return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(ext)), ".")
}

// MaxUncompressedBytes is the cap on the summed declared uncompressed size.
func (l Limits) MaxUncompressedBytes() int64 {
	if l.maxUncompressed <= 0 {
		return DefaultMaxUncompressedBytes
	}
	return l.maxUncompressed
}

// MaxUploadBytes is the cap on the uploaded archive itself.
func (l Limits) MaxUploadBytes() int64 {
	if l.maxUpload <= 0 {
		return DefaultMaxUploadBytes
	}
	return l.maxUpload
}

// MaxEntries is the cap on the number of central directory entries.
func (l Limits) MaxEntries() int {
	if l.maxEntries <= 0 {
		return DefaultMaxEntries
	}
	return l.maxEntries
}

// Allows reports whether ext (already lower-cased, no dot) is on the allow-list.
// The zero Limits value falls back to DefaultAllowedExtensions.
func (l Limits) Allows(ext string) bool {
	if len(l.extensions) == 0 {
		for _, e := range DefaultAllowedExtensions {
			if e == ext {
				return true
			}
		}
		return false
	}
	_, ok := l.extensions[ext]
	return ok
}

// Extensions returns a sorted copy of the allow-list.
func (l Limits) Extensions() []string {
	if len(l.extensions) == 0 {
		return append([]string(nil), DefaultAllowedExtensions...)
	}
	out := make([]string, 0, len(l.extensions))
	for e := range l.extensions {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}
