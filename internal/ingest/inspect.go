package ingest

import (
	"io"
	"io/fs"
	"math"
	"path"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"

	"github.com/keithlinneman/archive-ingest/internal/pathutil"
	"github.com/keithlinneman/archive-ingest/internal/xerrors"
)

// Entry is one file or directory listed in the archive's central directory.
// Values come from metadata only and are never trusted beyond that.
type Entry struct {
	Name             string      `json:"name"`
	Path             string      `json:"path"` // cleaned relative path, "" for the root
	CompressedSize   int64       `json:"compressed_size"`
	UncompressedSize int64       `json:"uncompressed_size"`
	CRC32            uint32      `json:"crc32"`
	Mode             fs.FileMode `json:"mode"`
	IsDir            bool        `json:"is_dir"`
}

// archive is an open zip container backed by an afero file.
type archive struct {
	f  afero.File
	zr *zip.Reader
}

func (a *archive) Close() error { return a.f.Close() }

func openArchive(fsys afero.Fs, archivePath string) (*archive, error) {
	f, err := fsys.Open(archivePath)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open archive %s", archivePath)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, xerrors.Wrapf(err, "stat archive %s", archivePath)
	}
	zr, err := zip.NewReader(f, st.Size())
	if zr == nil {
		f.Close()
		return nil, rejectWrap(ReasonInvalidArchive, err, "not a readable zip archive")
	}
	// a reader with an error means insecure names were seen; they are
	// rejected with a precise reason by the name checks
	return &archive{f: f, zr: zr}, nil
}

// Inspect reads only the archive's central directory and enforces limits
// before anything is decompressed: entry count, entry types, entry names
// and the summed uncompressed size.
func Inspect(fsys afero.Fs, archivePath string, limits Limits) ([]Entry, error) {
	a, err := openArchive(fsys, archivePath)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	return inspectFiles(a.zr.File, limits)
}

// InspectReader is Inspect over an already open container.
func InspectReader(r io.ReaderAt, size int64, limits Limits) ([]Entry, error) {
	zr, err := zip.NewReader(r, size)
	if zr == nil {
		return nil, rejectWrap(ReasonInvalidArchive, err, "not a readable zip archive")
	}
	return inspectFiles(zr.File, limits)
}

func inspectFiles(files []*zip.File, limits Limits) ([]Entry, error) {
	if n, most := len(files), limits.MaxEntries(); n > most {
		e := reject(ReasonTooManyEntries, "archive has %d entries, limit is %d", n, most)
		e.Total, e.Limit = int64(n), int64(most)
		return nil, e
	}

	entries := make([]Entry, 0, len(files))
	layout := newTreeLayout(len(files))
	var total int64
	for _, zf := range files {
		info := zf.FileInfo()
		mode := info.Mode()

		if mode&(fs.ModeSymlink|fs.ModeDevice|fs.ModeCharDevice|fs.ModeNamedPipe|fs.ModeSocket|fs.ModeIrregular) != 0 {
			return nil, rejectEntry(ReasonUnsupportedEntry, zf.Name,
				"unsupported entry type in archive: %s (mode=%s)", zf.Name, mode)
		}

		rel, err := pathutil.CleanArchiveName(zf.Name)
		if err != nil {
			re := rejectEntry(ReasonUnsafePath, zf.Name, "unsafe entry name %q", zf.Name)
			re.err = err
			return nil, re
		}

		if other, ok := layout.add(rel, info.IsDir()); !ok {
			return nil, rejectEntry(ReasonConflictingEntry, zf.Name,
				"archive entry %q conflicts with entry %q", zf.Name, other)
		}

		size := clampInt64(zf.UncompressedSize64)
		total = addSaturating(total, size)

		entries = append(entries, Entry{
			Name:             zf.Name,
			Path:             rel,
			CompressedSize:   clampInt64(zf.CompressedSize64),
			UncompressedSize: size,
			CRC32:            zf.CRC32,
			Mode:             mode,
			IsDir:            info.IsDir(),
		})
	}

	if limit := limits.MaxUncompressedBytes(); total > limit {
		return nil, rejectSize(total, limit)
	}
	return entries, nil
}

// treeLayout records which cleaned paths the archive claims as files and
// which as directories, explicitly or as a parent of another entry.
type treeLayout struct {
	files map[string]bool
	dirs  map[string]bool
}

func newTreeLayout(n int) treeLayout {
	return treeLayout{files: make(map[string]bool, n), dirs: make(map[string]bool, n)}
}

// add claims rel and returns false with the clashing path when rel repeats
// a file or a file and a directory would share one path.
func (t treeLayout) add(rel string, isDir bool) (string, bool) {
	if rel == "" {
		return "", true
	}
	for parent := path.Dir(rel); parent != "."; parent = path.Dir(parent) {
		if t.files[parent] {
			return parent, false
		}
		t.dirs[parent] = true
	}
	switch {
	case t.files[rel]:
		return rel, false
	case isDir:
		t.dirs[rel] = true
	case t.dirs[rel]:
		return rel, false
	default:
		t.files[rel] = true
	}
	return "", true
}

// UncompressedTotal sums the declared uncompressed sizes of entries.
func UncompressedTotal(entries []Entry) int64 {
	var total int64
	for _, e := range entries {
		total = addSaturating(total, e.UncompressedSize)
	}
	return total
}

func clampInt64(v uint64) int64 {
	if v > math.MaxInt64 {
		return math.MaxInt64
	}
	return int64(v)
}

func addSaturating(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
