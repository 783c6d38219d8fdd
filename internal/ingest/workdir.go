package ingest

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/keithlinneman/archive-ingest/internal/xerrors"
)

const (
	scratchName = "upload.zip"
	treeName    = "tree"
)

// WorkDir is a per-request directory holding the scratch copy of the upload
// and the extracted tree. It is exclusively owned by one ingestion and must
// be closed on every exit path.
type WorkDir struct {
	fs   afero.Fs
	path string

	once     sync.Once
	closeErr error
}

// NewWorkDir creates a fresh directory below base ("" means the OS temp dir).
func NewWorkDir(fsys afero.Fs, base string) (*WorkDir, error) {
	if base != "" {
		if err := fsys.MkdirAll(base, 0o700); err != nil {
			return nil, xerrors.Wrapf(err, "create scratch base %s", base)
		}
	}
	dir, err := afero.TempDir(fsys, base, "ingest-")
	if err != nil {
		return nil, xerrors.Wrap(err, "create working directory")
	}
	return &WorkDir{fs: fsys, path: dir}, nil
}

func (w *WorkDir) Path() string { return w.path }

// Scratch is where the raw upload is persisted.
func (w *WorkDir) Scratch() string { return filepath.Join(w.path, scratchName) }

// ExtractRoot is where archive content is extracted, kept apart from the
// scratch file so listings only show archive content.
func (w *WorkDir) ExtractRoot() string { return filepath.Join(w.path, treeName) }

// Close removes the directory and everything below it. Safe to call more than once.
func (w *WorkDir) Close() error {
	w.once.Do(func() {
		if err := w.fs.RemoveAll(w.path); err != nil {
			w.closeErr = xerrors.Wrapf(err, "remove working directory %s", w.path)
		}
	})
	return w.closeErr
}

// WithWorkDir runs fn with a fresh WorkDir and removes it afterwards, whether
// fn returns normally, fails or panics. A panic keeps unwinding after cleanup.
// A cleanup failure is reported only when fn itself succeeded.
func WithWorkDir(ctx context.Context, fsys afero.Fs, base string, fn func(context.Context, *WorkDir) error) (err error) {
	wd, err := NewWorkDir(fsys, base)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := wd.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()
	return fn(ctx, wd)
}
