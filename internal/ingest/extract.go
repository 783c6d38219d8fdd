package ingest

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"

	"github.com/keithlinneman/archive-ingest/internal/pathutil"
	"github.com/keithlinneman/archive-ingest/internal/xerrors"
)

const (
	dirPerm  fs.FileMode = 0o755
	filePerm fs.FileMode = 0o644
)

// Extract writes every entry of a verified archive below targetDir and
// returns the relative (slash separated) paths of the regular files written,
// sorted. Names that would resolve outside targetDir are rejected. On a
// write failure the already written files are left behind; the owning
// WorkDir removes them.
func Extract(ctx context.Context, fsys afero.Fs, archivePath, targetDir string) ([]string, error) {
	a, err := openArchive(fsys, archivePath)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	if err := fsys.MkdirAll(targetDir, dirPerm); err != nil {
		return nil, extractionFailed(".", err)
	}

	files := make([]string, 0, len(a.zr.File))
	for _, zf := range a.zr.File {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		rel, err := pathutil.CleanArchiveName(zf.Name)
		if err != nil {
			re := rejectEntry(ReasonUnsafePath, zf.Name, "unsafe entry name %q", zf.Name)
			re.err = err
			return nil, re
		}
		if rel == "" {
			continue
		}
		target, err := pathutil.SafeJoin(targetDir, rel)
		if err != nil {
			re := rejectEntry(ReasonUnsafePath, zf.Name, "unsafe entry name %q", zf.Name)
			re.err = err
			return nil, re
		}

		if zf.FileInfo().IsDir() {
			if err := fsys.MkdirAll(target, dirPerm); err != nil {
				return nil, extractionFailed(rel, err)
			}
			continue
		}

		if err := fsys.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
			return nil, extractionFailed(rel, err)
		}
		if err := writeEntry(ctx, fsys, zf, target); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, extractionFailed(rel, err)
		}
		files = append(files, rel)
	}

	sort.Strings(files)
	return files, nil
}

// writeEntry copies one entry to path, capped at its declared size
func writeEntry(ctx context.Context, fsys afero.Fs, zf *zip.File, path string) (err error) {
	rc, err := zf.Open()
	if err != nil {
		return xerrors.Wrapf(err, "open entry %s", zf.Name)
	}
	defer rc.Close()

	perm := zf.Mode().Perm() & dirPerm
	if perm == 0 {
		perm = filePerm
	}

	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return xerrors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = xerrors.Wrapf(cerr, "close %s", path)
		}
	}()

	limit := clampInt64(zf.UncompressedSize64)
	n, err := io.Copy(f, ctxReader{ctx: ctx, r: io.LimitReader(rc, limit+1)})
	if err != nil {
		return xerrors.Wrapf(err, "write %s", path)
	}
	if n > limit {
		return xerrors.Newf("entry %s exceeds declared size (%d bytes)", zf.Name, limit)
	}
	return nil
}

// TopLevel lists the names directly below dir, sorted.
func TopLevel(fsys afero.Fs, dir string) ([]string, error) {
	infos, err := afero.ReadDir(fsys, dir)
	if err != nil {
		return nil, xerrors.Wrapf(err, "list %s", dir)
	}
	out := make([]string, 0, len(infos))
	for _, fi := range infos {
		out = append(out, fi.Name())
	}
	sort.Strings(out)
	return out, nil
}
