package ingest

import (
	"context"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

// ctxReader aborts a long decompression once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Verify decompresses every entry and compares it against the CRC-32 stored
// in the archive. It names the first entry that fails. Must only run after
// Inspect approved the projected size, since this is a full decompression.
func Verify(ctx context.Context, fsys afero.Fs, archivePath string) error {
	a, err := openArchive(fsys, archivePath)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, zf := range a.zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		if err := verifyEntry(ctx, zf); err != nil {
			return err
		}
	}
	return nil
}

func verifyEntry(ctx context.Context, zf *zip.File) error {
	rc, err := zf.Open()
	if err != nil {
		return corrupt(zf.Name, err)
	}
	defer rc.Close()

	// the zip reader skips its own CRC check when the stored value is 0,
	// so the sum is recomputed here for every entry
	h := crc32.NewIEEE()
	lr := io.LimitReader(rc, clampInt64(zf.UncompressedSize64)+1)
	n, err := io.Copy(h, ctxReader{ctx: ctx, r: lr})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return corrupt(zf.Name, err)
	}
	if uint64(n) > zf.UncompressedSize64 {
		return corrupt(zf.Name, zip.ErrFormat)
	}
	if h.Sum32() != zf.CRC32 {
		return corrupt(zf.Name, zip.ErrChecksum)
	}
	return nil
}

func corrupt(name string, err error) *RejectedError {
	re := rejectEntry(ReasonCorruptEntry, name, "CRC check failed for file %s in archive", name)
	re.err = err
	return re
}
