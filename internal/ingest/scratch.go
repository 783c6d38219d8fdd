package ingest

import (
	"io"
	"os"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"github.com/keithlinneman/archive-ingest/internal/cryptoutil"
	"github.com/keithlinneman/archive-ingest/internal/xerrors"
)

const zipMIME = "application/zip"

// persistUpload writes the upload stream to path, reading at most maxBytes.
// Returns the byte count and hex SHA256 of what was written.
func persistUpload(fsys afero.Fs, src io.Reader, path string, maxBytes int64) (int64, string, error) {
	f, err := fsys.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, "", xerrors.Wrapf(err, "create scratch file %s", path)
	}

	written, hash, err := cryptoutil.CopySHA256(f, io.LimitReader(src, maxBytes+1))
	if cerr := f.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return written, "", xerrors.Wrap(err, "store upload")
	}
	if written > maxBytes {
		return written, "", &RejectedError{
			Reason: ReasonSizeLimitExceeded,
			Msg:    "uploaded file exceeds max upload size",
			Total:  written,
			Limit:  maxBytes,
		}
	}
	return written, hash, nil
}

// sniffArchive detects the content type of the stored upload from its
// leading bytes and rejects anything that is not a zip container.
func sniffArchive(fsys afero.Fs, path string) (string, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return "", xerrors.Wrapf(err, "open scratch file %s", path)
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return "", xerrors.Wrap(err, "detect content type")
	}
	for m := mt; m != nil; m = m.Parent() {
		if m.Is(zipMIME) {
			return mt.String(), nil
		}
	}
	return mt.String(), reject(ReasonInvalidArchive, "uploaded file is not a zip archive (detected %s)", mt.String())
}
