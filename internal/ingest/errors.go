package ingest

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/keithlinneman/archive-ingest/internal/xerrors"
)

// Reason is the machine-readable kind of a rejected upload.
type Reason string

const (
	ReasonMissingFile          Reason = "missing_file"
	ReasonEmptyFilename        Reason = "empty_filename"
	ReasonUnsupportedExtension Reason = "unsupported_extension"
	ReasonInvalidArchive       Reason = "invalid_archive"
	ReasonSizeLimitExceeded    Reason = "size_limit_exceeded"
	ReasonTooManyEntries       Reason = "too_many_entries"
	ReasonCorruptEntry         Reason = "corrupt_entry"
	ReasonUnsafePath           Reason = "unsafe_path"
	ReasonUnsupportedEntry     Reason = "unsupported_entry"
	ReasonChecksumMismatch     Reason = "checksum_mismatch"
	ReasonConflictingEntry     Reason = "conflicting_entry"
)

// RejectedError reports a client-caused failure. The same upload will
// always be rejected the same way, so callers must not retry it.
type RejectedError struct {
	Reason Reason
	Msg    string

	// Entry names the offending archive entry, if any
	Entry string

	// Total and Limit carry the measured value and the ceiling for
	// size/count rejections
	Total int64
	Limit int64

	err error
}

func (e *RejectedError) Error() string {
	if e.err != nil {
		return "upload rejected: " + e.Msg + ": " + e.err.Error()
	}
	return "upload rejected: " + e.Msg
}

func (e *RejectedError) Unwrap() error { return e.err }

// ExtractionError reports an IO failure while writing a validated archive
// to disk. It is a server-side failure.
type ExtractionError struct {
	Entry string
	err   error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Entry, e.err)
}

func (e *ExtractionError) Unwrap() error { return e.err }

func reject(reason Reason, format string, args ...any) *RejectedError {
	return &RejectedError{Reason: reason, Msg: fmt.Sprintf(format, args...)}
}

func rejectEntry(reason Reason, entry, format string, args ...any) *RejectedError {
	e := reject(reason, format, args...)
	e.Entry = entry
	return e
}

func rejectWrap(reason Reason, err error, msg string) *RejectedError {
	return &RejectedError{Reason: reason, Msg: msg, err: err}
}

func rejectSize(total, limit int64) *RejectedError {
	return &RejectedError{
		Reason: ReasonSizeLimitExceeded,
		Msg: fmt.Sprintf("uncompressed archive may reach max size limit (%dB>%dB, %s>%s)",
			total, limit, humanize.IBytes(uint64(total)), humanize.IBytes(uint64(limit))),
		Total: total,
		Limit: limit,
	}
}

func extractionFailed(entry string, err error) *ExtractionError {
	return &ExtractionError{Entry: entry, err: err}
}

// IsRejected reports whether err carries a *RejectedError and returns it.
func IsRejected(err error) (*RejectedError, bool) {
	return xerrors.As[*RejectedError](err)
}

// IsExtraction reports whether err carries an *ExtractionError and returns it.
func IsExtraction(err error) (*ExtractionError, bool) {
	return xerrors.As[*ExtractionError](err)
}

// RejectMissingFile is returned by the request layer when the upload carries
// no file field.
func RejectMissingFile() error {
	return reject(ReasonMissingFile, `no "file" in upload`)
}

// RejectEmptyFilename is returned when the file field has no filename.
func RejectEmptyFilename() error {
	return reject(ReasonEmptyFilename, `no selected "file" in upload`)
}
