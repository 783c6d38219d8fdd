package ingest

import (
	"bytes"
	"hash/crc32"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

// test helpers

// zipFiles builds an archive with deflated entries, names sorted.
func zipFiles(t *testing.T, files map[string]string) []byte {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := io.WriteString(w, files[name]); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// rawEntry is written with CreateRaw so tests can lie in the headers.
type rawEntry struct {
	name         string
	data         []byte
	crc          uint32
	uncompressed uint64
	mode         fs.FileMode
}

func zipRaw(t *testing.T, entries ...rawEntry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		fh := &zip.FileHeader{
			Name:               e.name,
			Method:             zip.Store,
			CRC32:              e.crc,
			CompressedSize64:   uint64(len(e.data)),
			UncompressedSize64: e.uncompressed,
		}
		if e.mode != 0 {
			fh.SetMode(e.mode)
		}
		w, err := zw.CreateRaw(fh)
		if err != nil {
			t.Fatalf("zip create raw %s: %v", e.name, err)
		}
		if _, err := w.Write(e.data); err != nil {
			t.Fatalf("zip write raw %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

// honest returns a stored entry whose headers match its data.
func honest(name, data string) rawEntry {
	return rawEntry{
		name:         name,
		data:         []byte(data),
		crc:          crc32.ChecksumIEEE([]byte(data)),
		uncompressed: uint64(len(data)),
	}
}

// zeroBomb deflates n zero bytes, a few KB on the wire for megabytes of content.
func zeroBomb(t *testing.T, name string, n int) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("zip create: %v", err)
	}
	if _, err := io.Copy(w, io.LimitReader(zeroReader{}, int64(n))); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	clear(p)
	return len(p), nil
}

// writeArchive stores data at path on fsys.
func writeArchive(t *testing.T, fsys afero.Fs, path string, data []byte) {
	t.Helper()
	if err := afero.WriteFile(fsys, path, data, 0o600); err != nil {
		t.Fatalf("write archive: %v", err)
	}
}

// countingReaderAt records how many bytes a reader pulled.
type countingReaderAt struct {
	r  io.ReaderAt
	mu sync.Mutex
	n  int64
}

func (c *countingReaderAt) ReadAt(p []byte, off int64) (int, error) {
	n, err := c.r.ReadAt(p, off)
	c.mu.Lock()
	c.n += int64(n)
	c.mu.Unlock()
	return n, err
}

func (c *countingReaderAt) read() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// failingFs refuses to create files whose path contains failOn.
type failingFs struct {
	afero.Fs
	failOn string
}

func (f failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&os.O_CREATE != 0 && strings.Contains(name, f.failOn) {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	return f.Fs.OpenFile(name, flag, perm)
}

// recordingObserver keeps every outcome reported by the pipeline.
type recordingObserver struct {
	mu       sync.Mutex
	stages   []string
	outcomes []string
	reasons  []string
}

func (o *recordingObserver) ObserveIngestStage(stage string, _ float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stages = append(o.stages, stage)
}

func (o *recordingObserver) ObserveIngest(outcome, reason string, _ float64, _ int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes = append(o.outcomes, outcome)
	o.reasons = append(o.reasons, reason)
}

func (o *recordingObserver) last() (string, string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.outcomes) == 0 {
		return "", ""
	}
	return o.outcomes[len(o.outcomes)-1], o.reasons[len(o.reasons)-1]
}

func wantReason(t *testing.T, err error, want Reason) *RejectedError {
	t.Helper()
	if err == nil {
		t.Fatalf("expected rejection %q, got <nil>", want)
	}
	re, ok := IsRejected(err)
	if !ok {
		t.Fatalf("expected *RejectedError, got %T: %v", err, err)
	}
	if re.Reason != want {
		t.Fatalf("reason = %q, want %q (%v)", re.Reason, want, err)
	}
	return re
}

// assertEmptyDir fails unless dir exists on fsys and holds nothing.
func assertEmptyDir(t *testing.T, fsys afero.Fs, dir string) {
	t.Helper()
	infos, err := afero.ReadDir(fsys, dir)
	if err != nil {
		t.Fatalf("read %s: %v", dir, err)
	}
	if len(infos) != 0 {
		names := make([]string, 0, len(infos))
		for _, fi := range infos {
			names = append(names, fi.Name())
		}
		t.Fatalf("%s not cleaned up, left: %v", dir, names)
	}
}
