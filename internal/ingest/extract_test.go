package ingest

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/spf13/afero"
)

func TestExtract_WritesTree(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeArchive(t, fsys, "/a.zip", zipFiles(t, map[string]string{
		"manifests/":                "",
		"manifests/csv.yaml":        "kind: ClusterServiceVersion",
		"metadata/annotations.yaml": "annotations: {}",
		"./README.md":               "hello",
	}))

	files, err := Extract(context.Background(), fsys, "/a.zip", "/out")
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	want := "README.md,manifests/csv.yaml,metadata/annotations.yaml"
	if got := strings.Join(files, ","); got != want {
		t.Fatalf("files = %q, want %q", got, want)
	}

	data, err := afero.ReadFile(fsys, "/out/manifests/csv.yaml")
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if string(data) != "kind: ClusterServiceVersion" {
		t.Fatalf("content = %q", data)
	}

	top, err := TopLevel(fsys, "/out")
	if err != nil {
		t.Fatalf("TopLevel: %v", err)
	}
	if got := strings.Join(top, ","); got != "README.md,manifests,metadata" {
		t.Fatalf("top level = %q", got)
	}
}

func TestExtract_RejectsTraversal(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeArchive(t, fsys, "/a.zip", zipRaw(t, honest("ok.txt", "ok"), honest("../../evil.txt", "evil")))

	_, err := Extract(context.Background(), fsys, "/a.zip", "/work/out")
	wantReason(t, err, ReasonUnsafePath)

	for _, p := range []string{"/evil.txt", "/work/evil.txt"} {
		if ok, _ := afero.Exists(fsys, p); ok {
			t.Fatalf("%s written outside the extraction root", p)
		}
	}
}

func TestExtract_WriteFailureIsExtractionError(t *testing.T) {
	mem := afero.NewMemMapFs()
	writeArchive(t, mem, "/a.zip", zipFiles(t, map[string]string{"a.txt": "a", "b.txt": "b"}))
	fsys := failingFs{Fs: mem, failOn: "b.txt"}

	_, err := Extract(context.Background(), fsys, "/a.zip", "/out")
	if err == nil {
		t.Fatal("expected error")
	}
	ee, ok := IsExtraction(err)
	if !ok {
		t.Fatalf("expected *ExtractionError, got %T: %v", err, err)
	}
	if ee.Entry != "b.txt" {
		t.Fatalf("entry = %q, want b.txt", ee.Entry)
	}
	if _, ok := IsRejected(err); ok {
		t.Fatal("a write failure is not the client's fault")
	}
}

func TestExtract_Canceled(t *testing.T) {
	fsys := afero.NewMemMapFs()
	writeArchive(t, fsys, "/a.zip", zipFiles(t, map[string]string{"a.txt": "a"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Extract(ctx, fsys, "/a.zip", "/out")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestExtract_DropsSpecialModeBits(t *testing.T) {
	e := honest("run.sh", "#!/bin/sh\n")
	e.mode = fs.ModeSetuid | 0o755

	fsys := afero.NewMemMapFs()
	writeArchive(t, fsys, "/a.zip", zipRaw(t, e))

	if _, err := Extract(context.Background(), fsys, "/a.zip", "/out"); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	fi, err := fsys.Stat("/out/run.sh")
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if fi.Mode().Perm() != 0o755 {
		t.Fatalf("perm = %v, want 0755", fi.Mode().Perm())
	}
}
