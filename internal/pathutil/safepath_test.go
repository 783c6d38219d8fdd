package pathutil

import (
	"strings"
	"testing"
)

// TestHasDotSegments tests the helper directly for clarity
func TestHasDotSegments(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/normal/path", false},
		{"/path/./here", true},
		{"/path/../up", true},
		{".", true},
		{"..", true},
		{"/...", false},     // three dots is not a dot segment
		{"/.hidden", false}, // dotfile, not a dot segment
		{"/.dotdir/file", false},
		{"/path/to/.", true},
		{"/./", true},
		{"/../", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got := HasDotSegments(tt.path)
			if got != tt.want {
				t.Errorf("hasDotSegments(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}
func FuzzHasDotSegments(f *testing.F) {
	f.Add("foo/./bar")
	f.Add("foo/../bar")
	f.Add("./foo")
	f.Add("foo/.")
	f.Add(".")
	f.Add("..")
	f.Add("foo/bar")
	f.Add("...") // a name, not a traversal

	f.Fuzz(func(t *testing.T, p string) {
		result := HasDotSegments(p)
		// INVARIANT: if result is false, no segment equals "." or ".."
		segments := strings.Split(p, "/")
		hasDangerousSegment := false
		for _, seg := range segments {
			if seg == "." || seg == ".." {
				hasDangerousSegment = true
				break
			}
		}
		if result != hasDangerousSegment {
			t.Errorf("hasDotSegments(%q) = %v, but manual check = %v", p, result, hasDangerousSegment)
		}
	})
}

func TestCleanArchiveName(t *testing.T) {
	tests := []struct {
		name    string
		want    string
		wantErr bool
	}{
		{"README.md", "README.md", false},
		{"manifests/csv.yaml", "manifests/csv.yaml", false},
		{"manifests/", "manifests", false},
		{"a/./b", "a/b", false},
		{"a//b", "a/b", false},
		{"./", "", false},
		{".", "", false},
		{"..", "", true},
		{"../evil", "", true},
		{"a/../../evil", "", true},
		{"a/../b", "", true},
		{"/etc/passwd", "", true},
		{`..\evil`, "", true},
		{`dir\file`, "", true},
		{"a\x00b", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CleanArchiveName(tt.name)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("CleanArchiveName(%q) = %q, want error", tt.name, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("CleanArchiveName(%q): %v", tt.name, err)
			}
			if got != tt.want {
				t.Fatalf("CleanArchiveName(%q) = %q, want %q", tt.name, got, tt.want)
			}
		})
	}
}

func TestSafeJoin(t *testing.T) {
	tests := []struct {
		root, rel string
		want      string
		wantErr   bool
	}{
		{"/work/tree", "a/b.txt", "/work/tree/a/b.txt", false},
		{"/work/tree", "", "/work/tree", false},
		{"/work/tree/", "a", "/work/tree/a", false},
		{"/work/tree", "../escape", "", true},
		{"/work/tree", "a/../../escape", "", true},
		// sibling directory sharing the root as a string prefix
		{"/work/tree", "../tree2/x", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.rel, func(t *testing.T) {
			got, err := SafeJoin(tt.root, tt.rel)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("SafeJoin(%q, %q) = %q, want error", tt.root, tt.rel, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("SafeJoin(%q, %q): %v", tt.root, tt.rel, err)
			}
			if got != tt.want {
				t.Fatalf("SafeJoin(%q, %q) = %q, want %q", tt.root, tt.rel, got, tt.want)
			}
		})
	}
}

func FuzzCleanArchiveName(f *testing.F) {
	f.Add("a/b/c.txt")
	f.Add("../x")
	f.Add("a/../../x")
	f.Add("/abs")
	f.Add(`a\b`)
	f.Add("dir/")
	f.Add("....//x")

	f.Fuzz(func(t *testing.T, name string) {
		rel, err := CleanArchiveName(name)
		if err != nil {
			return
		}
		// accepted names never climb out of the extraction root
		if rel == ".." || strings.HasPrefix(rel, "../") || strings.HasPrefix(rel, "/") {
			t.Fatalf("CleanArchiveName(%q) = %q escapes root", name, rel)
		}
		if strings.ContainsAny(rel, "\\\x00") {
			t.Fatalf("CleanArchiveName(%q) = %q kept a forbidden byte", name, rel)
		}
		joined, err := SafeJoin("/root/tree", rel)
		if err != nil {
			t.Fatalf("SafeJoin rejected cleaned name %q: %v", rel, err)
		}
		if joined != "/root/tree" && !strings.HasPrefix(joined, "/root/tree/") {
			t.Fatalf("SafeJoin(%q) = %q outside root", rel, joined)
		}
	})
}
