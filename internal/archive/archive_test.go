package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/ulikunitz/xz"
)

func TestExtractTarGz(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "pkg-1.0.tar.gz")
	writeTarGz(t, archive, map[string]string{
		"pkg-1.0/configure":  "#!/bin/sh\n",
		"pkg-1.0/src/main.c": "int main(void) { return 0; }\n",
	})

	out := filepath.Join(dir, "out")
	if err := os.MkdirAll(out, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := Extract(archive, out); err != nil {
		t.Fatal(err)
	}

	assertFile(t, filepath.Join(out, "pkg-1.0", "src", "main.c"), "int main(void) { return 0; }\n")
	if got := SourceRoot(out); got != filepath.Join(out, "pkg-1.0") {
		t.Fatalf("unexpected source root: %q", got)
	}
}

func TestExtractTarXz(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "pkg-1.0.tar.xz")

	var buf bytes.Buffer
	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	writeTarTo(t, xw, map[string]string{"pkg-1.0/Makefile": "all:\n"})
	if err := xw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(archive, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	out := t.TempDir()
	if err := Extract(archive, out); err != nil {
		t.Fatal(err)
	}
	assertFile(t, filepath.Join(out, "pkg-1.0", "Makefile"), "all:\n")
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "pkg-1.0.zip")

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("pkg-1.0/CMakeLists.txt")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("project(pkg)\n")); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(archive, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	out := t.TempDir()
	if err := Extract(archive, out); err != nil {
		t.Fatal(err)
	}
	assertFile(t, filepath.Join(out, "pkg-1.0", "CMakeLists.txt"), "project(pkg)\n")
}

func TestExtractSniffsMislabeledSuffix(t *testing.T) {
	// A gzipped tarball hiding behind a meaningless suffix still extracts.
	dir := t.TempDir()
	archive := filepath.Join(dir, "pkg-1.0.download")
	writeTarGz(t, archive, map[string]string{"pkg-1.0/README": "hello\n"})

	out := t.TempDir()
	if err := Extract(archive, out); err != nil {
		t.Fatal(err)
	}
	assertFile(t, filepath.Join(out, "pkg-1.0", "README"), "hello\n")
}

func TestExtractRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.tar.gz")

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	content := []byte("owned")
	if err := tw.WriteHeader(&tar.Header{Name: "../escape", Mode: 0o644, Size: int64(len(content))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write(content); err != nil {
		t.Fatal(err)
	}
	tw.Close()
	zw.Close()
	if err := os.WriteFile(archive, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}

	out := t.TempDir()
	err := Extract(archive, out)
	var xerr *ExtractError
	if !errors.As(err, &xerr) {
		t.Fatalf("expected *ExtractError, got %v", err)
	}
}

func TestExtractCorrupt(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "corrupt.tar.gz")
	if err := os.WriteFile(archive, []byte("not a tarball"), 0o644); err != nil {
		t.Fatal(err)
	}
	var xerr *ExtractError
	if err := Extract(archive, t.TempDir()); !errors.As(err, &xerr) {
		t.Fatalf("expected *ExtractError, got %v", err)
	}
}

func TestSourceRootWithoutTopLevelDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "Makefile"), []byte("all:\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := SourceRoot(dir); got != dir {
		t.Fatalf("expected extraction root itself, got %q", got)
	}
}

func TestPackRoundTrip(t *testing.T) {
	src := t.TempDir()
	seedTree(t, src, map[string]string{
		"usr/bin/tool":            "#!/bin/sh\n",
		"usr/lib/libtool.la":      "# libtool junk\n",
		"usr/lib/charset.alias":   "alias\n",
		"usr/share/doc/tool/NEWS": "news\n",
	})

	var buf bytes.Buffer
	packer := NewPacker().WithExcluded([]string{"*.la", "usr/lib/charset.alias"})
	if err := packer.Pack(context.Background(), &buf, src); err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	artifact := filepath.Join(dir, "tool-1.0-job.tar.zst")
	if err := os.WriteFile(artifact, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
	out := t.TempDir()
	if err := Extract(artifact, out); err != nil {
		t.Fatal(err)
	}

	assertFile(t, filepath.Join(out, "usr", "bin", "tool"), "#!/bin/sh\n")
	assertFile(t, filepath.Join(out, "usr", "share", "doc", "tool", "NEWS"), "news\n")
	for _, gone := range []string{"usr/lib/libtool.la", "usr/lib/charset.alias"} {
		if _, err := os.Stat(filepath.Join(out, filepath.FromSlash(gone))); !os.IsNotExist(err) {
			t.Fatalf("excluded file %s leaked into the artifact", gone)
		}
	}
}

func TestPackBadExclusionPattern(t *testing.T) {
	var buf bytes.Buffer
	err := NewPacker().WithExcluded([]string{"[unterminated"}).Pack(context.Background(), &buf, t.TempDir())
	if err == nil {
		t.Fatal("expected error for malformed pattern")
	}
}

func TestTarGzSkips(t *testing.T) {
	src := t.TempDir()
	seedTree(t, src, map[string]string{
		"src/main.c":    "int main;\n",
		".git/HEAD":     "ref: refs/heads/main\n",
		".git/config":   "[core]\n",
		"doc/README.md": "# readme\n",
	})

	var buf bytes.Buffer
	skip := func(rel string) bool { return rel == ".git" }
	if err := TarGz(&buf, src, skip); err != nil {
		t.Fatal(err)
	}

	got := tarGzNames(t, buf.Bytes())
	want := []string{"doc/", "doc/README.md", "src/", "src/main.c"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("snapshot entries mismatch (-want +got):\n%s", diff)
	}
}

func writeTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	writeTarTo(t, zw, files)
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatal(err)
	}
}

func writeTarTo(t *testing.T, w io.Writer, files map[string]string) {
	t.Helper()
	tw := tar.NewWriter(w)
	for name, content := range files {
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
}

func seedTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func tarGzNames(t *testing.T, data []byte) []string {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	tr := tar.NewReader(zr)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		names = append(names, hdr.Name)
	}
	return names
}

func assertFile(t *testing.T, path, want string) {
	t.Helper()
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != want {
		t.Fatalf("unexpected content of %s: %q", path, got)
	}
}
