package build

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

const fakeMake = `#!/bin/sh
case "$*" in
*install*)
	mkdir -p "$DESTDIR/usr/bin"
	printf 'ok\n' > "$DESTDIR/usr/bin/tool"
	;;
*)
	:
	;;
esac
`

func testConfig(t *testing.T) *Config {
	t.Helper()

	cfg := DefaultConfig()
	cfg.PkgDir = t.TempDir()
	cfg.SrcDir = filepath.Join(t.TempDir(), "sources")
	cfg.WorkDir = filepath.Join(t.TempDir(), "work")
	cfg.ArtifactDir = filepath.Join(t.TempDir(), "artifacts")
	cfg.LogDir = filepath.Join(t.TempDir(), "logs")
	cfg.DBDir = filepath.Join(t.TempDir(), "db")
	cfg.RetryLimit = 1
	return cfg
}

func writeRecipe(t *testing.T, cfg *Config, name string, lines ...string) {
	t.Helper()

	dir := filepath.Join(cfg.PkgDir, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	content := ""
	for _, line := range lines {
		content += line + "\n"
	}
	if err := os.WriteFile(filepath.Join(dir, "recipe"), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func writeTarball(t *testing.T, name string) (string, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), name+"-1.0.tar.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	zw := gzip.NewWriter(f)
	tw := tar.NewWriter(zw)
	content := "all:\n\ttrue\n"
	if err := tw.WriteHeader(&tar.Header{Name: name + "-1.0/Makefile", Mode: 0644, Size: int64(len(content))}); err != nil {
		t.Fatal(err)
	}
	if _, err := tw.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	for _, c := range []interface{ Close() error }{tw, zw, f} {
		if err := c.Close(); err != nil {
			t.Fatal(err)
		}
	}

	bs, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(bs)
	return path, hex.EncodeToString(sum[:])
}

func TestResolve(t *testing.T) {
	cfg := testConfig(t)
	writeRecipe(t, cfg, "app", "VERSION=1.0", "URL=file:///app.tar.gz", "BUILD_DEPS=lib")
	writeRecipe(t, cfg, "lib", "VERSION=1.0", "URL=file:///lib.tar.gz")

	res, err := Resolve(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"lib", "app"}, res.Order); diff != "" {
		t.Fatalf("unexpected order (-want +got):\n%s", diff)
	}
	if res.Cyclic() {
		t.Fatal("expected an acyclic resolve")
	}
}

func TestBuildOne(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "make"), []byte(fakeMake), 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))

	cfg := testConfig(t)
	tarball, digest := writeTarball(t, "tool")
	writeRecipe(t, cfg, "tool", "VERSION=1.0", "URL=file://"+tarball, "SHA256="+digest)

	entries, err := BuildOne(context.Background(), cfg, "tool")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Status != "done" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}
