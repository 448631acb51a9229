package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/kiln-build/kiln/internal/archive"
	"github.com/kiln-build/kiln/internal/database"
)

func stageTree(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	files := map[string]string{
		"usr/bin/tool":          "#!/bin/sh\necho tool\n",
		"usr/lib/libtool.la":    "# libtool stub\n",
		"usr/share/doc/README":  "read me\n",
		"usr/share/doc/LICENSE": "be nice\n",
	}
	for name, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func jobInfo() *JobInfo {
	return &JobInfo{
		Name:        "tool",
		Version:     "1.0",
		JobID:       "1709294400-tool-6a1f0b2c",
		Source:      "tool-1.0.tar.gz",
		SourceSHA:   "f00d",
		BuildSystem: "autotools",
		BuildStart:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Status:      "done",
		Attempts:    1,
		Duration:    42 * time.Second,
	}
}

func TestPackage(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir()).WithExcluded([]string{"*.la"})

	art, err := s.Package(ctx, jobInfo(), stageTree(t))
	if err != nil {
		t.Fatal(err)
	}

	if got, want := filepath.Base(art.Path), "tool-1.0-1709294400-tool-6a1f0b2c.tar.zst"; got != want {
		t.Fatalf("expected artifact %s, got %s", want, got)
	}
	if got, want := filepath.Base(art.Manifest), "tool-1.0-1709294400-tool-6a1f0b2c.manifest.json"; got != want {
		t.Fatalf("expected manifest %s, got %s", want, got)
	}

	// The digest must describe the artifact's actual bytes.
	bs, err := os.ReadFile(art.Path)
	if err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(bs)
	if got := hex.EncodeToString(sum[:]); got != art.SHA256 {
		t.Fatalf("artifact digest %s does not match file content digest %s", art.SHA256, got)
	}
	if art.Size != int64(len(bs)) {
		t.Fatalf("expected size %d, got %d", len(bs), art.Size)
	}

	// Excluded files stay out of the artifact.
	unpacked := t.TempDir()
	if err := archive.Extract(art.Path, unpacked); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(unpacked, "usr", "bin", "tool")); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(unpacked, "usr", "lib", "libtool.la")); !os.IsNotExist(err) {
		t.Fatalf("expected libtool.la to be excluded, stat returned %v", err)
	}
}

func TestPackageManifestReferencesArtifact(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir())

	art, err := s.Package(ctx, jobInfo(), stageTree(t))
	if err != nil {
		t.Fatal(err)
	}

	bs, err := os.ReadFile(art.Manifest)
	if err != nil {
		t.Fatal(err)
	}
	var m Manifest
	if err := json.Unmarshal(bs, &m); err != nil {
		t.Fatal(err)
	}

	exp := Manifest{
		Name:        "tool",
		Pkg:         "tool-1.0",
		Version:     "1.0",
		JobID:       "1709294400-tool-6a1f0b2c",
		Artifact:    filepath.Base(art.Path),
		ArtifactSHA: art.SHA256,
		Source:      "tool-1.0.tar.gz",
		SourceSHA:   "f00d",
		BuildSystem: "autotools",
		BuildStart:  "2024-03-01T12:00:00Z",
		Status:      "done",
	}
	if diff := cmp.Diff(exp, m); diff != "" {
		t.Fatalf("unexpected manifest (-want +got):\n%s", diff)
	}
}

func TestPackageEmptyStagingTree(t *testing.T) {
	ctx := context.Background()
	s := New(t.TempDir())

	empty := t.TempDir()
	if err := os.MkdirAll(filepath.Join(empty, "usr", "lib"), 0755); err != nil {
		t.Fatal(err)
	}

	_, err := s.Package(ctx, jobInfo(), empty)
	var serr *Error
	if !errors.As(err, &serr) {
		t.Fatalf("expected packaging error, got %v", err)
	}
	if serr.Pkg != "tool" {
		t.Fatalf("expected package tool, got %q", serr.Pkg)
	}
}

func TestPackageRecordsProvenance(t *testing.T) {
	ctx := context.Background()

	db := database.New()
	if err := db.InitDB(ctx); err != nil {
		t.Fatal(err)
	}
	defer db.CloseDB()

	s := New(t.TempDir()).WithDatabase(db)
	info := jobInfo()

	art, err := s.Package(ctx, info, stageTree(t))
	if err != nil {
		t.Fatal(err)
	}

	row, err := db.GetBuild(ctx, info.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if row.Artifact != filepath.Base(art.Path) {
		t.Fatalf("expected row artifact %s, got %s", filepath.Base(art.Path), row.Artifact)
	}
	if row.ArtifactSHA != art.SHA256 {
		t.Fatalf("expected row digest %s, got %s", art.SHA256, row.ArtifactSHA)
	}
	if row.Status != "done" || row.Attempts != 1 {
		t.Fatalf("unexpected row: %+v", row)
	}
}

func TestRecordFailure(t *testing.T) {
	ctx := context.Background()

	db := database.New()
	if err := db.InitDB(ctx); err != nil {
		t.Fatal(err)
	}
	defer db.CloseDB()

	s := New(t.TempDir()).WithDatabase(db)
	info := jobInfo()
	info.Status = "failed"
	info.Attempts = 3

	if err := s.RecordFailure(ctx, info); err != nil {
		t.Fatal(err)
	}

	row, err := db.GetBuild(ctx, info.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if row.Artifact != "" || row.ArtifactSHA != "" {
		t.Fatalf("expected no artifact on failed row, got %+v", row)
	}
	if row.Status != "failed" || row.Attempts != 3 {
		t.Fatalf("unexpected row: %+v", row)
	}
}

// uploadRecorder is an in-memory mirror that remembers upload order.
type uploadRecorder struct {
	names   []string
	digests []string
}

func (u *uploadRecorder) Upload(_ context.Context, name string, body io.Reader, sha256 string) error {
	if _, err := io.Copy(io.Discard, body); err != nil {
		return err
	}
	u.names = append(u.names, name)
	u.digests = append(u.digests, sha256)
	return nil
}

func (u *uploadRecorder) Download(context.Context, string) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func TestPackageUploadsToMirror(t *testing.T) {
	ctx := context.Background()
	mirror := &uploadRecorder{}
	s := New(t.TempDir()).WithMirror(mirror)

	art, err := s.Package(ctx, jobInfo(), stageTree(t))
	if err != nil {
		t.Fatal(err)
	}

	exp := []string{filepath.Base(art.Path), filepath.Base(art.Manifest)}
	if diff := cmp.Diff(exp, mirror.names); diff != "" {
		t.Fatalf("unexpected uploads (-want +got):\n%s", diff)
	}
	if mirror.digests[0] != art.SHA256 || mirror.digests[1] != "" {
		t.Fatalf("unexpected upload digests: %v", mirror.digests)
	}
}
