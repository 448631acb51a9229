package migrations

import (
	"database/sql"
	"io/fs"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	_ "modernc.org/sqlite"
)

func TestFSOrdersSteps(t *testing.T) {
	names, err := fs.Glob(FS(), "*.up.sql")
	if err != nil {
		t.Fatal(err)
	}

	exp := []string{
		"001_builds.up.sql",
		"002_builds_timings.up.sql",
	}
	if diff := cmp.Diff(exp, names); diff != "" {
		t.Fatalf("unexpected migration steps (-want +got):\n%s", diff)
	}
}

func TestInitialSchemaSQL(t *testing.T) {
	bs, err := fs.ReadFile(FS(), "001_builds.up.sql")
	if err != nil {
		t.Fatal(err)
	}

	stmt := string(bs)
	for _, want := range []string{
		"CREATE TABLE builds",
		"id INTEGER PRIMARY KEY AUTOINCREMENT",
		"CONSTRAINT kiln_v1_builds_job_id_unique UNIQUE (job_id)",
		"created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP",
	} {
		if !strings.Contains(stmt, want) {
			t.Fatalf("missing %q in:\n%s", want, stmt)
		}
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	// Pooled connections must see the same memory database.
	db, err := sql.Open("sqlite", "file::memory:?cache=shared")
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	for i := 0; i < 2; i++ {
		if err := Apply(db); err != nil {
			t.Fatalf("apply #%d: %v", i+1, err)
		}
	}

	// The timings step must have landed on top of the initial schema.
	if _, err := db.Exec(`INSERT INTO builds (name, version, job_id, artifact, artifact_sha256, build_start, status, attempts, duration_ms)
		VALUES ('zlib', '1.3.1', 'job-1', 'zlib-1.3.1-job-1.tar.zst', 'abc', '2024-01-01T00:00:00Z', 'done', 2, 1500)`); err != nil {
		t.Fatal(err)
	}

	var attempts int
	if err := db.QueryRow("SELECT attempts FROM builds WHERE job_id = 'job-1'").Scan(&attempts); err != nil {
		t.Fatal(err)
	}
	if attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", attempts)
	}
}
