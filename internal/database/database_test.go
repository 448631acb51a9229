package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testDB(t *testing.T) *Database {
	t.Helper()

	db := New()
	if err := db.InitDB(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.CloseDB() })
	return db
}

func TestBuildRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	want := &Build{
		ID:          1,
		Name:        "zlib",
		Version:     "1.3.1",
		JobID:       "1709294400-zlib-6a1f0b2c",
		Artifact:    "zlib-1.3.1-1709294400-zlib-6a1f0b2c.tar.zst",
		ArtifactSHA: "0d9a5c3e",
		Source:      "zlib-1.3.1.tar.gz",
		SourceSHA:   "9855b6d8",
		BuildSystem: "makefile",
		BuildStart:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Status:      "done",
		Attempts:    2,
		Duration:    90 * time.Second,
	}

	if err := db.InsertBuild(ctx, want); err != nil {
		t.Fatal(err)
	}

	got, err := db.GetBuild(ctx, want.JobID)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("unexpected build (-want +got):\n%s", diff)
	}
}

func TestGetBuildNotFound(t *testing.T) {
	db := testDB(t)

	_, err := db.GetBuild(context.Background(), "no-such-job")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInsertBuildDuplicateJobID(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	b := &Build{Name: "zlib", Version: "1.3.1", JobID: "job-1", Status: "done", BuildStart: time.Now()}
	if err := db.InsertBuild(ctx, b); err != nil {
		t.Fatal(err)
	}
	if err := db.InsertBuild(ctx, b); err == nil {
		t.Fatal("expected unique constraint violation")
	}
}

func TestListBuilds(t *testing.T) {
	ctx := context.Background()
	db := testDB(t)

	for i, b := range []*Build{
		{Name: "zlib", Version: "1.3.1", JobID: "job-1", Status: "failed"},
		{Name: "zlib", Version: "1.3.1", JobID: "job-2", Status: "done"},
		{Name: "openssl", Version: "3.3.0", JobID: "job-3", Status: "done"},
	} {
		b.BuildStart = time.Date(2024, 3, 1, 12, i, 0, 0, time.UTC)
		b.Attempts = 1
		if err := db.InsertBuild(ctx, b); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		note  string
		name  string
		limit int
		exp   []string // job ids, newest first
	}{
		{note: "all", exp: []string{"job-3", "job-2", "job-1"}},
		{note: "by name", name: "zlib", exp: []string{"job-2", "job-1"}},
		{note: "limited", limit: 2, exp: []string{"job-3", "job-2"}},
		{note: "name and limit", name: "zlib", limit: 1, exp: []string{"job-2"}},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			builds, err := db.ListBuilds(ctx, tc.name, tc.limit)
			if err != nil {
				t.Fatal(err)
			}

			var got []string
			for _, b := range builds {
				got = append(got, b.JobID)
			}
			if diff := cmp.Diff(tc.exp, got); diff != "" {
				t.Fatalf("unexpected builds (-want +got):\n%s", diff)
			}
		})
	}
}
