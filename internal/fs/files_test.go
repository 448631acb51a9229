package fs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDirContainsFiles(t *testing.T) {
	empty := t.TempDir()
	if err := os.MkdirAll(filepath.Join(empty, "usr", "lib"), 0755); err != nil {
		t.Fatal(err)
	}

	populated := t.TempDir()
	if err := os.MkdirAll(filepath.Join(populated, "usr", "bin"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(populated, "usr", "bin", "tool"), []byte("#!/bin/sh\n"), 0755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		note string
		dir  string
		exp  bool
	}{
		{note: "only empty directories", dir: empty, exp: false},
		{note: "nested file", dir: populated, exp: true},
		{note: "missing directory", dir: filepath.Join(empty, "nope"), exp: false},
	}

	for _, tc := range tests {
		t.Run(tc.note, func(t *testing.T) {
			found, err := DirContainsFiles(tc.dir)
			if err != nil {
				t.Fatal(err)
			}
			if found != tc.exp {
				t.Fatalf("expected %v, got %v", tc.exp, found)
			}
		})
	}
}
