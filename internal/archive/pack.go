package archive

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/gobwas/glob"
	"github.com/klauspost/compress/zstd"
)

// Packer archives a destination-root tree into one zstd-compressed tarball.
// The zero value packs everything in-process; configure exclusions and
// external tools with the With methods.
type Packer struct {
	excluded []string
	tarBin   string
	zstdBin  string
}

func NewPacker() *Packer {
	return &Packer{}
}

// WithExcluded adds glob patterns matched against slash-separated paths
// relative to the packed root. Matching files are dropped from the artifact,
// e.g. libtool droppings like *.la.
func (p *Packer) WithExcluded(patterns []string) *Packer {
	p.excluded = append(p.excluded, patterns...)
	return p
}

// WithExternalTools switches packing to `tarBin -I zstdBin`. Useful when the
// host tar handles extended attributes the in-process writer does not.
// zstdBin defaults to "zstd" when only tarBin is set.
func (p *Packer) WithExternalTools(tarBin, zstdBin string) *Packer {
	p.tarBin = tarBin
	p.zstdBin = zstdBin
	return p
}

// Pack writes the tree rooted at dir to w. Entry names are relative to dir,
// so extracting the artifact at / reproduces the installed layout.
func (p *Packer) Pack(ctx context.Context, w io.Writer, dir string) error {
	if p.tarBin != "" {
		return p.packExternal(ctx, w, dir)
	}
	return p.packInternal(w, dir)
}

func (p *Packer) packInternal(w io.Writer, dir string) error {
	skip, err := compileGlobs(p.excluded)
	if err != nil {
		return err
	}

	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)

	if err := writeTree(tw, dir, skip); err != nil {
		tw.Close()
		zw.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func (p *Packer) packExternal(ctx context.Context, w io.Writer, dir string) error {
	zstdBin := p.zstdBin
	if zstdBin == "" {
		zstdBin = "zstd"
	}

	args := make([]string, 0, len(p.excluded)+6)
	for _, pattern := range p.excluded {
		args = append(args, "--exclude="+pattern)
	}
	args = append(args, "-I", zstdBin, "-cf", "-", "-C", dir, ".")

	cmd := exec.CommandContext(ctx, p.tarBin, args...)
	cmd.Stdout = w
	cmd.Stderr = io.Discard
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s: %w", p.tarBin, err)
	}
	return nil
}

// TarGz writes the tree rooted at dir to w as a gzip-compressed tarball.
// skip, when non-nil, prunes entries by their slash-relative path. Used for
// git source snapshots, which must look like any other fetched archive to
// the rest of the pipeline.
func TarGz(w io.Writer, dir string, skip func(string) bool) error {
	zw := gzip.NewWriter(w)
	tw := tar.NewWriter(zw)

	if err := writeTree(tw, dir, skip); err != nil {
		tw.Close()
		zw.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

func writeTree(tw *tar.Writer, dir string, skip func(string) bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if skip != nil && skip(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		var link string
		if info.Mode()&fs.ModeSymlink != 0 {
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		}

		hdr, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		hdr.Name = rel
		if d.IsDir() {
			hdr.Name += "/"
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		if !info.Mode().IsRegular() {
			return nil
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		f.Close()
		return err
	})
}

func compileGlobs(patterns []string) (func(string) bool, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	globs := make([]glob.Glob, len(patterns))
	for i, pattern := range patterns {
		// No separator: *.la must match at any depth of the tree.
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("exclusion pattern %q: %w", pattern, err)
		}
		globs[i] = g
	}
	return func(rel string) bool {
		for _, g := range globs {
			if g.Match(rel) {
				return true
			}
		}
		return false
	}, nil
}
