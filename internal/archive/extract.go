// Package archive unpacks source archives into per-job working directories
// and packs destination trees into compressed artifacts.
package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/ulikunitz/xz"
)

// ExtractError reports a corrupt or unsupported source archive. Extraction
// failures are retryable at the job level, a redownload may fix a truncated
// file.
type ExtractError struct {
	Archive string
	Err     error
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: %v", filepath.Base(e.Archive), e.Err)
}

func (e *ExtractError) Unwrap() error {
	return e.Err
}

// Extract unpacks the archive into dir, which must already exist. The format
// is chosen by the filename suffix; unrecognized suffixes fall back to
// sniffing the leading magic bytes so mislabeled downloads still extract.
func Extract(archive, dir string) error {
	if err := extract(archive, dir); err != nil {
		return &ExtractError{Archive: archive, Err: err}
	}
	return nil
}

func extract(archive, dir string) error {
	switch name := strings.ToLower(archive); {
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return extractTar(archive, dir, gzipReader)
	case strings.HasSuffix(name, ".tar.xz"):
		return extractTar(archive, dir, xzReader)
	case strings.HasSuffix(name, ".tar.bz2"):
		return extractTar(archive, dir, bzip2Reader)
	case strings.HasSuffix(name, ".tar.zst"):
		return extractTar(archive, dir, zstdReader)
	case strings.HasSuffix(name, ".tar"):
		return extractTar(archive, dir, rawReader)
	case strings.HasSuffix(name, ".zip"):
		return extractZip(archive, dir)
	default:
		return extractSniffed(archive, dir)
	}
}

// Magic numbers for the supported compressors, tried in extractSniffed.
var magics = []struct {
	prefix []byte
	open   func(io.Reader) (io.Reader, error)
}{
	{[]byte{0x1f, 0x8b}, gzipReader},
	{[]byte{0xfd, '7', 'z', 'X', 'Z', 0x00}, xzReader},
	{[]byte("BZh"), bzip2Reader},
	{[]byte{0x28, 0xb5, 0x2f, 0xfd}, zstdReader},
}

func extractSniffed(archive, dir string) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	head := make([]byte, 6)
	n, _ := io.ReadFull(f, head)
	f.Close()
	head = head[:n]

	if bytes.HasPrefix(head, []byte("PK\x03\x04")) {
		return extractZip(archive, dir)
	}
	for _, m := range magics {
		if bytes.HasPrefix(head, m.prefix) {
			return extractTar(archive, dir, m.open)
		}
	}
	// Plain tar has its magic at offset 257; let the tar reader decide.
	return extractTar(archive, dir, rawReader)
}

func rawReader(r io.Reader) (io.Reader, error) { return r, nil }

func gzipReader(r io.Reader) (io.Reader, error) { return gzip.NewReader(r) }

func xzReader(r io.Reader) (io.Reader, error) { return xz.NewReader(r) }

func bzip2Reader(r io.Reader) (io.Reader, error) { return bzip2.NewReader(r), nil }

func zstdReader(r io.Reader) (io.Reader, error) { return zstd.NewReader(r) }

func extractTar(archive, dir string, open func(io.Reader) (io.Reader, error)) error {
	f, err := os.Open(archive)
	if err != nil {
		return err
	}
	defer f.Close()

	r, err := open(f)
	if err != nil {
		return err
	}
	if c, ok := r.(io.Closer); ok {
		defer c.Close()
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		target, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := writeFile(target, tr, hdr.FileInfo().Mode().Perm()); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil && !os.IsExist(err) {
				return err
			}
		case tar.TypeLink:
			source, err := safeJoin(dir, hdr.Linkname)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.Link(source, target); err != nil && !os.IsExist(err) {
				return err
			}
		default:
			// Devices, FIFOs and friends have no business in a source
			// tarball; skip them rather than fail the whole job.
		}
	}
}

func extractZip(archive, dir string) error {
	zr, err := zip.OpenReader(archive)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, entry := range zr.File {
		target, err := safeJoin(dir, entry.Name)
		if err != nil {
			return err
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return err
		}
		err = writeFile(target, rc, entry.Mode().Perm())
		rc.Close()
		if err != nil {
			return err
		}
	}
	return nil
}

func writeFile(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// safeJoin rejects entries that would escape dir. Hostile archives are rare
// in a curated recipe tree but cost nothing to refuse.
func safeJoin(dir, name string) (string, error) {
	name = filepath.FromSlash(name)
	if filepath.IsAbs(name) || !filepath.IsLocal(name) {
		return "", fmt.Errorf("archive entry escapes extraction root: %q", name)
	}
	return filepath.Join(dir, name), nil
}

// SourceRoot locates the tree to build under the extraction root: the first
// directory at depth 1, or dir itself when the archive had no top-level
// directory.
func SourceRoot(dir string) string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return dir
	}
	for _, entry := range entries {
		if entry.IsDir() {
			return filepath.Join(dir, entry.Name())
		}
	}
	return dir
}
