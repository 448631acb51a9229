// Package store turns a job's staging tree into the shipped outputs: one
// zstd-compressed artifact, one provenance manifest beside it, a row in the
// provenance database, and an optional mirror upload.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/kiln-build/kiln/internal/archive"
	"github.com/kiln-build/kiln/internal/database"
	kilnfs "github.com/kiln-build/kiln/internal/fs"
	"github.com/kiln-build/kiln/internal/logging"
	"github.com/kiln-build/kiln/internal/metrics"
	"github.com/kiln-build/kiln/internal/s3"
	"github.com/kiln-build/kiln/internal/util"
)

// Error wraps any failure to package a finished build.
type Error struct {
	Pkg string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("package %q: packaging: %v", e.Pkg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// JobInfo carries everything the store needs to name and describe a build's
// outputs. The build pipeline fills it in.
type JobInfo struct {
	Name        string
	Version     string
	JobID       string
	Source      string
	SourceSHA   string
	BuildSystem string
	BuildStart  time.Time
	Status      string
	Attempts    int
	Duration    time.Duration
}

// Artifact describes one packaged build output on disk.
type Artifact struct {
	Path     string
	Manifest string
	SHA256   string
	Size     int64
}

// Manifest is the provenance record written beside every artifact. Name is
// the bare package name, Pkg the versioned slug, Artifact the file name of
// the tarball the record describes.
type Manifest struct {
	Name        string `json:"name"`
	Pkg         string `json:"pkg"`
	Version     string `json:"version"`
	JobID       string `json:"jobid"`
	Artifact    string `json:"artifact"`
	ArtifactSHA string `json:"artifact_sha256"`
	Source      string `json:"source"`
	SourceSHA   string `json:"source_sha256"`
	BuildSystem string `json:"build_system"`
	BuildStart  string `json:"build_start"`
	Status      string `json:"status"`
}

// Store writes artifacts and manifests into one shared directory. Concurrent
// use is safe because output names embed the job id.
type Store struct {
	dir      string
	db       *database.Database
	mirror   s3.ObjectStorage
	excluded []string
	tarBin   string
	zstdBin  string
	logger   *logging.Logger
}

func New(dir string) *Store {
	return &Store{dir: dir, logger: logging.Discard()}
}

// WithDatabase enables provenance rows for every packaged or permanently
// failed build.
func (s *Store) WithDatabase(db *database.Database) *Store {
	s.db = db
	return s
}

// WithMirror uploads artifact and manifest to an object-storage mirror once
// both exist locally.
func (s *Store) WithMirror(mirror s3.ObjectStorage) *Store {
	s.mirror = mirror
	return s
}

// WithExcluded drops files matching the glob patterns from artifacts.
func (s *Store) WithExcluded(patterns []string) *Store {
	s.excluded = patterns
	return s
}

// WithExternalTools packs with the host tar and zstd instead of in-process.
func (s *Store) WithExternalTools(tarBin, zstdBin string) *Store {
	s.tarBin = tarBin
	s.zstdBin = zstdBin
	return s
}

func (s *Store) WithLogger(logger *logging.Logger) *Store {
	s.logger = logger
	return s
}

func (s *Store) Dir() string { return s.dir }

// Package archives the staging tree rooted at destDir and emits the
// artifact, its manifest, the database row and the mirror copy. The manifest
// is written only after the artifact digest has been computed from the bytes
// on disk.
func (s *Store) Package(ctx context.Context, info *JobInfo, destDir string) (*Artifact, error) {
	art, err := s.pack(ctx, info, destDir)
	if err != nil {
		metrics.PackagingFailed.WithLabelValues(info.Name).Inc()
		return nil, &Error{Pkg: info.Name, Err: err}
	}

	metrics.ArtifactCount.Inc()
	metrics.ArtifactBytes.Add(float64(art.Size))
	return art, nil
}

func (s *Store) pack(ctx context.Context, info *JobInfo, destDir string) (*Artifact, error) {
	found, err := kilnfs.DirContainsFiles(destDir)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.New("install stage produced no files")
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return nil, err
	}

	base := fmt.Sprintf("%s-%s-%s", info.Name, info.Version, info.JobID)
	artifactPath := filepath.Join(s.dir, base+".tar.zst")

	packer := archive.NewPacker().WithExcluded(s.excluded)
	if s.tarBin != "" {
		packer = packer.WithExternalTools(s.tarBin, s.zstdBin)
	}
	if err := util.WriteAtomic(artifactPath, func(w io.Writer) error {
		return packer.Pack(ctx, w, destDir)
	}); err != nil {
		return nil, err
	}

	// The recorded digest comes from the artifact's bytes on disk, not from
	// whatever passed through the compressor.
	digest, err := util.FileSHA256(artifactPath)
	if err != nil {
		return nil, err
	}
	stat, err := os.Stat(artifactPath)
	if err != nil {
		return nil, err
	}

	manifestPath := filepath.Join(s.dir, base+".manifest.json")
	manifest := Manifest{
		Name:        info.Name,
		Pkg:         info.Name + "-" + info.Version,
		Version:     info.Version,
		JobID:       info.JobID,
		Artifact:    base + ".tar.zst",
		ArtifactSHA: digest,
		Source:      info.Source,
		SourceSHA:   info.SourceSHA,
		BuildSystem: info.BuildSystem,
		BuildStart:  info.BuildStart.UTC().Format(time.RFC3339),
		Status:      info.Status,
	}
	if err := util.WriteAtomic(manifestPath, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(manifest)
	}); err != nil {
		return nil, err
	}

	art := &Artifact{
		Path:     artifactPath,
		Manifest: manifestPath,
		SHA256:   digest,
		Size:     stat.Size(),
	}

	if s.db != nil {
		if err := s.db.InsertBuild(ctx, s.row(info, art)); err != nil {
			return nil, err
		}
	}

	if s.mirror != nil {
		// A dead mirror must not fail a finished build.
		if err := s.upload(ctx, art); err != nil {
			metrics.MirrorUploadFailed.WithLabelValues(info.Name).Inc()
			s.logger.Warnf("package %s: mirror upload: %v", info.Name, err)
		}
	}

	return art, nil
}

// RecordFailure persists a provenance row for a permanently failed build.
// No artifact or manifest exists for it.
func (s *Store) RecordFailure(ctx context.Context, info *JobInfo) error {
	if s.db == nil {
		return nil
	}
	return s.db.InsertBuild(ctx, s.row(info, nil))
}

func (s *Store) row(info *JobInfo, art *Artifact) *database.Build {
	b := &database.Build{
		Name:        info.Name,
		Version:     info.Version,
		JobID:       info.JobID,
		Source:      info.Source,
		SourceSHA:   info.SourceSHA,
		BuildSystem: info.BuildSystem,
		BuildStart:  info.BuildStart,
		Status:      info.Status,
		Attempts:    info.Attempts,
		Duration:    info.Duration,
	}
	if art != nil {
		b.Artifact = filepath.Base(art.Path)
		b.ArtifactSHA = art.SHA256
	}
	return b
}

func (s *Store) upload(ctx context.Context, art *Artifact) error {
	for _, part := range []struct {
		path   string
		digest string
	}{
		{path: art.Path, digest: art.SHA256},
		{path: art.Manifest},
	} {
		f, err := os.Open(part.path)
		if err != nil {
			return err
		}
		err = s.mirror.Upload(ctx, filepath.Base(part.path), f, part.digest)
		f.Close()
		if err != nil {
			return err
		}
	}
	return nil
}
