// Package gitsync turns git sources into ordinary source archives. A recipe
// URL of the form git+https://host/repo.git#ref is cloned at ref and its
// worktree written out as a gzip-compressed tarball, so the rest of the
// pipeline only ever sees one archive in the download cache. This package
// implements no threadpooling, it is expected that the caller will handle
// concurrency and parallelism.
package gitsync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/protocol/packp/capability"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/kiln-build/kiln/internal/archive"
	"github.com/kiln-build/kiln/internal/logging"
	"github.com/kiln-build/kiln/internal/metrics"
)

// Scheme prefixes recipe URLs that name a git repository instead of an
// archive download.
const Scheme = "git+"

func init() {
	// For Azure DevOps compatibility. More details: https://github.com/go-git/go-git/issues/64
	transport.UnsupportedCapabilities = []capability.Capability{
		capability.ThinPack,
	}
}

// IsGitURL reports whether a recipe URL should be handled by this package.
func IsGitURL(raw string) bool {
	return strings.HasPrefix(raw, Scheme)
}

// Snapshotter clones one git repository and archives its worktree. The
// clone is shallow where the transport allows it and discarded afterwards.
type Snapshotter struct {
	pkg    string
	repo   string
	ref    string
	logger *logging.Logger
}

// New creates a Snapshotter for a git+ source URL. The URL fragment, when
// present, names the tag or branch to snapshot; without one the remote
// default branch is used. pkg is the owning package name, used for logs
// and metrics.
func New(pkg, rawURL string) *Snapshotter {
	repo := strings.TrimPrefix(rawURL, Scheme)
	var ref string
	if i := strings.LastIndexByte(repo, '#'); i >= 0 {
		repo, ref = repo[:i], repo[i+1:]
	}
	return &Snapshotter{pkg: pkg, repo: repo, ref: ref, logger: logging.Discard()}
}

func (s *Snapshotter) WithLogger(logger *logging.Logger) *Snapshotter {
	s.logger = logger
	return s
}

// Repo returns the clone URL with the scheme prefix and ref fragment
// stripped.
func (s *Snapshotter) Repo() string { return s.repo }

// Ref returns the tag or branch named by the URL fragment, or "".
func (s *Snapshotter) Ref() string { return s.ref }

// Snapshot clones the repository at the configured ref and writes its
// worktree to w as a gzip-compressed tarball. The .git directory is not
// part of the snapshot.
func (s *Snapshotter) Snapshot(ctx context.Context, w io.Writer) error {
	start := time.Now()
	metrics.GitSnapshotCount.Inc()

	if err := s.snapshot(ctx, w); err != nil {
		metrics.GitSnapshotFailed.WithLabelValues(s.pkg).Inc()
		return fmt.Errorf("package %q: git snapshot: %v: %w", s.pkg, s.repo, err)
	}
	metrics.GitSnapshotDuration.WithLabelValues(s.pkg, s.repo).Observe(time.Since(start).Seconds())
	return nil
}

func (s *Snapshotter) snapshot(ctx context.Context, w io.Writer) error {
	dir, err := os.MkdirTemp("", "kiln-git-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	if err := s.clone(ctx, dir); err != nil {
		return err
	}

	return archive.TarGz(w, dir, func(rel string) bool { return rel == ".git" })
}

func (s *Snapshotter) clone(ctx context.Context, dir string) error {
	if s.ref == "" {
		return s.cloneRef(ctx, dir, "")
	}

	// A fragment names either a tag or a branch. Tags are tried first.
	err := s.cloneRef(ctx, dir, plumbing.NewTagReferenceName(s.ref))
	if errors.Is(err, git.NoMatchingRefSpecError{}) {
		s.logger.Debugf("package %s: %s is not a tag, trying a branch: %v", s.pkg, s.ref, err)
		err = s.cloneRef(ctx, dir, plumbing.NewBranchReferenceName(s.ref))
	}
	return err
}

func (s *Snapshotter) cloneRef(ctx context.Context, dir string, ref plumbing.ReferenceName) error {
	opts := git.CloneOptions{
		URL:           s.repo,
		ReferenceName: ref,
		SingleBranch:  true,
		Depth:         1,
		Tags:          git.NoTags,
	}

	err := s.cloneInto(ctx, dir, opts)
	if err == nil || errors.Is(err, git.NoMatchingRefSpecError{}) {
		return err
	}

	// Not all transports serve shallow clones; the local file transport
	// used in tests is one of them.
	s.logger.Debugf("package %s: shallow clone of %s failed, cloning full history: %v", s.pkg, s.repo, err)
	opts.Depth = 0
	return s.cloneInto(ctx, dir, opts)
}

func (s *Snapshotter) cloneInto(ctx context.Context, dir string, opts git.CloneOptions) error {
	// Leftovers from a failed attempt would make PlainClone bail out.
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	_, err := git.PlainCloneContext(ctx, dir, false, &opts)
	return err
}
