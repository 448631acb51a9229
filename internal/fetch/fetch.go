// Package fetch materializes recipe sources as archives in a shared,
// filename-keyed download cache. http(s) URLs are downloaded, git+ URLs are
// snapshotted through internal/gitsync and file:// URLs copied in, so
// the build pipeline always starts from one cached archive per package.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/kiln-build/kiln/internal/gitsync"
	"github.com/kiln-build/kiln/internal/logging"
	"github.com/kiln-build/kiln/internal/metrics"
	"github.com/kiln-build/kiln/internal/progress"
	"github.com/kiln-build/kiln/internal/recipe"
	"github.com/kiln-build/kiln/internal/util"
)

// Error wraps any failure to materialize a source archive for a package.
type Error struct {
	Pkg string
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("package %q: fetch %s: %v", e.Pkg, e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Source is a verified archive in the download cache.
type Source struct {
	Path   string
	SHA256 string
}

// Fetcher downloads sources into cacheDir. It is safe for concurrent use
// as long as no two packages share a cache filename, which holds because
// names are unique within a store.
type Fetcher struct {
	cacheDir string
	mirrors  []string
	client   *http.Client
	logger   *logging.Logger
	progress bool
}

func New(cacheDir string) *Fetcher {
	return &Fetcher{
		cacheDir: cacheDir,
		client:   http.DefaultClient,
		logger:   logging.Discard(),
	}
}

// WithMirrors configures mirror base URLs tried in order before the
// recipe's own URL.
func (f *Fetcher) WithMirrors(mirrors []string) *Fetcher {
	f.mirrors = mirrors
	return f
}

func (f *Fetcher) WithClient(client *http.Client) *Fetcher {
	f.client = client
	return f
}

func (f *Fetcher) WithLogger(logger *logging.Logger) *Fetcher {
	f.logger = logger
	return f
}

// WithProgress enables download progress bars. The bars stay invisible
// when stderr is not a terminal.
func (f *Fetcher) WithProgress(enabled bool) *Fetcher {
	f.progress = enabled
	return f
}

// Filename returns the cache entry name for a recipe source. Git sources
// snapshot into one deterministic tarball per name and version.
func Filename(rec *recipe.Recipe) string {
	if gitsync.IsGitURL(rec.URL) {
		return fmt.Sprintf("%s-%s.tar.gz", rec.Name, rec.Version)
	}
	if u, err := url.Parse(rec.URL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	return path.Base(rec.URL)
}

// Fetch returns the verified source archive for rec, downloading it into
// the cache first when missing. A cached entry whose digest does not match
// the recipe checksum is discarded and downloaded once more; an empty
// recipe checksum means trust-on-first-use, with a warning.
func (f *Fetcher) Fetch(ctx context.Context, rec *recipe.Recipe) (*Source, error) {
	start := time.Now()
	metrics.FetchCount.Inc()

	src, err := f.fetch(ctx, rec)
	if err != nil {
		metrics.FetchFailed.WithLabelValues(rec.Name).Inc()
		return nil, &Error{Pkg: rec.Name, URL: rec.URL, Err: err}
	}
	metrics.FetchDuration.WithLabelValues(rec.Name).Observe(time.Since(start).Seconds())
	return src, nil
}

func (f *Fetcher) fetch(ctx context.Context, rec *recipe.Recipe) (*Source, error) {
	if rec.URL == "" {
		return nil, errors.New("recipe has no URL")
	}
	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return nil, err
	}

	cached := filepath.Join(f.cacheDir, Filename(rec))

	if _, err := os.Stat(cached); err == nil {
		digest, err := util.FileSHA256(cached)
		if err != nil {
			return nil, err
		}
		switch {
		case rec.SHA256 == "":
			f.logger.Warnf("package %s: no checksum pinned, trusting cached %s (%s)", rec.Name, filepath.Base(cached), digest)
			metrics.FetchCacheHits.Inc()
			return &Source{Path: cached, SHA256: digest}, nil
		case digest == rec.SHA256:
			metrics.FetchCacheHits.Inc()
			return &Source{Path: cached, SHA256: digest}, nil
		default:
			f.logger.Warnf("package %s: cached %s has digest %s, want %s, downloading again", rec.Name, filepath.Base(cached), digest, rec.SHA256)
			if err := os.Remove(cached); err != nil {
				return nil, err
			}
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if err := f.download(ctx, rec, cached); err != nil {
		return nil, err
	}

	digest, err := util.FileSHA256(cached)
	if err != nil {
		return nil, err
	}
	if rec.SHA256 == "" {
		f.logger.Warnf("package %s: no checksum pinned, trusting first download of %s (%s)", rec.Name, filepath.Base(cached), digest)
		return &Source{Path: cached, SHA256: digest}, nil
	}
	if digest != rec.SHA256 {
		// Leave no poisoned entry behind; the next attempt starts clean.
		os.Remove(cached)
		return nil, fmt.Errorf("checksum mismatch: got %s, want %s", digest, rec.SHA256)
	}
	return &Source{Path: cached, SHA256: digest}, nil
}

func (f *Fetcher) download(ctx context.Context, rec *recipe.Recipe, dest string) error {
	switch {
	case gitsync.IsGitURL(rec.URL):
		return f.snapshotGit(ctx, rec, dest)
	case strings.HasPrefix(rec.URL, "file://"):
		return copyLocal(strings.TrimPrefix(rec.URL, "file://"), dest)
	default:
		return f.downloadHTTP(ctx, rec, dest)
	}
}

func (f *Fetcher) snapshotGit(ctx context.Context, rec *recipe.Recipe, dest string) error {
	s := gitsync.New(rec.Name, rec.URL).WithLogger(f.logger)
	f.logger.Infof("package %s: snapshotting %s", rec.Name, s.Repo())
	return util.WriteAtomic(dest, func(w io.Writer) error {
		return s.Snapshot(ctx, w)
	})
}

func (f *Fetcher) downloadHTTP(ctx context.Context, rec *recipe.Recipe, dest string) error {
	var lastErr error
	for _, candidate := range f.candidates(rec) {
		if err := f.downloadOne(ctx, candidate, dest); err != nil {
			f.logger.Debugf("package %s: %v", rec.Name, err)
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// candidates lists download URLs in preference order: configured mirrors
// first, the recipe URL last.
func (f *Fetcher) candidates(rec *recipe.Recipe) []string {
	name := Filename(rec)
	urls := make([]string, 0, len(f.mirrors)+1)
	for _, m := range f.mirrors {
		urls = append(urls, strings.TrimSuffix(m, "/")+"/"+name)
	}
	return append(urls, rec.URL)
}

func (f *Fetcher) downloadOne(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("GET %s: unsuccessful status code %d", rawURL, resp.StatusCode)
	}

	var bar *progress.Bar
	if f.progress {
		bar = progress.Bytes(resp.ContentLength, filepath.Base(dest))
	}
	defer bar.Finish()

	return util.WriteAtomic(dest, func(w io.Writer) error {
		n, err := io.Copy(io.MultiWriter(w, bar.Writer()), resp.Body)
		metrics.FetchBytes.Add(float64(n))
		return err
	})
}

func copyLocal(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	return util.WriteAtomic(dest, func(w io.Writer) error {
		_, err := io.Copy(w, in)
		return err
	})
}
