// Package service assembles a run from its parts: recipe store, resolver,
// provenance database, artifact store, fetcher, builder and scheduler. It
// owns the run lifecycle; the domain logic lives in the packages it wires.
package service

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/kiln-build/kiln/internal/builder"
	"github.com/kiln-build/kiln/internal/config"
	"github.com/kiln-build/kiln/internal/database"
	"github.com/kiln-build/kiln/internal/fetch"
	"github.com/kiln-build/kiln/internal/logging"
	"github.com/kiln-build/kiln/internal/recipe"
	"github.com/kiln-build/kiln/internal/report"
	"github.com/kiln-build/kiln/internal/resolver"
	"github.com/kiln-build/kiln/internal/s3"
	"github.com/kiln-build/kiln/internal/scheduler"
	"github.com/kiln-build/kiln/internal/store"
)

// defaultExcludes drops libtool archives and the gettext charset.alias from
// every artifact; both embed staging paths and break on the target system.
var defaultExcludes = []string{"*.la", "usr/lib/charset.alias"}

// Service runs builds end to end. Configure it with the fluent setters, then
// call Run.
type Service struct {
	cfg      *config.Config
	logger   *logging.Logger
	packages []string
	progress bool
}

func New() *Service {
	return &Service{logger: logging.Discard()}
}

func (s *Service) WithConfig(cfg *config.Config) *Service {
	s.cfg = cfg
	return s
}

func (s *Service) WithLogger(logger *logging.Logger) *Service {
	s.logger = logger
	return s
}

// WithPackages restricts the run to the named packages plus their in-store
// build dependencies. An empty list builds the whole recipe tree.
func (s *Service) WithPackages(names []string) *Service {
	s.packages = names
	return s
}

// WithProgress enables console download progress bars.
func (s *Service) WithProgress(enabled bool) *Service {
	s.progress = enabled
	return s
}

// Resolve loads the recipe tree and returns the build order without
// building anything.
func (s *Service) Resolve() (resolver.Result, error) {
	recipes, err := s.loadRecipes()
	if err != nil {
		return resolver.Result{}, err
	}
	return resolver.Resolve(recipes), nil
}

// Run builds the configured packages and returns the per-package report.
// The error covers run-level failures only, individual packages report
// through the return value.
func (s *Service) Run(ctx context.Context) (*report.Report, error) {
	if err := s.prepareDirs(); err != nil {
		return nil, err
	}

	recipes, err := s.loadRecipes()
	if err != nil {
		return nil, err
	}

	res := resolver.Resolve(recipes)
	if res.Cyclic() {
		s.logger.Warnf("dependency cycle involving %v, falling back to declaration order for those packages", res.Unresolved)
	}

	db := database.New().WithDir(s.cfg.DBDir).WithLogger(s.logger)
	if err := db.InitDB(ctx); err != nil {
		// Builds go on without provenance rows.
		s.logger.Warnf("provenance database unavailable: %v", err)
		db = nil
	} else {
		defer db.CloseDB()
	}

	artifacts := store.New(s.cfg.ArtifactDir).
		WithExcluded(append(defaultExcludes, s.cfg.Exclude...)).
		WithExternalTools(s.cfg.TarBin, s.cfg.ZstdBin).
		WithLogger(s.logger)
	if db != nil {
		artifacts = artifacts.WithDatabase(db)
	}
	if s3.Configured(s.cfg) {
		mirror, err := s3.New(ctx, s.cfg)
		if err != nil {
			return nil, fmt.Errorf("artifact mirror: %w", err)
		}
		artifacts = artifacts.WithMirror(mirror)
	}

	fetcher := fetch.New(s.cfg.SrcDir).
		WithMirrors(s.cfg.Mirrors).
		WithProgress(s.progress).
		WithLogger(s.logger)
	if s.logger.Level() >= logging.LevelDebug {
		// Wire dumps for every download, for chasing mirror and redirect
		// problems.
		fetcher = fetcher.WithClient(&http.Client{Transport: fetch.NewLoggingTransport(nil, s.logger)})
	}

	b := builder.New().
		WithConfig(s.cfg).
		WithFetcher(fetcher).
		WithStore(artifacts).
		WithLogger(s.logger)

	sched := scheduler.New().
		WithConfig(s.cfg).
		WithRecipes(recipes).
		WithRunner(b).
		WithStore(artifacts).
		WithLogger(s.logger)

	rep, err := sched.Run(ctx, res.Order)
	if err != nil {
		return rep, err
	}

	if s.cfg.Report != "" {
		if werr := rep.WriteYAML(s.cfg.Report); werr != nil {
			s.logger.Warnf("run report not written: %v", werr)
		} else {
			s.logger.Infof("run report written to %s", s.cfg.Report)
		}
	}
	return rep, nil
}

func (s *Service) loadRecipes() (*recipe.Store, error) {
	recipes, err := recipe.LoadDir(s.cfg.PkgDir)
	if err != nil {
		return nil, err
	}
	if len(s.packages) > 0 {
		if recipes, err = recipes.Subset(s.packages); err != nil {
			return nil, err
		}
	}
	if recipes.Len() == 0 {
		return nil, fmt.Errorf("no recipes found in %s", s.cfg.PkgDir)
	}
	return recipes, nil
}

// prepareDirs creates the run directories and applies CLEAN_ON_START, which
// wipes stale build trees but never the download cache or artifacts.
func (s *Service) prepareDirs() error {
	if s.cfg.CleanOnStart {
		if err := os.RemoveAll(s.cfg.WorkDir); err != nil {
			return fmt.Errorf("clean work dir: %w", err)
		}
	}
	for _, dir := range []string{s.cfg.SrcDir, s.cfg.WorkDir, s.cfg.ArtifactDir, s.cfg.LogDir, s.cfg.DBDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}
