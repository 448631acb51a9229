// Package scheduler fans the resolved build order out over a fixed pool of
// workers and drives the bounded per-package retry loop. Two strategies are
// supported, selected by the SCHEDULER config key: static round-robin
// partitions, and a dependency-aware ready queue (the default) that hands a
// package to a worker only once its in-store build dependencies finished.
package scheduler

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kiln-build/kiln/internal/builder"
	"github.com/kiln-build/kiln/internal/config"
	"github.com/kiln-build/kiln/internal/logging"
	"github.com/kiln-build/kiln/internal/metrics"
	"github.com/kiln-build/kiln/internal/pool"
	"github.com/kiln-build/kiln/internal/recipe"
	"github.com/kiln-build/kiln/internal/report"
	"github.com/kiln-build/kiln/internal/store"
)

// Runner executes one build attempt. *builder.Builder implements it.
type Runner interface {
	Run(ctx context.Context, rec *recipe.Recipe, attempt int) (*builder.Result, error)
}

// Scheduler owns the worker pool for one run. Workers are joined before Run
// returns; individual package failures never abort the run.
type Scheduler struct {
	cfg     *config.Config
	recipes *recipe.Store
	runner  Runner
	store   *store.Store
	logger  *logging.Logger
	sleep   func(time.Duration)
}

func New() *Scheduler {
	return &Scheduler{logger: logging.Discard(), sleep: time.Sleep}
}

func (s *Scheduler) WithConfig(cfg *config.Config) *Scheduler {
	s.cfg = cfg
	return s
}

func (s *Scheduler) WithRecipes(recipes *recipe.Store) *Scheduler {
	s.recipes = recipes
	return s
}

func (s *Scheduler) WithRunner(runner Runner) *Scheduler {
	s.runner = runner
	return s
}

// WithStore attaches the artifact store so permanently failed packages leave
// a provenance record too.
func (s *Scheduler) WithStore(store *store.Store) *Scheduler {
	s.store = store
	return s
}

func (s *Scheduler) WithLogger(logger *logging.Logger) *Scheduler {
	s.logger = logger
	return s
}

// WithSleep replaces the inter-attempt backoff sleep.
func (s *Scheduler) WithSleep(sleep func(time.Duration)) *Scheduler {
	s.sleep = sleep
	return s
}

// Partition splits order into k round-robin buckets: index i goes to bucket
// i mod k. Buckets preserve the relative order of their members.
func Partition(order []string, k int) [][]string {
	buckets := make([][]string, k)
	for i, name := range order {
		buckets[i%k] = append(buckets[i%k], name)
	}
	return buckets
}

// Run builds every package in order across the configured number of workers
// and returns the per-package report. The returned error covers run-level
// problems only; per-package failures are in the report.
func (s *Scheduler) Run(ctx context.Context, order []string) (*report.Report, error) {
	if len(order) == 0 {
		return nil, errors.New("no packages to build")
	}

	k := s.cfg.Parallelism
	if k < 1 {
		k = 1
	}

	rep := report.New()
	s.logger.Infof("scheduling %d packages across %d workers (%s)", len(order), k, s.cfg.Scheduler)

	var err error
	if s.cfg.Scheduler == config.SchedulerStatic {
		err = s.runStatic(ctx, order, k, rep)
	} else {
		err = s.runQueue(ctx, order, k, rep)
	}
	return rep, err
}

// runStatic assigns order[i] to bucket i mod k up front. Each worker drains
// its own bucket in sequence; idle workers never steal from lagging ones.
func (s *Scheduler) runStatic(ctx context.Context, order []string, k int, rep *report.Report) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, bucket := range Partition(order, k) {
		g.Go(func() error {
			for _, name := range bucket {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.build(ctx, name, rep)
			}
			return nil
		})
	}
	return g.Wait()
}

// runQueue pulls packages from a shared ready queue, so a package starts
// only after its in-store build dependencies completed, no matter which
// worker built them.
func (s *Scheduler) runQueue(ctx context.Context, order []string, k int, rep *report.Report) error {
	queue := pool.New(order, func(name string) []string {
		if rec := s.recipes.Get(name); rec != nil {
			return rec.BuildDeps
		}
		return nil
	})

	g, ctx := errgroup.WithContext(ctx)
	for range k {
		g.Go(func() error {
			for {
				name, ok := queue.Next(ctx)
				if !ok {
					return ctx.Err()
				}
				s.build(ctx, name, rep)
				queue.Done(name)
			}
		})
	}
	return g.Wait()
}

// build drives one package through the retry loop and records its terminal
// outcome. A package gets at least one attempt; after every failed attempt
// the worker sleeps attempt*RETRY_BACKOFF seconds.
func (s *Scheduler) build(ctx context.Context, name string, rep *report.Report) {
	rec := s.recipes.Get(name)
	if rec == nil {
		s.logger.Warnf("package %s: not in the recipe store, skipping", name)
		return
	}

	metrics.PackagesScheduled.Inc()
	metrics.WorkersBusy.Inc()
	defer metrics.WorkersBusy.Dec()

	limit := s.cfg.RetryLimit
	if limit < 1 {
		limit = 1
	}

	start := time.Now()
	var job *builder.Job
	var err error

	attempts := 0
	for attempt := 1; attempt <= limit; attempt++ {
		attempts = attempt
		if attempt > 1 {
			metrics.PackageBuildRetries.Inc()
		}

		var res *builder.Result
		res, err = s.runner.Run(ctx, rec, attempt)
		if res != nil {
			job = res.Job
		}

		if err == nil {
			entry := report.Entry{
				Pkg:      name,
				Status:   builder.Done.String(),
				Attempts: attempt,
				Duration: time.Since(start),
			}
			if res.Artifact != nil {
				entry.Artifact = filepath.Base(res.Artifact.Path)
			}
			rep.Add(entry)
			return
		}

		s.logger.Warnf("package %s: attempt %d/%d failed: %v", name, attempt, limit, err)
		if backoff := time.Duration(attempt*s.cfg.RetryBackoff) * time.Second; backoff > 0 {
			s.sleep(backoff)
		}
		if ctx.Err() != nil {
			break
		}
	}

	s.logger.Errorf("package %s: permanently failed after %d attempts: %v", name, attempts, err)
	if s.store != nil {
		info := builder.Info(rec, job, attempts, time.Since(start))
		if rerr := s.store.RecordFailure(ctx, info); rerr != nil {
			s.logger.Warnf("package %s: failure not recorded: %v", name, rerr)
		}
	}
	rep.Add(report.Entry{
		Pkg:      name,
		Status:   builder.Failed.String(),
		Attempts: attempts,
		Duration: time.Since(start),
	})
}
