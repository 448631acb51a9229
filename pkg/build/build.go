// Package build is the programmatic interface to kiln: resolve a recipe
// tree into a build order, schedule builds across a worker pool, or build a
// single package. The kilnctl command is a thin layer over this package.
package build

import (
	"context"

	"github.com/kiln-build/kiln/internal/config"
	"github.com/kiln-build/kiln/internal/report"
	"github.com/kiln-build/kiln/internal/resolver"
	"github.com/kiln-build/kiln/internal/service"
)

// Aliases expose the shared definitions without a second copy of the types.
type (
	// Config is the run configuration, usually loaded from a kiln.conf.
	Config = config.Config
	// Order is a resolved build order plus any cycle diagnostics.
	Order = resolver.Result
	// Entry is the terminal outcome of one package.
	Entry = report.Entry
)

// DefaultConfig returns the built-in run configuration.
func DefaultConfig() *Config {
	return config.Default()
}

// LoadConfig reads and validates the run configuration file at path.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// Resolve loads the recipe tree under cfg.PkgDir and returns the build
// order. Cycles do not fail the resolve; they are reported in the result.
func Resolve(cfg *Config) (Order, error) {
	return service.New().WithConfig(cfg).Resolve()
}

// Schedule builds the named packages and their in-store build dependencies
// across workerCount workers; an empty names list builds the whole tree and
// workerCount <= 0 keeps the configured parallelism. The error reports
// run-level failures only; per-package outcomes are in the entries.
func Schedule(ctx context.Context, cfg *Config, workerCount int, names ...string) ([]Entry, error) {
	run := *cfg
	if workerCount > 0 {
		run.Parallelism = workerCount
	}

	rep, err := service.New().
		WithConfig(&run).
		WithPackages(names).
		Run(ctx)
	if err != nil {
		return nil, err
	}
	return rep.Entries(), nil
}

// BuildOne builds a single package, pulling in its in-store build
// dependencies first.
func BuildOne(ctx context.Context, cfg *Config, name string) ([]Entry, error) {
	return Schedule(ctx, cfg, 0, name)
}
