// Package builder drives one package through the build pipeline: fetch,
// extract, patch, detect, build and install into an isolated destination
// root, then hand the staged tree to the artifact store. One Builder serves
// all workers; per-job state lives in the Job.
package builder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"

	"github.com/kiln-build/kiln/internal/archive"
	"github.com/kiln-build/kiln/internal/config"
	"github.com/kiln-build/kiln/internal/fetch"
	"github.com/kiln-build/kiln/internal/logging"
	"github.com/kiln-build/kiln/internal/metrics"
	"github.com/kiln-build/kiln/internal/recipe"
	"github.com/kiln-build/kiln/internal/store"
)

type Builder struct {
	cfg     *config.Config
	fetcher *fetch.Fetcher
	store   *store.Store
	logger  *logging.Logger
}

func New() *Builder {
	return &Builder{logger: logging.Discard()}
}

func (b *Builder) WithConfig(cfg *config.Config) *Builder {
	b.cfg = cfg
	return b
}

func (b *Builder) WithFetcher(fetcher *fetch.Fetcher) *Builder {
	b.fetcher = fetcher
	return b
}

func (b *Builder) WithStore(store *store.Store) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithLogger(logger *logging.Logger) *Builder {
	b.logger = logger
	return b
}

// Result is the outcome of one attempt. Job is set whenever a job was
// created, even for failed attempts; Artifact only on success.
type Result struct {
	Job      *Job
	Artifact *store.Artifact
}

// Run drives one build attempt for rec. Every state transition emits one
// JSON event to the job's event log and one line to the console logger.
// The job's work directory is removed once the job is terminal unless the
// configuration keeps logs.
func (b *Builder) Run(ctx context.Context, rec *recipe.Recipe, attempt int) (*Result, error) {
	if b.cfg.Arch != runtime.GOARCH && !b.cfg.AllowCross {
		return nil, &BuildError{Pkg: rec.Name, Step: "setup",
			Err: fmt.Errorf("target arch %q differs from host and cross builds are disabled", b.cfg.Arch)}
	}

	metrics.PackageBuildCount.Inc()
	metrics.LastPackageBuildStart.WithLabelValues(rec.Name).SetToCurrentTime()

	job, err := newJob(b.cfg.WorkDir, b.cfg.LogDir, rec, attempt)
	if err != nil {
		return nil, &BuildError{Pkg: rec.Name, Step: "setup", Err: err}
	}
	res := &Result{Job: job}

	defer func() {
		metrics.LastPackageBuildEnd.WithLabelValues(rec.Name).SetToCurrentTime()
		if !b.cfg.KeepLogs {
			os.RemoveAll(job.WorkDir)
		}
	}()

	eventsFile, err := os.Create(job.EventLogPath)
	if err != nil {
		job.Status = Failed
		return res, &BuildError{Pkg: rec.Name, Step: "setup", Err: err}
	}
	defer eventsFile.Close()

	buildLog, err := os.Create(job.BuildLogPath)
	if err != nil {
		job.Status = Failed
		return res, &BuildError{Pkg: rec.Name, Step: "setup", Err: err}
	}
	defer buildLog.Close()

	events := logging.NewEventLog(eventsFile, rec.Name, job.ID)

	fail := func(phase string, err error) (*Result, error) {
		job.Status = Failed
		var rc int
		var berr *BuildError
		if errors.As(err, &berr) {
			rc = berr.ExitCode
		}
		events.Fail(phase, rc, err)
		metrics.PackageBuildFailed.WithLabelValues(rec.Name, phase).Inc()
		b.logger.Errorf("%v", err)
		return res, err
	}

	events.Emit("start").Int("attempt", attempt).Msg("build started")
	b.logger.Infof("package %s: job %s started (attempt %d)", rec.Name, job.ID, attempt)

	src, err := b.fetcher.Fetch(ctx, rec)
	if err != nil {
		return fail("fetch", err)
	}
	job.Status = Fetched
	events.Emit("fetch").Str("source", filepath.Base(src.Path)).Str("sha256", src.SHA256).Msg("source ready")
	b.logger.Infof("package %s: fetched %s", rec.Name, filepath.Base(src.Path))

	if err := archive.Extract(src.Path, job.SrcDir); err != nil {
		return fail("extract", err)
	}
	job.Status = Extracted
	srcRoot := archive.SourceRoot(job.SrcDir)
	events.Emit("extract").Msg("source extracted")
	b.logger.Infof("package %s: extracted", rec.Name)

	b.applyPatches(ctx, job, events, buildLog, srcRoot)
	job.Status = Patched

	system, err := Detect(srcRoot, rec.Hint)
	if err != nil {
		return fail("detect", &BuildError{Pkg: rec.Name, Step: "detect", Err: err})
	}
	job.Status = Detected
	events.Emit("detect").Str("build_system", string(system)).Msg("build system detected")
	b.logger.Infof("package %s: building with %s", rec.Name, system)

	seq, err := steps(system, srcRoot, job.DestDir)
	if err != nil {
		return fail("detect", &BuildError{Pkg: rec.Name, Step: "detect", Err: err})
	}

	env := b.buildEnv(job.DestDir)
	for _, st := range seq {
		b.logger.Debugf("package %s: %s", rec.Name, st.name)
		if rc, err := runStep(ctx, buildLog, env, st); err != nil {
			return fail("build", &BuildError{Pkg: rec.Name, Step: st.name, ExitCode: rc, Err: err})
		}
	}
	job.Status = Installed
	events.Emit("build").Msg("built and installed into staging root")

	info := &store.JobInfo{
		Name:        rec.Name,
		Version:     rec.Version,
		JobID:       job.ID,
		Source:      filepath.Base(src.Path),
		SourceSHA:   src.SHA256,
		BuildSystem: string(system),
		BuildStart:  job.Start,
		Status:      Done.String(),
		Attempts:    attempt,
		Duration:    time.Since(job.Start),
	}
	artifact, err := b.store.Package(ctx, info, job.DestDir)
	if err != nil {
		return fail("package", err)
	}
	job.Status = Packaged
	events.Emit("package").Str("artifact", filepath.Base(artifact.Path)).Str("sha256", artifact.SHA256).Msg("artifact written")

	job.Status = Done
	res.Artifact = artifact
	events.Emit("done").Msg("build finished")
	metrics.PackageBuildDuration.WithLabelValues(rec.Name).Observe(time.Since(job.Start).Seconds())
	b.logger.Okf("package %s: done (%s)", rec.Name, filepath.Base(artifact.Path))

	return res, nil
}

// Info assembles the provenance record for a permanently failed package, so
// the scheduler can note it in the database. job may be nil when not even a
// work directory could be created; the row still needs a unique job id.
func Info(rec *recipe.Recipe, job *Job, attempts int, duration time.Duration) *store.JobInfo {
	info := &store.JobInfo{
		Name:     rec.Name,
		Version:  rec.Version,
		Status:   Failed.String(),
		Attempts: attempts,
		Duration: duration,
	}
	if job != nil {
		info.JobID = job.ID
		info.BuildStart = job.Start
		return info
	}
	info.JobID = fmt.Sprintf("%d-%s-%s", time.Now().Unix(), rec.Name, uuid.NewString()[:8])
	info.BuildStart = time.Now()
	return info
}

// buildEnv is the subprocess environment shared by every step of a job.
// Build tools read the toolchain flags; recipes and patches read the KILN_*
// values.
func (b *Builder) buildEnv(destDir string) []string {
	env := append(os.Environ(),
		"CFLAGS="+b.cfg.CFlags,
		"CXXFLAGS="+b.cfg.CFlags,
		"MAKEFLAGS="+b.cfg.MakeFlags,
		"DESTDIR="+destDir,
		"KILN_ROOT="+b.cfg.Root,
		"KILN_ARCH="+b.cfg.Arch,
		"KILN_MODE="+b.cfg.Mode,
	)
	if b.cfg.BootstrapMode {
		env = append(env, "KILN_BOOTSTRAP=1")
	}
	return env
}
