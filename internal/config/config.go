// Package config loads the run configuration: a flat key=value file with
// `#` comments and ${VAR} substitution. References resolve against keys
// defined earlier in the same file, then against the process environment.
package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"runtime"
	"strconv"
	"strings"
	"unicode"
)

// Scheduler strategies, see internal/scheduler.
const (
	SchedulerStatic = "static"
	SchedulerDeps   = "deps"
)

// DefaultPaths is searched, in order, when no config file is given on the
// command line.
var DefaultPaths = []string{"kiln.conf", "/etc/kiln/kiln.conf"}

// Config holds the validated run configuration. Fields map one-to-one to
// the upper-case keys of the config file.
type Config struct {
	Root string // ROOT, target system root, exported to the build env only
	Arch string // ARCH
	Mode string // MODE, free-form build profile

	Parallelism int // PARALLELISM, worker count

	SrcDir      string // SRC_DIR, shared download cache
	WorkDir     string // WORK_DIR, per-job build trees
	ArtifactDir string // ARTIFACT_DIR, packaged artifacts + manifests
	LogDir      string // LOG_DIR, per-job build logs
	DBDir       string // DB_DIR, provenance database
	PkgDir      string // PKG_DIR, recipe tree

	Mirrors []string // MIRRORS, tried before the recipe URL

	RetryLimit   int // RETRY_LIMIT, attempts per package
	RetryBackoff int // RETRY_BACKOFF, seconds, scaled linearly per attempt

	CFlags    string // CFLAGS
	MakeFlags string // MAKEFLAGS

	CleanOnStart  bool // CLEAN_ON_START
	KeepLogs      bool // KEEP_LOGS
	AllowCross    bool // ALLOW_CROSS
	BootstrapMode bool // BOOTSTRAP_MODE

	TarBin  string // TAR_BIN, external tar override for packaging
	ZstdBin string // ZSTD_BIN, external zstd override for packaging

	S3URL    string   // S3_URL, optional artifact mirror endpoint
	S3Bucket string   // S3_BUCKET
	S3Prefix string   // S3_PREFIX
	Exclude  []string // EXCLUDE, extra packaging exclusion globs

	Scheduler string // SCHEDULER, static|deps
	Report    string // REPORT, YAML run report path
}

// Error reports an unparsable or invalid run configuration. Config errors
// abort the run before any worker starts.
type Error struct {
	Key string
	Msg string
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config: %s: %s", e.Key, e.Msg)
	}
	return "config: " + e.Msg
}

func errf(key, format string, args ...any) *Error {
	return &Error{Key: key, Msg: fmt.Sprintf(format, args...)}
}

// Default returns the built-in configuration: system-wide paths and one
// worker per CPU.
func Default() *Config {
	return &Config{
		Root:         "/",
		Arch:         runtime.GOARCH,
		Parallelism:  runtime.NumCPU(),
		SrcDir:       "/var/cache/kiln/sources",
		WorkDir:      "/var/tmp/kiln",
		ArtifactDir:  "/var/cache/kiln/artifacts",
		LogDir:       "/var/log/kiln",
		DBDir:        "/var/db/kiln",
		PkgDir:       "/var/db/kiln/recipes",
		RetryLimit:   3,
		RetryBackoff: 5,
		Scheduler:    SchedulerDeps,
	}
}

// Load reads and validates the config file at path.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &Error{Msg: err.Error()}
	}
	defer f.Close()
	return Parse(f)
}

// LoadDefault tries DefaultPaths in order and falls back to Default when no
// config file exists.
func LoadDefault() (*Config, error) {
	for _, path := range DefaultPaths {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	c := Default()
	return c, c.Validate()
}

// Parse reads a key=value stream on top of the defaults. Later keys win and
// unknown keys are ignored so configs stay portable across versions.
func Parse(r io.Reader) (*Config, error) {
	c := Default()
	seen := map[string]string{}

	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, found := strings.Cut(text, "=")
		if !found {
			return nil, errf("", "line %d: expected KEY=VALUE, got %q", line, text)
		}
		key = strings.TrimSpace(key)
		value = expand(strings.TrimSpace(value), seen)
		seen[key] = value
		if err := c.set(key, value); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &Error{Msg: err.Error()}
	}
	return c, c.Validate()
}

func expand(value string, seen map[string]string) string {
	return os.Expand(value, func(name string) string {
		if v, ok := seen[name]; ok {
			return v
		}
		return os.Getenv(name)
	})
}

func (c *Config) set(key, value string) error {
	var err error
	switch key {
	case "ROOT":
		c.Root = value
	case "ARCH":
		c.Arch = value
	case "MODE":
		c.Mode = value
	case "PARALLELISM":
		c.Parallelism, err = parseInt(key, value)
	case "SRC_DIR":
		c.SrcDir = value
	case "WORK_DIR":
		c.WorkDir = value
	case "ARTIFACT_DIR":
		c.ArtifactDir = value
	case "LOG_DIR":
		c.LogDir = value
	case "DB_DIR":
		c.DBDir = value
	case "PKG_DIR":
		c.PkgDir = value
	case "MIRRORS":
		c.Mirrors = splitList(value)
	case "RETRY_LIMIT":
		c.RetryLimit, err = parseInt(key, value)
	case "RETRY_BACKOFF":
		c.RetryBackoff, err = parseInt(key, value)
	case "CFLAGS":
		c.CFlags = value
	case "MAKEFLAGS":
		c.MakeFlags = value
	case "CLEAN_ON_START":
		c.CleanOnStart, err = parseBool(key, value)
	case "KEEP_LOGS":
		c.KeepLogs, err = parseBool(key, value)
	case "ALLOW_CROSS":
		c.AllowCross, err = parseBool(key, value)
	case "BOOTSTRAP_MODE":
		c.BootstrapMode, err = parseBool(key, value)
	case "TAR_BIN":
		c.TarBin = value
	case "ZSTD_BIN":
		c.ZstdBin = value
	case "S3_URL":
		c.S3URL = value
	case "S3_BUCKET":
		c.S3Bucket = value
	case "S3_PREFIX":
		c.S3Prefix = value
	case "EXCLUDE":
		c.Exclude = splitList(value)
	case "SCHEDULER":
		c.Scheduler = value
	case "REPORT":
		c.Report = value
	}
	return err
}

func parseInt(key, value string) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, errf(key, "expected integer, got %q", value)
	}
	return n, nil
}

func parseBool(key, value string) (bool, error) {
	switch strings.ToLower(value) {
	case "yes", "true", "1", "on":
		return true, nil
	case "no", "false", "0", "off", "":
		return false, nil
	}
	return false, errf(key, "expected yes/no, got %q", value)
}

func splitList(value string) []string {
	return strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
}

// Validate checks the documented bounds. The ARCH check keeps accidental
// cross builds from producing artifacts the host cannot run.
func (c *Config) Validate() error {
	if c.Parallelism < 1 {
		return errf("PARALLELISM", "must be >= 1, got %d", c.Parallelism)
	}
	if c.RetryLimit < 0 {
		return errf("RETRY_LIMIT", "must be >= 0, got %d", c.RetryLimit)
	}
	if c.RetryBackoff < 0 {
		return errf("RETRY_BACKOFF", "must be >= 0, got %d", c.RetryBackoff)
	}
	switch c.Scheduler {
	case SchedulerStatic, SchedulerDeps:
	default:
		return errf("SCHEDULER", "expected %q or %q, got %q", SchedulerStatic, SchedulerDeps, c.Scheduler)
	}
	if c.Arch != runtime.GOARCH && !c.AllowCross {
		return errf("ARCH", "%s differs from host %s and ALLOW_CROSS is not set", c.Arch, runtime.GOARCH)
	}
	for key, dir := range map[string]string{
		"SRC_DIR":      c.SrcDir,
		"WORK_DIR":     c.WorkDir,
		"ARTIFACT_DIR": c.ArtifactDir,
		"LOG_DIR":      c.LogDir,
		"PKG_DIR":      c.PkgDir,
	} {
		if dir == "" {
			return errf(key, "must not be empty")
		}
	}
	return nil
}
