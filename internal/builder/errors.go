package builder

import (
	"errors"
	"fmt"
)

// ErrUnknownBuildSystem marks a source tree with no recipe hint and none of
// the known build-system marker files. Retrying cannot change the outcome,
// but the retry loop treats it like any other job failure.
var ErrUnknownBuildSystem = errors.New("unknown build system")

// BuildError wraps a failed pipeline step. ExitCode preserves the build
// tool's exit status when the step ran a subprocess, and is zero otherwise.
type BuildError struct {
	Pkg      string
	Step     string
	ExitCode int
	Err      error
}

func (e *BuildError) Error() string {
	return fmt.Sprintf("package %q: %s: %v", e.Pkg, e.Step, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }
