package builder

import (
	"context"
	"errors"
	"io"
	"os/exec"
)

// runStep executes one adapter step with the job's build environment, tool
// output teed into the build log. The returned exit code is zero unless the
// subprocess itself failed.
func runStep(ctx context.Context, logW io.Writer, env []string, st step) (int, error) {
	cmd := exec.CommandContext(ctx, st.argv[0], st.argv[1:]...)
	cmd.Dir = st.dir
	cmd.Env = env
	cmd.Stdout = logW
	cmd.Stderr = logW

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), err
	}
	return 0, err
}
