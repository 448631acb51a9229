package builder

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/kiln-build/kiln/internal/logging"
)

// applyPatches applies every file under the recipe's patches directory to
// the source root, in lexical order, with patch(1). A patch that does not
// apply is logged and skipped: patching is lenient by policy, the build
// itself decides whether the tree is usable.
func (b *Builder) applyPatches(ctx context.Context, job *Job, events *logging.EventLog, logW io.Writer, srcRoot string) {
	if job.Recipe.Dir == "" {
		return
	}

	patchDir := filepath.Join(job.Recipe.Dir, "patches")
	entries, err := os.ReadDir(patchDir)
	if err != nil {
		return
	}

	env := append(os.Environ(), "LC_ALL=C")
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path, err := filepath.Abs(filepath.Join(patchDir, entry.Name()))
		if err != nil {
			continue
		}

		if b.applyPatch(ctx, logW, env, srcRoot, path) {
			events.Emit("extract").Str("patch", entry.Name()).Msg("patch applied")
			b.logger.Debugf("package %s: applied patch %s", job.Recipe.Name, entry.Name())
			continue
		}
		events.Warn("extract").Str("patch", entry.Name()).Msg("patch did not apply")
		b.logger.Warnf("package %s: patch %s did not apply, continuing", job.Recipe.Name, entry.Name())
	}
}

// applyPatch tries -p1 first and falls back to -p0, matching how upstream
// patches are usually rooted.
func (b *Builder) applyPatch(ctx context.Context, logW io.Writer, env []string, srcRoot, path string) bool {
	for _, level := range []string{"-p1", "-p0"} {
		st := step{name: "patch", argv: []string{"patch", level, "--batch", "-i", path}, dir: srcRoot}
		if _, err := runStep(ctx, logW, env, st); err == nil {
			return true
		}
	}
	return false
}
