package builder

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kiln-build/kiln/internal/recipe"
)

// Job is one build attempt. The id embeds the start time, the package name
// and a random suffix, so concurrently running and retried jobs never
// collide on shared directories or log files.
type Job struct {
	ID      string
	Recipe  *recipe.Recipe
	Attempt int

	WorkDir string // per-job scratch tree
	SrcDir  string // extraction target inside WorkDir
	DestDir string // isolated install root, never the live filesystem

	EventLogPath string // line-delimited JSON transition events
	BuildLogPath string // raw tool output

	Status Status
	Start  time.Time
}

func newJob(workRoot, logDir string, rec *recipe.Recipe, attempt int) (*Job, error) {
	now := time.Now()
	id := fmt.Sprintf("%d-%s-%s", now.Unix(), rec.Name, uuid.NewString()[:8])

	workDir := filepath.Join(workRoot, id)
	job := &Job{
		ID:           id,
		Recipe:       rec,
		Attempt:      attempt,
		WorkDir:      workDir,
		SrcDir:       filepath.Join(workDir, "src"),
		DestDir:      filepath.Join(workDir, "destdir"),
		EventLogPath: filepath.Join(logDir, id+".log"),
		BuildLogPath: filepath.Join(logDir, id+".build.log"),
		Status:       Start,
		Start:        now,
	}

	for _, dir := range []string{job.SrcDir, job.DestDir, logDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}
	return job, nil
}
