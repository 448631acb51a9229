// Package report collects the terminal outcome of every package in a run
// and renders the end-of-run summary, as a console table and optionally as
// a YAML file next to the logs.
package report

import (
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/olekukonko/tablewriter"

	"github.com/kiln-build/kiln/internal/util"
)

// Entry is the terminal outcome of one package.
type Entry struct {
	Pkg      string
	Status   string
	Attempts int
	Duration time.Duration
	Artifact string // artifact file name, empty for failed packages
}

// Report accumulates entries from concurrent workers.
type Report struct {
	mu      sync.Mutex
	entries []Entry
}

func New() *Report {
	return &Report{}
}

func (r *Report) Add(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
}

// Entries returns a copy of the collected entries sorted by package name,
// so the rendered report is stable regardless of completion order.
func (r *Report) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := slices.Clone(r.entries)
	slices.SortFunc(out, func(a, b Entry) int { return strings.Compare(a.Pkg, b.Pkg) })
	return out
}

// Failed returns the number of packages that did not finish successfully.
func (r *Report) Failed() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.entries {
		if e.Status != "done" {
			n++
		}
	}
	return n
}

// RenderTable writes the summary table to w.
func (r *Report) RenderTable(w io.Writer) error {
	table := tablewriter.NewTable(w)
	table.Header("package", "status", "attempts", "duration", "artifact")
	for _, e := range r.Entries() {
		if err := table.Append(e.Pkg, e.Status, strconv.Itoa(e.Attempts), fmtDuration(e.Duration), e.Artifact); err != nil {
			return err
		}
	}
	return table.Render()
}

type yamlEntry struct {
	Pkg      string `yaml:"pkg"`
	Status   string `yaml:"status"`
	Attempts int    `yaml:"attempts"`
	Duration string `yaml:"duration"`
	Artifact string `yaml:"artifact,omitempty"`
}

type yamlReport struct {
	Packages []yamlEntry `yaml:"packages"`
}

// WriteYAML writes the report to path atomically.
func (r *Report) WriteYAML(path string) error {
	var doc yamlReport
	for _, e := range r.Entries() {
		doc.Packages = append(doc.Packages, yamlEntry{
			Pkg:      e.Pkg,
			Status:   e.Status,
			Attempts: e.Attempts,
			Duration: fmtDuration(e.Duration),
			Artifact: e.Artifact,
		})
	}

	bs, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return util.WriteAtomic(path, func(w io.Writer) error {
		_, err := w.Write(bs)
		return err
	})
}

// fmtDuration keeps sub-second noise out of the report.
func fmtDuration(d time.Duration) string {
	return d.Round(10 * time.Millisecond).String()
}
