package builder

// Status tracks a job through the pipeline. Done and Failed are terminal;
// every other value names the last completed stage. Failed is reachable
// from any stage.
type Status int

const (
	Start Status = iota
	Fetched
	Extracted
	Patched
	Detected
	Installed
	Packaged
	Done
	Failed
)

func (s Status) String() string {
	switch s {
	case Start:
		return "start"
	case Fetched:
		return "fetched"
	case Extracted:
		return "extracted"
	case Patched:
		return "patched"
	case Detected:
		return "detected"
	case Installed:
		return "installed"
	case Packaged:
		return "packaged"
	case Done:
		return "done"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether the pipeline is finished with the job.
func (s Status) Terminal() bool {
	return s == Done || s == Failed
}
