package logging

import (
	"io"

	"github.com/rs/zerolog"
)

// EventLog writes the line-delimited JSON event stream for a single build
// job. Every event carries at least ts, pkg, job and phase; callers attach
// extra fields (sha256, artifact, rc) before finishing with Msg.
type EventLog struct {
	zl zerolog.Logger
}

func NewEventLog(w io.Writer, pkg, job string) *EventLog {
	if w == nil {
		w = io.Discard
	}
	zl := zerolog.New(w).With().Timestamp().Str("pkg", pkg).Str("job", job).Logger()
	return &EventLog{zl: zl}
}

// Emit starts an info-level event for the given phase.
func (e *EventLog) Emit(phase string) *zerolog.Event {
	return e.zl.Info().Str("phase", phase)
}

// Warn starts a warn-level event for the given phase, used for recoverable
// oddities such as a patch that did not apply.
func (e *EventLog) Warn(phase string) *zerolog.Event {
	return e.zl.Warn().Str("phase", phase)
}

// Fail records a failed transition. rc is the subprocess exit code when one
// exists, 0 otherwise.
func (e *EventLog) Fail(phase string, rc int, err error) {
	ev := e.zl.Error().Str("phase", phase)
	if rc != 0 {
		ev = ev.Int("rc", rc)
	}
	ev.Msg(err.Error())
}
