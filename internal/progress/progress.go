// Package progress renders console progress bars for the run (one unit per
// package) and for individual downloads. Bars stay silent when stderr is not
// a terminal, so batch runs and tests produce no control characters.
package progress

import (
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
)

// Bar tracks completion of a known amount of work. A nil Bar is valid and
// does nothing, which keeps call sites free of mode checks.
type Bar struct {
	bar *progressbar.ProgressBar
}

// New returns a count-based bar.
func New(max int, description string) *Bar {
	return &Bar{bar: progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetVisibility(onTerminal()),
		progressbar.OptionShowCount(),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)}
}

// Bytes returns a byte-based bar for a download. total may be -1 when the
// server does not advertise a content length.
func Bytes(total int64, description string) *Bar {
	return &Bar{bar: progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetVisibility(onTerminal()),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)}
}

func onTerminal() bool {
	return isatty.IsTerminal(os.Stderr.Fd())
}

func (b *Bar) Add(n int) {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Add(n)
}

// AddMax grows the expected total, for work discovered after the bar was
// created.
func (b *Bar) AddMax(n int) {
	if b == nil || b.bar == nil {
		return
	}
	b.bar.ChangeMax(b.bar.GetMax() + n)
}

func (b *Bar) Finish() {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Finish()
}

// Writer exposes the bar as an io.Writer so downloads can tee their body
// through it.
func (b *Bar) Writer() io.Writer {
	if b == nil || b.bar == nil {
		return io.Discard
	}
	return b.bar
}
