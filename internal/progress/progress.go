package progress

import (
	"github.com/schollz/progressbar/v3"
)

// Bar is a nil-safe wrapper around progressbar. A nil *Bar is a valid no-op
// bar, so callers never need to branch on whether progress output is enabled.
type Bar struct {
	bar *progressbar.ProgressBar
}

func New(max int, description string) *Bar {
	return &Bar{bar: progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionClearOnFinish(),
	)}
}

func (b *Bar) Add(n int) {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Add(n)
}

func (b *Bar) Finish() {
	if b == nil || b.bar == nil {
		return
	}
	_ = b.bar.Finish()
}
