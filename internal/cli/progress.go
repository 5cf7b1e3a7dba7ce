package cli

import (
	"io"
	"sync"

	"github.com/schollz/progressbar/v3"

	"eyeline/internal/stabilize"
)

var stageLabels = map[string]string{
	stabilize.StageDetect:   "detecting landmarks",
	stabilize.StageResample: "aligning frames",
	stabilize.StageEncode:   "encoding video",
}

// ProgressBars renders one bar per stabilize stage as events arrive. A nil
// writer disables output.
type ProgressBars struct {
	mu    sync.Mutex
	out   io.Writer
	stage string
	bar   *progressbar.ProgressBar
}

func NewProgressBars(out io.Writer) *ProgressBars {
	return &ProgressBars{out: out}
}

func (p *ProgressBars) Handle(e stabilize.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.out == nil {
		return
	}
	if p.bar == nil || p.stage != e.Stage {
		p.finishLocked()
		label := stageLabels[e.Stage]
		if label == "" {
			label = e.Stage
		}
		p.stage = e.Stage
		p.bar = progressbar.NewOptions(e.Total,
			progressbar.OptionSetDescription(label),
			progressbar.OptionSetWriter(p.out),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish(),
		)
	}
	_ = p.bar.Set(e.Done)
	if e.Done >= e.Total {
		p.finishLocked()
	}
}

// Finish closes the bar in flight, if any.
func (p *ProgressBars) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finishLocked()
}

func (p *ProgressBars) finishLocked() {
	if p.bar != nil {
		_ = p.bar.Finish()
		p.bar = nil
		p.stage = ""
	}
}
