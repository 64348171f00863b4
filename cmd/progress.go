package cmd

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/eida/wfcc/pkg/bus"
	"github.com/eida/wfcc/pkg/bus/events"
)

// progress reports run events on a terminal with a spinner. When w is not a
// terminal it only logs phase changes.
type progress struct {
	spinner *spinner.Spinner
	mu      sync.Mutex
	phase   events.Phase
	started time.Time
}

func newProgress(w io.Writer) *progress {
	p := &progress{}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		p.spinner = spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w)) // Spinner: ⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏
	}
	return p
}

func (p *progress) subscribe(b bus.Subscriber) error {
	if err := b.Subscribe(events.TopicPhase, p.onPhase); err != nil {
		return fmt.Errorf("subscribing to phase events: %w", err)
	}
	if err := b.Subscribe(events.TopicProgress, p.onProgress); err != nil {
		return fmt.Errorf("subscribing to progress events: %w", err)
	}
	return nil
}

func (p *progress) onPhase(v events.PhaseView) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if v.Done {
		log.Infow("phase complete", "phase", v.Phase, "took", v.At.Sub(p.started).Round(time.Millisecond))
		return
	}
	p.phase = v.Phase
	p.started = v.At
	if p.spinner == nil {
		log.Infow("phase started", "phase", v.Phase)
		return
	}
	p.setSuffix(fmt.Sprintf(" %s", v.Phase))
	if !p.spinner.Active() {
		p.spinner.Start()
	}
}

func (p *progress) onProgress(v events.ProgressView) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.spinner == nil {
		return
	}
	suffix := fmt.Sprintf(" %s: %s files", p.phase, humanize.Comma(int64(v.Classified)))
	if v.BytesHashed > 0 {
		suffix += fmt.Sprintf(", %s checksummed", humanize.IBytes(uint64(v.BytesHashed)))
	}
	p.setSuffix(suffix)
}

func (p *progress) setSuffix(s string) {
	p.spinner.Lock()
	p.spinner.Suffix = s
	p.spinner.Unlock()
}

func (p *progress) stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.spinner != nil {
		p.spinner.Stop()
	}
}
