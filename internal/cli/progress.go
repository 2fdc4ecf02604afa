package cli

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
)

// progressSet owns one progressbar.ProgressBar per in-flight file,
// rendered to stderr so it never interleaves with logging (which the
// logger writes to stdout, see logging.NewDefault).
type progressSet struct {
	mu   sync.Mutex
	bars map[string]*progressbar.ProgressBar
}

func newProgressSet() *progressSet {
	return &progressSet{bars: make(map[string]*progressbar.ProgressBar)}
}

func (p *progressSet) bar(id, label string, total int64) *progressbar.ProgressBar {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.bars[id]; ok {
		return b
	}
	b := progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(label),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
		progressbar.OptionSetPredictTime(true),
	)
	p.bars[id] = b
	return b
}

func (p *progressSet) set(id, label string, total, current int64) {
	b := p.bar(id, label, total)
	b.Set64(current)
}

func (p *progressSet) finish(id string, err error) {
	p.mu.Lock()
	b, ok := p.bars[id]
	p.mu.Unlock()
	if !ok {
		return
	}
	b.Finish()
	if err != nil {
		fmt.Fprintf(os.Stderr, "✗ %s: %v\n", id, err)
	}
}

// pollInterval is how often the CLI polls GetState/GetAllStates to drive
// the progress bars; the engine itself has no push-based progress hook
// above the per-file terminal callback.
const pollInterval = 200 * time.Millisecond
