package download

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/shiquda/xyz-dl/internal/downloader"
)

const titleWidth = 30

// progressRenderer turns engine progress events into one mpb bar per
// task. Events arrive from worker goroutines; the bar map is guarded.
type progressRenderer struct {
	enabled   bool
	container *mpb.Progress

	mu   sync.Mutex
	bars map[string]*mpb.Bar
}

func newProgressRenderer(w io.Writer, enabled bool) *progressRenderer {
	if !enabled {
		return &progressRenderer{}
	}
	return &progressRenderer{
		enabled: true,
		container: mpb.New(
			mpb.WithOutput(w),
			mpb.WithRefreshRate(120*time.Millisecond),
		),
		bars: make(map[string]*mpb.Bar),
	}
}

func (p *progressRenderer) observe(ev downloader.ProgressEvent) {
	if !p.enabled {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	bar, ok := p.bars[ev.TaskID]
	if !ok {
		if ev.Phase == downloader.PhaseProbing {
			// no bar until the first byte count arrives
			return
		}
		bar = p.newBar(ev)
		p.bars[ev.TaskID] = bar
	}

	if ev.BytesTotal > 0 {
		bar.SetTotal(ev.BytesTotal, false)
	}
	bar.SetCurrent(ev.BytesDone)
	if ev.Phase == downloader.PhaseDone {
		// completes the bar even when the remote never reported a size
		bar.SetTotal(ev.BytesDone, true)
	}
}

func (p *progressRenderer) newBar(ev downloader.ProgressEvent) *mpb.Bar {
	name := fmt.Sprintf("%03d %s", ev.Index, truncateTitle(ev.Title))
	return p.container.AddBar(ev.BytesTotal,
		mpb.PrependDecorators(
			decor.Name(name+" ", decor.WC{W: len(name) + 1, C: decor.DindentRight}),
			decor.CountersKibiByte("% .1f / % .1f", decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.NewPercentage("%d", decor.WCSyncSpace),
			decor.OnComplete(
				decor.AverageSpeed(decor.SizeB1024(0), "% .1f", decor.WCSyncSpace), " done",
			),
		),
	)
}

// shutdown stops rendering without waiting for bars that will never
// complete, such as those of failed tasks.
func (p *progressRenderer) shutdown() {
	if p.enabled {
		p.container.Shutdown()
	}
}

func truncateTitle(title string) string {
	runes := []rune(title)
	if len(runes) <= titleWidth {
		return title
	}
	return string(runes[:titleWidth-1]) + "…"
}
