package progress

import (
	"io"
	"time"

	"github.com/vbauerster/mpb/v7"
	"github.com/vbauerster/mpb/v7/decor"
)

// Bar draws a console progress bar for a single download.
type Bar struct {
	p   *mpb.Progress
	bar *mpb.Bar
}

// NewBar starts a bar of total bytes labelled name, rendered to w.
func NewBar(w io.Writer, name string, total int64) *Bar {
	p := mpb.New(
		mpb.WithOutput(w),
		mpb.WithWidth(60),
		mpb.WithRefreshRate(180*time.Millisecond),
	)

	bar := p.New(total,
		mpb.BarStyle().Lbound("[").Filler("=").Tip(">").Padding("-").Rbound("|"),
		mpb.PrependDecorators(
			decor.Name(name+" ", decor.WC{W: len(name) + 1, C: decor.DidentRight}),
			decor.CountersKibiByte("\t% .2f / % .2f"),
		),
		mpb.AppendDecorators(
			decor.OnComplete(decor.AverageETA(decor.ET_STYLE_GO), "✅ "),
			decor.Name(" ] "),
			decor.AverageSpeed(decor.UnitKiB, "% .2f"),
		),
	)

	return &Bar{p: p, bar: bar}
}

// ProxyReader advances the bar by every byte read from r.
func (b *Bar) ProxyReader(r io.Reader) io.ReadCloser {
	return b.bar.ProxyReader(r)
}

// Finish waits for the bar to render its last frame. A bar that did not
// reach its total is aborted first so Finish never blocks on a failed transfer.
func (b *Bar) Finish() {
	if !b.bar.Completed() {
		b.bar.Abort(false)
	}

	b.p.Wait()
}
