package main

import (
	"io"
	"sync"

	"github.com/nao1215/a11yscan/internal/scanner"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"
)

// scanProgress renders one progress bar per scanned site. The zero value
// renders nothing.
type scanProgress struct {
	p    *mpb.Progress
	mu   sync.Mutex
	bars map[string]*mpb.Bar
}

// newScanProgress creates the progress display on w.
func newScanProgress(w io.Writer, disabled bool) *scanProgress {
	if disabled {
		return &scanProgress{}
	}
	return &scanProgress{
		p:    mpb.New(mpb.WithOutput(w), mpb.WithWidth(40)),
		bars: make(map[string]*mpb.Bar),
	}
}

// track returns the scanner callback of one site. The bar is added once
// the crawl has fixed the number of pages.
func (sp *scanProgress) track(startURL string) scanner.ProgressFunc {
	if sp.p == nil {
		return nil
	}
	return func(_, total int, _ string, _ error) {
		sp.bar(startURL, total).Increment()
	}
}

func (sp *scanProgress) bar(startURL string, total int) *mpb.Bar {
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if bar, ok := sp.bars[startURL]; ok {
		return bar
	}
	bar := sp.p.AddBar(int64(total),
		mpb.PrependDecorators(
			decor.Name(startURL, decor.WCSyncWidth),
		),
		mpb.AppendDecorators(
			decor.CountersNoUnit("[%d / %d]", decor.WCSyncWidth),
			decor.Percentage(decor.WCSyncSpace),
			decor.OnComplete(
				decor.Elapsed(decor.ET_STYLE_GO, decor.WCSyncSpace), "done",
			),
		),
	)
	sp.bars[startURL] = bar
	return bar
}

// finish stops the bar of a site that ended before all pages were scanned.
func (sp *scanProgress) finish(startURL string) {
	if sp.p == nil {
		return
	}
	sp.mu.Lock()
	defer sp.mu.Unlock()

	if bar, ok := sp.bars[startURL]; ok && !bar.Completed() {
		bar.Abort(false)
	}
}

// Wait blocks until every bar has been rendered for the last time.
func (sp *scanProgress) Wait() {
	if sp.p != nil {
		sp.p.Wait()
	}
}
