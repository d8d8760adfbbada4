package extractor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// Browser is a shared headless Chrome instance. It starts on the first Render
// and is reused for every later page; each page gets its own tab.
type Browser struct {
	opts    []chromedp.ExecAllocatorOption
	timeout time.Duration
	settle  time.Duration
	log     *slog.Logger

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

// NewBrowser configures a Browser without starting it. An empty execPath lets
// chromedp find Chrome on its own.
func NewBrowser(execPath string, timeout, settle time.Duration, log *slog.Logger) *Browser {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", true))
	if execPath != "" {
		opts = append(opts, chromedp.ExecPath(execPath))
	}
	return &Browser{
		opts:    opts,
		timeout: timeout,
		settle:  settle,
		log:     log,
	}
}

// Render navigates a new tab to url, waits for scripts to settle and returns
// the final document.
func (b *Browser) Render(ctx context.Context, url string) (*Page, error) {
	browserCtx, err := b.ensure()
	if err != nil {
		return nil, err
	}

	tabCtx, cancelTab := chromedp.NewContext(browserCtx)
	defer cancelTab()
	stop := context.AfterFunc(ctx, cancelTab)
	defer stop()
	tabCtx, cancel := context.WithTimeout(tabCtx, b.timeout)
	defer cancel()

	resp, err := chromedp.RunResponse(tabCtx, chromedp.Navigate(url))
	if err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}

	page := &Page{URL: url}
	if resp != nil {
		page.Status = int(resp.Status)
	}
	err = chromedp.Run(tabCtx,
		chromedp.Sleep(b.settle),
		chromedp.Location(&page.URL),
		chromedp.OuterHTML("html", &page.HTML, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("read page: %w", err)
	}
	return page, nil
}

// Close shuts the browser down. It is safe to call when it never started.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx == nil {
		return nil
	}
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.allocCancel()
	b.ctx, b.cancel, b.allocCancel = nil, nil, nil
	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	return nil
}

func (b *Browser) ensure() (context.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx != nil && b.ctx.Err() == nil {
		return b.ctx, nil
	}
	if b.cancel != nil {
		b.cancel()
		b.allocCancel()
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), b.opts...)
	ctx, cancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(ctx); err != nil {
		cancel()
		allocCancel()
		b.ctx, b.cancel, b.allocCancel = nil, nil, nil
		return nil, &LaunchError{Err: err}
	}

	b.log.Info("browser started")
	b.ctx, b.cancel, b.allocCancel = ctx, cancel, allocCancel
	return ctx, nil
}
