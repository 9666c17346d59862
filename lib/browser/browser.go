// Package browser drives a headless chrome over the devtools protocol
// and hands out pages from an expiring pool.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("mailru.lib.browser")

type Config struct {
	// RemoteUrl connects to an already running chrome over devtools,
	// e.g. ws://127.0.0.1:9222. When empty a local chrome is launched.
	RemoteUrl string `json:"remote_url"`
	// ExecPath overrides the chrome binary looked up on $PATH.
	ExecPath string `json:"exec_path"`
}

// Browser is a lazily started chrome instance shared by all pages.
type Browser struct {
	config Config

	mu          sync.Mutex
	ctx         context.Context
	cancel      context.CancelFunc
	cancelAlloc context.CancelFunc
}

func NewBrowser(config Config) *Browser {
	return &Browser{config: config}
}

// start launches or connects to chrome on first use. The browser
// lives until Close, not until the first caller's context ends.
func (b *Browser) start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx != nil {
		return nil
	}

	_, span := tracer.Start(ctx, "browser:start")
	defer span.End()

	var allocCtx context.Context
	if b.config.RemoteUrl != "" {
		slog.DebugContext(ctx, "connecting to remote browser", "url", b.config.RemoteUrl)
		allocCtx, b.cancelAlloc = chromedp.NewRemoteAllocator(context.Background(), b.config.RemoteUrl)
	} else {
		slog.DebugContext(ctx, "launching headless browser")
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.WindowSize(800, 600))
		if b.config.ExecPath != "" {
			opts = append(opts, chromedp.ExecPath(b.config.ExecPath))
		}
		allocCtx, b.cancelAlloc = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	browserCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		slog.Debug(fmt.Sprintf(format, args...))
	}))
	if err := chromedp.Run(browserCtx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to start browser")
		cancel()
		b.cancelAlloc()
		b.cancelAlloc = nil
		return fmt.Errorf("start browser: %w", err)
	}

	b.ctx = browserCtx
	b.cancel = cancel
	return nil
}

// NewPage opens a tab, installs the cookies and navigates it to url.
func (b *Browser) NewPage(ctx context.Context, url string, cookies []Cookie) (*Page, error) {
	ctx, span := tracer.Start(ctx, "browser:NewPage", trace.WithAttributes(
		attribute.String("url", url),
	))
	defer span.End()

	if err := b.start(ctx); err != nil {
		return nil, err
	}

	b.mu.Lock()
	pageCtx, cancel := chromedp.NewContext(b.ctx)
	b.mu.Unlock()

	page := &Page{
		id:     uuid.New().String(),
		url:    url,
		ctx:    pageCtx,
		cancel: cancel,
	}
	err := page.run(ctx,
		chromedp.EmulateViewport(800, 600),
		setCookiesAction(cookies),
		chromedp.Navigate(url),
	)
	if err != nil {
		page.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open page")
		return nil, fmt.Errorf("open page %s: %w", url, err)
	}
	return page, nil
}

// Close shuts chrome down. Pages handed out before are dead afterwards.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ctx == nil {
		return nil
	}
	err := chromedp.Cancel(b.ctx)
	b.cancel()
	b.cancelAlloc()
	b.ctx = nil
	b.cancel = nil
	b.cancelAlloc = nil
	return err
}
