package browser

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/mazen160/go-random"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

// PageRequest describes the page a caller wants.
type PageRequest struct {
	// Url the page is navigated to.
	Url string
	// SessionKey partitions cached pages between accounts.
	SessionKey string
	// Cookies are installed before navigation.
	Cookies []Cookie
	// Fresh skips the cache and opens an isolated page.
	Fresh bool
}

type PoolOptions struct {
	// Size bounds how many pages are cached at once, default 32.
	Size int
	// Ttl evicts pages idle for this long, default 15 minutes.
	Ttl time.Duration
	// Concurrency bounds parallel page opens, default 4.
	Concurrency int64
}

// Pool hands out pages cached by url and session key, so repeated
// scrapes of the same profile reuse the authenticated tab. Evicted
// pages are closed, callers should not hold one across calls.
type Pool struct {
	browser *Browser
	pages   *expirable.LRU[string, *Page]
	sem     *semaphore.Weighted
}

func NewPool(browser *Browser, options PoolOptions) *Pool {
	if options.Size <= 0 {
		options.Size = 32
	}
	if options.Ttl <= 0 {
		options.Ttl = time.Minute * 15
	}
	if options.Concurrency <= 0 {
		options.Concurrency = 4
	}

	pages := expirable.NewLRU(options.Size, func(key string, page *Page) {
		slog.Debug("closing evicted page", "url", page.Url())
		page.Close()
	}, options.Ttl)

	return &Pool{
		browser: browser,
		pages:   pages,
		sem:     semaphore.NewWeighted(options.Concurrency),
	}
}

func pageKey(req PageRequest) (string, error) {
	key := req.Url + "|" + req.SessionKey
	if !req.Fresh {
		return key, nil
	}
	suffix, err := random.String(12)
	if err != nil {
		return "", err
	}
	return key + "|" + suffix, nil
}

// Page returns a cached page for the request or opens a new one.
func (p *Pool) Page(ctx context.Context, req PageRequest) (*Page, error) {
	ctx, span := tracer.Start(ctx, "pool:Page", trace.WithAttributes(
		attribute.String("url", req.Url),
	))
	defer span.End()

	key, err := pageKey(req)
	if err != nil {
		return nil, err
	}
	if !req.Fresh {
		if page, hit := p.pages.Get(key); hit {
			return page, nil
		}
	}

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	// another caller may have opened it while we waited
	if !req.Fresh {
		if page, hit := p.pages.Get(key); hit {
			return page, nil
		}
	}

	page, err := p.browser.NewPage(ctx, req.Url, req.Cookies)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to open page")
		return nil, err
	}
	p.pages.Add(key, page)
	return page, nil
}

// Close evicts and closes every cached page. The browser itself is
// left to its owner.
func (p *Pool) Close() {
	p.pages.Purge()
}
