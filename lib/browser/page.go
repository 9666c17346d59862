package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// Page is a single browser tab. Methods take the caller's context for
// cancellation but the tab itself stays open until Close.
type Page struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc

	mu  sync.Mutex
	url string
}

func (p *Page) Id() string {
	return p.id
}

// Url returns the url the page was last navigated to.
func (p *Page) Url() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// run executes devtools actions on the tab, honoring cancellation of
// the caller's context without tearing the tab down with it.
func (p *Page) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return nil
}

// Html returns the outer html of every node matching the selector, in
// document order.
func (p *Page) Html(ctx context.Context, selector string) ([]string, error) {
	js := fmt.Sprintf(`Array.from(document.querySelectorAll(%q)).map(n => n.outerHTML)`, selector)
	var out []string
	if err := p.run(ctx, chromedp.Evaluate(js, &out)); err != nil {
		return nil, fmt.Errorf("read %q: %w", selector, err)
	}
	return out, nil
}

// Attribute reads an attribute off the first node matching the
// selector. The second return reports whether the node exists and
// carries the attribute.
func (p *Page) Attribute(ctx context.Context, selector, name string) (string, bool, error) {
	js := fmt.Sprintf(`(() => {
		const n = document.querySelector(%q);
		return n && n.hasAttribute(%q) ? [n.getAttribute(%q)] : [];
	})()`, selector, name, name)
	var out []string
	if err := p.run(ctx, chromedp.Evaluate(js, &out)); err != nil {
		return "", false, fmt.Errorf("read attribute %s of %q: %w", name, selector, err)
	}
	if len(out) == 0 {
		return "", false, nil
	}
	return out[0], true, nil
}

func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	js := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	var out bool
	if err := p.run(ctx, chromedp.Evaluate(js, &out)); err != nil {
		return false, fmt.Errorf("query %q: %w", selector, err)
	}
	return out, nil
}

func (p *Page) Visible(ctx context.Context, selector string) (bool, error) {
	js := fmt.Sprintf(`(() => {
		const n = document.querySelector(%q);
		if (!n) return false;
		const r = n.getBoundingClientRect();
		return r.width > 0 && r.height > 0;
	})()`, selector)
	var out bool
	if err := p.run(ctx, chromedp.Evaluate(js, &out)); err != nil {
		return false, fmt.Errorf("query %q: %w", selector, err)
	}
	return out, nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	js := fmt.Sprintf(`(() => {
		const n = document.querySelector(%q);
		if (!n) return false;
		n.click();
		return true;
	})()`, selector)
	var clicked bool
	if err := p.run(ctx, chromedp.Evaluate(js, &clicked)); err != nil {
		return fmt.Errorf("click %q: %w", selector, err)
	}
	if !clicked {
		return fmt.Errorf("click %q: no such element", selector)
	}
	return nil
}

// Evaluate runs a javascript expression on the page, discarding its
// result.
func (p *Page) Evaluate(ctx context.Context, expression string) error {
	return p.run(ctx, chromedp.Evaluate(expression, nil))
}

func (p *Page) Cookies(ctx context.Context) ([]Cookie, error) {
	var cookies []Cookie
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cs, err := storage.GetCookies().Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cs {
			cookies = append(cookies, FromNetworkCookie(c))
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("read cookies: %w", err)
	}
	return cookies, nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []Cookie) error {
	if err := p.run(ctx, setCookiesAction(cookies)); err != nil {
		return fmt.Errorf("set cookies: %w", err)
	}
	return nil
}

// Close closes the tab.
func (p *Page) Close() error {
	p.cancel()
	return nil
}

func setCookiesAction(cookies []Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if len(cookies) == 0 {
			return nil
		}
		params := make([]*network.CookieParam, len(cookies))
		for i, c := range cookies {
			params[i] = c.param()
		}
		return network.SetCookies(params).Do(ctx)
	})
}
