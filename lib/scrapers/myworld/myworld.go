// Package myworld scrapes the my.mail.ru frontend for data the
// platform REST API stopped exposing. It offers the same calling
// convention as the api facade and falls back to it for everything it
// does not implement.
package myworld

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mailru-platform/lib/browser"
	"mailru-platform/lib/platform"
)

var tracer = otel.Tracer("mailru.lib.scrapers.myworld")

// MyWorldUrl is the web frontend the scrapers drive.
const MyWorldUrl = "https://my.mail.ru"

var (
	NoCookies         = fmt.Errorf("session has no cookies to authenticate pages with")
	PaginationStalled = fmt.Errorf("pagination stalled")
)

// ScrapeError reports a page that does not match the markup a scraper
// expects, as opposed to an api or data error.
type ScrapeError struct {
	Method string
	Detail string
}

func (e *ScrapeError) Error() string {
	return fmt.Sprintf("scrape %s: %s", e.Method, e.Detail)
}

// Page is the browser surface the scrape machines drive.
// *browser.Page implements it.
type Page interface {
	Url() string
	Html(ctx context.Context, selector string) ([]string, error)
	Attribute(ctx context.Context, selector, name string) (string, bool, error)
	Exists(ctx context.Context, selector string) (bool, error)
	Visible(ctx context.Context, selector string) (bool, error)
	Click(ctx context.Context, selector string) error
	Evaluate(ctx context.Context, expression string) error
}

// PageSource hands out authenticated pages, normally the browser pool.
type PageSource interface {
	Page(ctx context.Context, req browser.PageRequest) (Page, error)
}

type poolSource struct {
	pool *browser.Pool
}

func (s poolSource) Page(ctx context.Context, req browser.PageRequest) (Page, error) {
	return s.pool.Page(ctx, req)
}

// PoolSource adapts the browser page pool to the PageSource interface.
func PoolSource(pool *browser.Pool) PageSource {
	return poolSource{pool}
}

type Options struct {
	// PollAttempts bounds every wait-for-the-ui loop, default 30.
	PollAttempts int
	// PollDelay is the pause between ui polls, default 500ms.
	PollDelay time.Duration
	// Resolver overrides the public slug lookup, mostly for tests.
	Resolver LinkResolver
}

// Scraper drives browser pages behind the api calling convention.
type Scraper struct {
	api      *platform.API
	session  *platform.TokenSession
	pages    PageSource
	resolver LinkResolver
	attempts int
	delay    time.Duration
}

func NewScraper(session *platform.TokenSession, pages PageSource, options Options) *Scraper {
	if options.PollAttempts <= 0 {
		options.PollAttempts = 30
	}
	if options.PollDelay <= 0 {
		options.PollDelay = time.Millisecond * 500
	}
	resolver := options.Resolver
	if resolver == nil {
		resolver = NewLinkResolver()
	}
	return &Scraper{
		api:      platform.NewAPI(session),
		session:  session,
		pages:    pages,
		resolver: resolver,
		attempts: options.PollAttempts,
		delay:    options.PollDelay,
	}
}

// API exposes the underlying facade for plain rest calls.
func (s *Scraper) API() *platform.API {
	return s.api
}

type scrapeFunc func(*Scraper, context.Context, platform.Params) (json.RawMessage, error)

var scrapers = map[string]scrapeFunc{
	"groups.get":         (*Scraper).scrapeGroupsGet,
	"groups.getInfo":     (*Scraper).scrapeGroupsGetInfo,
	"groups.join":        (*Scraper).scrapeGroupsJoin,
	"stream.getByAuthor": (*Scraper).scrapeStreamGetByAuthor,
}

// Call behaves like the api facade. When params carries a truthy
// "scrape" flag and the method has a registered scraper, the browser
// path runs instead of the signed api request.
func (s *Scraper) Call(ctx context.Context, method string, params platform.Params) (json.RawMessage, error) {
	scrape, params := popScrapeFlag(params)
	handler, registered := scrapers[method]
	if !scrape || !registered {
		return s.api.Call(ctx, method, params)
	}

	ctx, span := tracer.Start(ctx, "scraper:Call", trace.WithAttributes(
		attribute.String("method", method),
	))
	defer span.End()

	result, err := handler(s, ctx, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scrape failed")
		return nil, err
	}
	return result, nil
}

// popScrapeFlag removes the scraper-layer directive so it never leaks
// into the wire params.
func popScrapeFlag(params platform.Params) (bool, platform.Params) {
	v, ok := params["scrape"]
	if !ok {
		return false, params
	}
	out := make(platform.Params, len(params))
	for key, value := range params {
		if key == "scrape" {
			continue
		}
		out[key] = value
	}
	return truthy(v), out
}

// Method mirrors the api facade's bound method values.
type Method struct {
	scraper *Scraper
	name    string
}

func (s *Scraper) Method(name string) Method {
	return Method{scraper: s, name: name}
}

func (m Method) Method(name string) Method {
	return Method{scraper: m.scraper, name: m.name + "." + name}
}

func (m Method) Name() string {
	return m.name
}

func (m Method) Call(ctx context.Context, params platform.Params) (json.RawMessage, error) {
	return m.scraper.Call(ctx, m.name, params)
}

// page fetches an authenticated page from the source, refusing to
// navigate anywhere without session cookies.
func (s *Scraper) page(ctx context.Context, url string, fresh bool) (Page, error) {
	cookies := s.session.Cookies()
	if len(cookies) == 0 {
		return nil, NoCookies
	}
	return s.pages.Page(ctx, browser.PageRequest{
		Url:        url,
		SessionKey: s.session.Credentials().AccessToken,
		Cookies:    browser.FromHTTPCookies(cookies),
		Fresh:      fresh,
	})
}

// lookupUsers resolves user records over the normal api. With
// pass-through enabled a failed lookup comes back as the raw body in
// the second return instead of an error.
func (s *Scraper) lookupUsers(ctx context.Context, uids string) ([]platform.User, json.RawMessage, error) {
	params := platform.Params{}
	if uids != "" {
		params["uids"] = uids
	}
	body, err := s.api.Call(ctx, "users.getInfo", params)
	if err != nil {
		return nil, nil, err
	}
	var users []platform.User
	if err := json.Unmarshal(body, &users); err != nil {
		if s.session.PassErrors() {
			return nil, body, nil
		}
		return nil, nil, fmt.Errorf("users.getInfo returned an unexpected payload: %w", err)
	}
	if len(users) == 0 {
		return nil, nil, platform.EmptyObjects
	}
	return users, nil, nil
}

// lookupGroups is the community flavor of lookupUsers.
func (s *Scraper) lookupGroups(ctx context.Context, uids string) ([]map[string]any, json.RawMessage, error) {
	body, err := s.api.Call(ctx, "groups.getInfo", platform.Params{"uids": uids})
	if err != nil {
		return nil, nil, err
	}
	var records []map[string]any
	if err := json.Unmarshal(body, &records); err != nil {
		if s.session.PassErrors() {
			return nil, body, nil
		}
		return nil, nil, fmt.Errorf("groups.getInfo returned an unexpected payload: %w", err)
	}
	if len(records) == 0 {
		return nil, nil, platform.EmptyGroups
	}
	return records, nil, nil
}

// sleep waits one poll interval unless the context dies first.
func (s *Scraper) sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(s.delay):
		return nil
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int32:
		return t != 0
	case int64:
		return t != 0
	case uint:
		return t != 0
	case float32:
		return t != 0
	case float64:
		return t != 0
	}
	return true
}

func stringParam(params platform.Params, key string) string {
	switch t := params[key].(type) {
	case nil:
		return ""
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func intParam(params platform.Params, key string, fallback int) int {
	switch t := params[key].(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n)
		}
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return fallback
}
