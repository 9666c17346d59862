package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"

	"mailru-platform/lib/htmlutil"
	"mailru-platform/lib/telemetry"
)

// Markers are the page fragments the implicit flow looks for to tell
// the login dialog states apart. The defaults match the production
// dialogs, which only speak Russian.
type Markers struct {
	// AppMissing shows up when the client id does not resolve to a
	// released application.
	AppMissing string
	// AccessRequired shows up on the consent dialog asking the user
	// to hand the application access to their data.
	AccessRequired string
	// UserBlocked shows up when the account is frozen.
	UserBlocked string
}

func DefaultMarkers() Markers {
	return Markers{
		AppMissing:     "Не указано приложение",
		AccessRequired: "запрашивает разрешение на доступ",
		UserBlocked:    "Пользователь заблокирован",
	}
}

func defaultDomains() []string {
	return []string{
		"connect.mail.ru",
		"auth.mail.ru",
		"account.mail.ru",
		"my.mail.ru",
		"e.mail.ru",
		"mail.ru",
		"appsmail.ru",
	}
}

// ImplicitGrant logs into the html authorization dialog and reads the
// token off the success page redirect. No browser is involved, the
// dialog is plain forms. Cookies collected on the way authenticate
// the scraper layer afterwards.
type ImplicitGrant struct {
	ClientId string
	Email    string
	Password string
	Scope    string
	// RedirectUri defaults to SuccessUrl.
	RedirectUri string
	// Endpoint overrides AuthorizeUrl, mostly for tests.
	Endpoint string
	// Markers falls back to DefaultMarkers when zero.
	Markers Markers
	// Attempts bounds how often a failed login is retried, default 3.
	Attempts int
	// RetryDelay is the pause between attempts, default one second.
	RetryDelay time.Duration
	// Domains is the redirect allowlist, defaulting to the mail.ru
	// hosts the dialog bounces between.
	Domains []string
}

var _ Grant = ImplicitGrant{}

func (g ImplicitGrant) Negotiate(ctx context.Context) (Token, error) {
	tok, _, err := g.NegotiateSession(ctx)
	return tok, err
}

// NegotiateSession negotiates the token and also returns every cookie
// the dialog set along the way.
func (g ImplicitGrant) NegotiateSession(ctx context.Context) (Token, []*http.Cookie, error) {
	ctx, span := tracer.Start(ctx, "grant:implicit")
	defer span.End()

	markers := g.Markers
	if markers == (Markers{}) {
		markers = DefaultMarkers()
	}
	attempts := g.Attempts
	if attempts <= 0 {
		attempts = 3
	}
	delay := g.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}

	recorder := &cookieRecorder{}
	client, err := g.newClient(recorder)
	if err != nil {
		return Token{}, nil, err
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			slog.WarnContext(ctx, "authorization attempt failed, retrying",
				"attempt", attempt, "err", lastErr)
			select {
			case <-ctx.Done():
				return Token{}, nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		tok, err := g.authorize(ctx, client, markers)
		if err == nil {
			return tok, recorder.all(), nil
		}
		if errors.Is(err, InvalidGrant) || errors.Is(err, InvalidClient) ||
			errors.Is(err, InvalidUser) || errors.Is(err, ClientNotAvailable) {
			span.RecordError(err)
			span.SetStatus(codes.Error, "authorization rejected")
			return Token{}, nil, err
		}
		lastErr = err
	}

	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "login attempts exceeded")
	return Token{}, nil, fmt.Errorf("%w: %v", LoginAttemptsExceeded, lastErr)
}

func (g ImplicitGrant) newClient(recorder *cookieRecorder) (*resty.Client, error) {
	client := resty.New()
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)

	recorder.next = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.GetClient().Transport = recorder

	domains := g.Domains
	if len(domains) == 0 {
		domains = defaultDomains()
	}
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(domains...))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "oauth/http")
	return client, nil
}

// authorize runs the dialog once: fetch it, log in, allow access when
// asked, then read the token off the success page fragment.
func (g ImplicitGrant) authorize(ctx context.Context, client *resty.Client, markers Markers) (Token, error) {
	endpoint := g.Endpoint
	if endpoint == "" {
		endpoint = AuthorizeUrl
	}
	redirectUri := g.RedirectUri
	if redirectUri == "" {
		redirectUri = SuccessUrl
	}
	authQuery := map[string]string{
		"client_id":     g.ClientId,
		"redirect_uri":  redirectUri,
		"response_type": "token",
	}
	if g.Scope != "" {
		authQuery["scope"] = g.Scope
	}

	res, err := client.R().SetContext(ctx).SetQueryParams(authQuery).Get(endpoint)
	if err != nil {
		return Token{}, err
	}
	if res.StatusCode() != http.StatusOK {
		return Token{}, &Error{
			Code:        "oauth_error",
			Description: fmt.Sprintf("authorization dialog returned status %d", res.StatusCode()),
		}
	}
	page := res.String()
	current := finalUrl(res)

	if strings.Contains(page, markers.AppMissing) {
		return Token{}, InvalidClient
	}

	// cookies from a previous attempt may skip the dialog entirely
	if tok, ok, err := tokenFromUrl(current); err != nil || ok {
		return tok, err
	}

	form, err := htmlutil.ParseForm(ctx, page)
	if err != nil {
		return Token{}, &Error{
			Code:        "oauth_error",
			Description: "authorization dialog did not contain a login form",
		}
	}
	screenName, domainName, err := splitEmail(g.Email)
	if err != nil {
		return Token{}, err
	}
	form.Fields["Login"] = screenName
	form.Fields["Domain"] = domainName + ".ru"
	form.Fields["Password"] = g.Password

	res, err = client.R().SetContext(ctx).SetFormData(form.Fields).Post(resolveUrl(current, form.Action))
	if err != nil {
		return Token{}, err
	}
	page = res.String()
	current = finalUrl(res)

	if current != nil && current.Query().Get("fail") == "1" {
		return Token{}, InvalidGrant
	}
	if strings.Contains(page, markers.UserBlocked) {
		return Token{}, InvalidUser
	}

	if strings.Contains(page, markers.AccessRequired) {
		form, err := htmlutil.ParseForm(ctx, page)
		if err != nil {
			return Token{}, &Error{
				Code:        "oauth_error",
				Description: "access dialog did not contain a form",
			}
		}
		res, err = client.R().SetContext(ctx).SetFormData(form.Fields).Post(resolveUrl(current, form.Action))
		if err != nil {
			return Token{}, err
		}
		page = res.String()
		current = finalUrl(res)
	}

	if tok, ok, err := tokenFromUrl(current); err != nil || ok {
		return tok, err
	}

	// the dialog is authorized by now, asking again redirects
	// straight to the success page with the token fragment
	res, err = client.R().SetContext(ctx).SetQueryParams(authQuery).Get(endpoint)
	if err != nil {
		return Token{}, err
	}
	tok, ok, err := tokenFromUrl(finalUrl(res))
	if err != nil {
		return Token{}, err
	}
	if !ok {
		if strings.Contains(res.String(), markers.UserBlocked) {
			return Token{}, InvalidUser
		}
		return Token{}, &Error{
			Code:        "oauth_error",
			Description: "authorization did not redirect to the success page",
		}
	}
	return tok, nil
}

func finalUrl(res *resty.Response) *url.URL {
	if res == nil || res.RawResponse == nil || res.RawResponse.Request == nil {
		return nil
	}
	return res.RawResponse.Request.URL
}

func resolveUrl(base *url.URL, action string) string {
	ref, err := url.Parse(action)
	if err != nil || base == nil {
		return action
	}
	return base.ResolveReference(ref).String()
}

// tokenFromUrl reads a token out of a success page url fragment. The
// second return is false when the url carries no fragment at all.
func tokenFromUrl(u *url.URL) (Token, bool, error) {
	if u == nil || u.Fragment == "" {
		return Token{}, false, nil
	}
	values, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return Token{}, false, err
	}
	for _, key := range []string{"access_token", "refresh_token"} {
		if values.Get(key) == "" {
			return Token{}, false, &Error{
				Code:        "oauth_error",
				Description: fmt.Sprintf("redirect fragment is missing %q", key),
			}
		}
	}

	expires, _ := strconv.ParseInt(values.Get("expires_in"), 10, 64)
	return Token{
		AccessToken:  values.Get("access_token"),
		RefreshToken: values.Get("refresh_token"),
		TokenType:    values.Get("token_type"),
		ExpiresIn:    expires,
		Uid:          values.Get("x_mailru_vid"),
	}, true, nil
}

var emailPattern = regexp.MustCompile(`^([a-zA-Z0-9_.+-]+)@([a-zA-Z0-9-]+)\.([a-zA-Z0-9-.]+)$`)

// splitEmail breaks a mailbox address into the screen name and the
// first label of its domain: "john@mail.ru" gives ("john", "mail").
// The login form wants them as separate fields.
func splitEmail(email string) (screenName, domainName string, err error) {
	groups := emailPattern.FindStringSubmatch(email)
	if groups == nil {
		return "", "", fmt.Errorf("cannot split email %q into a screen name and domain", email)
	}
	return groups[1], groups[2], nil
}

// cookieRecorder remembers the Set-Cookie of every response on the
// way through the dialog, including intermediate redirect hops the
// final response no longer shows.
type cookieRecorder struct {
	next    http.RoundTripper
	mu      sync.Mutex
	cookies []*http.Cookie
}

func (r *cookieRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	res, err := r.next.RoundTrip(req)
	if err != nil {
		return res, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range res.Cookies() {
		if c.Domain == "" {
			c.Domain = req.URL.Hostname()
		}
		r.cookies = append(r.cookies, c)
	}
	return res, nil
}

// all returns the recorded cookies deduplicated by name, domain and
// path, keeping the latest value of each.
func (r *cookieRecorder) all() []*http.Cookie {
	r.mu.Lock()
	defer r.mu.Unlock()

	type key struct {
		name, domain, path string
	}
	index := map[key]int{}
	out := []*http.Cookie{}
	for _, c := range r.cookies {
		k := key{c.Name, c.Domain, c.Path}
		if i, ok := index[k]; ok {
			out[i] = c
			continue
		}
		index[k] = len(out)
		out = append(out, c)
	}
	return out
}
