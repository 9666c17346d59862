package browser

import (
	"net/http"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
)

// Cookie is the serializable cookie shape shared between http
// sessions, the headless browser and the keychain store.
type Cookie struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Domain string `json:"domain"`
	Path   string `json:"path"`
	// Expires is unix seconds, zero for session cookies.
	Expires  int64 `json:"expires,omitempty"`
	Secure   bool  `json:"secure,omitempty"`
	HttpOnly bool  `json:"http_only,omitempty"`
}

func FromHTTPCookie(c *http.Cookie) Cookie {
	var expires int64
	if !c.Expires.IsZero() {
		expires = c.Expires.Unix()
	}
	// domains widen to the dotted form so a cookie captured on
	// mail.ru still matches my.mail.ru inside the browser
	domain := c.Domain
	if domain != "" && !strings.HasPrefix(domain, ".") {
		domain = "." + domain
	}
	return Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   domain,
		Path:     c.Path,
		Expires:  expires,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
	}
}

func FromHTTPCookies(cookies []*http.Cookie) []Cookie {
	out := make([]Cookie, len(cookies))
	for i, c := range cookies {
		out[i] = FromHTTPCookie(c)
	}
	return out
}

func FromNetworkCookie(c *network.Cookie) Cookie {
	var expires int64
	if !c.Session && c.Expires > 0 {
		expires = int64(c.Expires)
	}
	return Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  expires,
		Secure:   c.Secure,
		HttpOnly: c.HTTPOnly,
	}
}

// HTTPCookie converts back to the stdlib shape.
func (c Cookie) HTTPCookie() *http.Cookie {
	out := &http.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HttpOnly: c.HttpOnly,
	}
	if c.Expires > 0 {
		out.Expires = time.Unix(c.Expires, 0)
	}
	return out
}

func (c Cookie) param() *network.CookieParam {
	p := &network.CookieParam{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Secure:   c.Secure,
		HTTPOnly: c.HttpOnly,
	}
	if c.Expires > 0 {
		expires := cdp.TimeSinceEpoch(time.Unix(c.Expires, 0))
		p.Expires = &expires
	}
	return p
}
