package browser

import (
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestCookieRoundTrip(t *testing.T) {
	expires := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	{
		original := &http.Cookie{
			Name:     "Mpop",
			Value:    "1:abcdef",
			Domain:   ".mail.ru",
			Path:     "/",
			Expires:  expires,
			Secure:   true,
			HttpOnly: true,
		}
		back := FromHTTPCookie(original).HTTPCookie()
		require.Equal(t, original.Name, back.Name)
		require.Equal(t, original.Value, back.Value)
		require.Equal(t, original.Domain, back.Domain)
		require.Equal(t, original.Path, back.Path)
		require.True(t, original.Expires.Equal(back.Expires))
		require.Equal(t, original.Secure, back.Secure)
		require.Equal(t, original.HttpOnly, back.HttpOnly)
	}
	{
		// bare domains pick up a leading dot on the way in and keep it
		c := FromHTTPCookie(&http.Cookie{Name: "t", Value: "v", Domain: "mail.ru"})
		require.Equal(t, ".mail.ru", c.Domain)
		require.Equal(t, ".mail.ru", c.HTTPCookie().Domain)
	}
	{
		// a host-only session cookie stays undotted with zero expiry
		c := FromHTTPCookie(&http.Cookie{Name: "s", Value: "v"})
		require.Empty(t, c.Domain)
		require.Zero(t, c.Expires)
		require.True(t, c.HTTPCookie().Expires.IsZero())
	}
}

func TestCookieFromNetwork(t *testing.T) {
	{
		c := FromNetworkCookie(&network.Cookie{
			Name:     "Mpop",
			Value:    "1:abcdef",
			Domain:   ".my.mail.ru",
			Path:     "/",
			Expires:  1735776245,
			HTTPOnly: true,
		})
		require.Equal(t, int64(1735776245), c.Expires)
		require.True(t, c.HttpOnly)
	}
	{
		c := FromNetworkCookie(&network.Cookie{Name: "s", Value: "v", Expires: -1, Session: true})
		require.Zero(t, c.Expires)
	}
}

func TestCookieParam(t *testing.T) {
	{
		p := Cookie{
			Name:    "Mpop",
			Value:   "1:abcdef",
			Domain:  ".mail.ru",
			Path:    "/",
			Expires: 1735776245,
			Secure:  true,
		}.param()
		require.Equal(t, "Mpop", p.Name)
		require.Equal(t, ".mail.ru", p.Domain)
		require.NotNil(t, p.Expires)
		require.True(t, p.Secure)
	}
	{
		p := Cookie{Name: "s", Value: "v"}.param()
		require.Nil(t, p.Expires)
	}
}
