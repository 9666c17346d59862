package myworld

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"mailru-platform/lib/telemetry"
)

func TestLinkSlug(t *testing.T) {
	require.Equal(t, "kittens", linkSlug("https://my.mail.ru/community/kittens/"))
	require.Equal(t, "kittens", linkSlug("/community/kittens"))
	require.Equal(t, "john", linkSlug("https://my.mail.ru/mail/john"))
	require.Equal(t, "john", linkSlug("john"))
}

func TestPublicResolver(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:myworld")
	defer cleanup()

	hits := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte(`<html><body><div class="groups-profile" data-group-id="5396991818946538245"></div></body></html>`))
	}))
	t.Cleanup(server.Close)

	resolver := NewLinkResolver()

	uid, err := resolver.ResolveLink(context.Background(), server.URL+"/community/kittens")
	require.NoError(t, err)
	require.Equal(t, "5396991818946538245", uid)

	// the same slug resolves from the cache
	uid, err = resolver.ResolveLink(context.Background(), server.URL+"/community/kittens")
	require.NoError(t, err)
	require.Equal(t, "5396991818946538245", uid)
	require.Equal(t, 1, hits)
}

func TestPublicResolverErrors(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:myworld")
	defer cleanup()

	{ // a page without the uid marker
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html><body><p>moved</p></body></html>`))
		}))
		t.Cleanup(server.Close)

		_, err := NewLinkResolver().ResolveLink(context.Background(), server.URL+"/community/gone")
		require.ErrorContains(t, err, "no uid marker")
	}
	{
		server := httptest.NewServer(http.NotFoundHandler())
		t.Cleanup(server.Close)

		_, err := NewLinkResolver().ResolveLink(context.Background(), server.URL+"/community/missing")
		require.ErrorContains(t, err, "status 404")
	}
}
