package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"mailru-platform/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, handler http.HandlerFunc) *API {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	session, err := NewTokenSession(context.Background(), Credentials{
		AppId:       "123",
		SecretKey:   "secret key",
		AccessToken: "session key",
	}, SessionOptions{BaseUrl: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	return NewAPI(session)
}

func TestAPICall(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:platform")
	defer cleanup()

	var gotQuery url.Values
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`{"count": 0}`))
	})

	raw, err := api.Call(context.Background(), "stream.get", Params{"limit": 5})
	require.NoError(t, err)
	require.JSONEq(t, `{"count": 0}`, string(raw))
	require.Equal(t, "stream.get", gotQuery.Get("method"))
	require.Equal(t, "5", gotQuery.Get("limit"))

	_, err = api.Call(context.Background(), "", nil)
	require.Error(t, err)
}

func TestMethodChain(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:platform")
	defer cleanup()

	var gotMethod string
	api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.URL.Query().Get("method")
		w.Write([]byte(`[]`))
	})

	users := api.Method("users")
	getInfo := users.Method("getInfo")
	require.Equal(t, "users.getInfo", getInfo.Name())

	_, err := getInfo.Call(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, "users.getInfo", gotMethod)

	// the parent handle is unaffected by chaining
	require.Equal(t, "users", users.Name())
}

func TestUsersGetInfo(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:platform")
	defer cleanup()

	{
		api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "1,2", r.URL.Query().Get("uids"))
			w.Write([]byte(`[
				{"uid": "1", "nick": "John", "link": "https://my.mail.ru/mail/john/"},
				{"uid": "2", "nick": "Jane", "link": "https://my.mail.ru/mail/jane/"}
			]`))
		})
		users, err := api.UsersGetInfo(context.Background(), "1", "2")
		require.NoError(t, err)
		require.Len(t, users, 2)
		require.Equal(t, "https://my.mail.ru/mail/john/", users[0].Link)
	}
	{
		api := newTestAPI(t, func(w http.ResponseWriter, r *http.Request) {
			require.False(t, r.URL.Query().Has("uids"))
			w.Write([]byte(`[]`))
		})
		_, err := api.UsersGetInfo(context.Background())
		require.ErrorIs(t, err, EmptyObjects)
	}
}
