package platform

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"mailru-platform/lib/telemetry"

	"github.com/stretchr/testify/require"
)

func TestTokenSessionRequest(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:platform")
	defer cleanup()

	var gotPath string
	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query()
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		w.Write([]byte(`{"ok": 1}`))
	}))
	defer server.Close()

	creds := Credentials{
		AppId:       "123",
		Uid:         "789",
		PrivateKey:  "private key",
		AccessToken: "session key",
	}
	session, err := NewTokenSession(context.Background(), creds, SessionOptions{
		BaseUrl: server.URL,
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	raw, err := session.Request(ctx, Params{
		"method": "stream.get",
		"a":      1,
		"empty":  "",
		"zero":   0,
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"ok": 1}`, string(raw))

	require.Equal(t, "/api", gotPath)
	require.Equal(t, "stream.get", gotQuery.Get("method"))
	require.Equal(t, "1", gotQuery.Get("a"))
	require.Equal(t, "123", gotQuery.Get("app_id"))
	require.Equal(t, "session key", gotQuery.Get("session_key"))

	// empty caller values must not reach the wire or the signature
	require.False(t, gotQuery.Has("empty"))
	require.False(t, gotQuery.Has("zero"))

	expectedSig, err := Sign(Params{
		"method":      "stream.get",
		"a":           1,
		"app_id":      "123",
		"session_key": "session key",
	}, creds)
	require.NoError(t, err)
	require.Equal(t, expectedSig, gotQuery.Get("sig"))
}

func TestTokenSessionServerCircuit(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:platform")
	defer cleanup()

	var gotQuery url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	session, err := NewTokenSession(context.Background(), Credentials{
		AppId:       "123",
		SecretKey:   "secret key",
		AccessToken: "session key",
	}, SessionOptions{BaseUrl: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	require.Equal(t, ServerServer, session.Circuit())

	_, err = session.Request(context.Background(), Params{"method": "users.getInfo"})
	require.NoError(t, err)
	require.Equal(t, "1", gotQuery.Get("secure"))
}

func TestSessionPresets(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:platform")
	defer cleanup()

	cs, err := NewClientSession(context.Background(), "123", "private key", "token", "789", SessionOptions{})
	require.NoError(t, err)
	require.Equal(t, ClientServer, cs.Circuit())

	ss, err := NewServerSession(context.Background(), "123", "secret key", "token", SessionOptions{})
	require.NoError(t, err)
	require.Equal(t, ServerServer, ss.Circuit())
	require.Equal(t, "1", ss.RequiredParams()["secure"])
}

func TestTokenSessionErrorPayload(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:platform")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": {"error_code": -1, "error_msg": "test error msg"}}`))
	}))
	defer server.Close()

	session, err := NewTokenSession(context.Background(), Credentials{
		AppId:     "123",
		SecretKey: "secret key",
	}, SessionOptions{BaseUrl: server.URL})
	if err != nil {
		t.Fatal(err)
	}

	_, err = session.Request(context.Background(), Params{"method": "users.getInfo"})
	require.Error(t, err)

	var apiErr *Error
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, -1, apiErr.Code)
	require.Equal(t, "test error msg", apiErr.Msg)
	require.EqualError(t, apiErr, "Error -1: test error msg")
}

func TestTokenSessionFlatErrorPayload(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:platform")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error_code": 202, "error_msg": "Access to this object is denied"}`))
	}))
	defer server.Close()

	session, err := NewTokenSession(context.Background(), Credentials{
		AppId:     "123",
		SecretKey: "secret key",
	}, SessionOptions{BaseUrl: server.URL})
	if err != nil {
		t.Fatal(err)
	}

	_, err = session.Request(context.Background(), Params{"method": "stream.get"})
	require.ErrorIs(t, err, AccessDenied)
}

func TestTokenSessionPassErrors(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:platform")
	defer cleanup()

	body := `{"error": {"error_code": 202, "error_msg": "empty groups"}}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(body))
	}))
	defer server.Close()

	session, err := NewTokenSession(context.Background(), Credentials{
		AppId:     "123",
		SecretKey: "secret key",
	}, SessionOptions{BaseUrl: server.URL, PassErrors: true})
	if err != nil {
		t.Fatal(err)
	}

	raw, err := session.Request(context.Background(), Params{"method": "groups.get"})
	require.NoError(t, err)
	require.JSONEq(t, body, string(raw))
}

func TestSessionStatusError(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:platform")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("unavailable"))
	}))
	defer server.Close()

	{
		session, err := NewPublicSession(context.Background(), SessionOptions{BaseUrl: server.URL})
		if err != nil {
			t.Fatal(err)
		}
		_, err = session.Request(context.Background(), nil, nil)
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		require.Equal(t, http.StatusServiceUnavailable, statusErr.Status)
	}
	{
		// with the status check off the body still has to be json
		session, err := NewPublicSession(context.Background(), SessionOptions{
			BaseUrl:         server.URL,
			SkipStatusCheck: true,
		})
		if err != nil {
			t.Fatal(err)
		}
		_, err = session.Request(context.Background(), nil, nil)
		require.Error(t, err)
		require.NotErrorIs(t, err, EmptyResponse)
	}
}

func TestSessionEmptyResponse(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:platform")
	defer cleanup()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	session, err := NewPublicSession(context.Background(), SessionOptions{BaseUrl: server.URL})
	if err != nil {
		t.Fatal(err)
	}
	_, err = session.Request(context.Background(), nil, nil)
	require.ErrorIs(t, err, EmptyResponse)
}

func TestPublicSessionSegments(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:platform")
	defer cleanup()

	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Write([]byte(`{"uid": "456"}`))
	}))
	defer server.Close()

	session, err := NewPublicSession(context.Background(), SessionOptions{BaseUrl: server.URL})
	if err != nil {
		t.Fatal(err)
	}

	raw, err := session.Request(context.Background(), []string{"mail", "john.doe"}, nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"uid": "456"}`, string(raw))
	require.Equal(t, "/mail/john.doe", gotPath)
}

func TestSessionCookies(t *testing.T) {
	cleanup := telemetry.SetupForTesting("test:platform")
	defer cleanup()

	session, err := NewPublicSession(context.Background(), SessionOptions{})
	if err != nil {
		t.Fatal(err)
	}
	session.SetCookies([]*http.Cookie{
		{Name: "Mpop", Value: "abc", Domain: ".mail.ru", Path: "/"},
		{Name: "sdcs", Value: "def", Path: "/"},
	})
	require.Len(t, session.Cookies(), 2)
}
