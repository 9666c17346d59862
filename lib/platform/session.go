package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"mailru-platform/lib/telemetry"
)

// SessionOptions tunes transport behavior shared by every session
// kind.
type SessionOptions struct {
	// BaseUrl overrides DefaultBaseUrl, mostly for tests.
	BaseUrl string
	// PassErrors hands API error payloads back to the caller as
	// response bodies instead of raising them.
	PassErrors bool
	// SkipStatusCheck stops non-2xx responses without an error
	// payload from becoming a StatusError.
	SkipStatusCheck bool
	// Cookies seeds the session jar, e.g. with cookies captured
	// during an implicit authorization.
	Cookies []*http.Cookie
}

// PublicSession executes unsigned requests against public API paths
// such as profile slugs.
type PublicSession struct {
	BaseUrl *url.URL
	Http    *resty.Client

	opts    SessionOptions
	cookies []*http.Cookie
}

func NewPublicSession(ctx context.Context, opts SessionOptions) (*PublicSession, error) {
	if opts.BaseUrl == "" {
		opts.BaseUrl = DefaultBaseUrl
	}
	baseUrl, err := url.Parse(opts.BaseUrl)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(strings.TrimSuffix(opts.BaseUrl, "/"))
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)

	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(time.Second * 30)

	telemetry.InstrumentResty(client, "platform/http")

	s := &PublicSession{
		BaseUrl: baseUrl,
		Http:    client,
		opts:    opts,
	}
	if len(opts.Cookies) > 0 {
		s.SetCookies(opts.Cookies)
	}
	return s, nil
}

// SetCookies feeds cookies into the transport jar and remembers them
// so scraper layers can replay them inside a browser context. Cookies
// carrying their own domain are attached to that domain rather than
// the session base url.
func (s *PublicSession) SetCookies(cookies []*http.Cookie) {
	s.cookies = append(s.cookies, cookies...)
	jar := s.Http.GetClient().Jar
	if jar == nil {
		return
	}
	for _, c := range cookies {
		target := s.BaseUrl
		if c.Domain != "" {
			target = &url.URL{Scheme: "https", Host: strings.TrimPrefix(c.Domain, ".")}
		}
		jar.SetCookies(target, []*http.Cookie{c})
	}
}

// Cookies returns every cookie handed to the session so far.
func (s *PublicSession) Cookies() []*http.Cookie {
	return s.cookies
}

// PassErrors reports whether the session hands API error payloads back
// as response bodies.
func (s *PublicSession) PassErrors() bool {
	return s.opts.PassErrors
}

// Request performs an unsigned GET against the url assembled from
// path segments and decodes the platform response conventions.
func (s *PublicSession) Request(ctx context.Context, segments []string, params Params) (json.RawMessage, error) {
	ctx, span := tracer.Start(ctx, "session:Request")
	defer span.End()

	escaped := make([]string, len(segments))
	for i, seg := range segments {
		escaped[i] = url.PathEscape(seg)
	}
	span.SetAttributes(attribute.String("path", "/"+strings.Join(escaped, "/")))

	req := s.Http.R().SetContext(ctx)
	for k, v := range params {
		req.SetQueryParam(k, paramString(v))
	}
	res, err := req.Get("/" + strings.Join(escaped, "/"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return nil, err
	}

	raw, err := s.decode(res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "decode failed")
		return nil, err
	}
	return raw, nil
}

// decode applies the response conventions shared by all sessions: an
// error payload wins over everything, then the HTTP status, then the
// body must be non-empty json.
func (s *PublicSession) decode(res *resty.Response) (json.RawMessage, error) {
	body := bytes.TrimSpace(res.Body())
	if apiErr := parseError(body); apiErr != nil {
		if s.opts.PassErrors {
			return json.RawMessage(body), nil
		}
		return nil, apiErr
	}
	if res.IsError() && !s.opts.SkipStatusCheck {
		return nil, &StatusError{Status: res.StatusCode(), Body: string(body)}
	}
	if len(body) == 0 {
		return nil, EmptyResponse
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("response is not json: %q", excerpt(body))
	}
	return json.RawMessage(body), nil
}

// parseError recognizes the two error payload shapes the platform
// uses: {"error": {"error_code": ..., "error_msg": ...}} and the same
// fields inlined at the top level.
func parseError(body []byte) *Error {
	candidate := body
	var wrapped struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &wrapped); err == nil && len(wrapped.Error) > 0 {
		candidate = wrapped.Error
	}

	var apiErr Error
	if err := json.Unmarshal(candidate, &apiErr); err != nil {
		return nil
	}
	if apiErr.Code == 0 && apiErr.Msg == "" {
		return nil
	}
	return &apiErr
}

func excerpt(body []byte) string {
	if len(body) > 256 {
		return string(body[:256]) + "..."
	}
	return string(body)
}

// TokenSession signs every request and calls the authenticated api
// endpoint. It embeds a PublicSession whose transport, jar and
// response conventions it shares.
type TokenSession struct {
	*PublicSession
	creds Credentials
}

func NewTokenSession(ctx context.Context, creds Credentials, opts SessionOptions) (*TokenSession, error) {
	public, err := NewPublicSession(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &TokenSession{PublicSession: public, creds: creds}, nil
}

// NewClientSession presets the credentials of the client-server
// circuit, for calls signed on behalf of a user.
func NewClientSession(ctx context.Context, appId, privateKey, accessToken, uid string, opts SessionOptions) (*TokenSession, error) {
	return NewTokenSession(ctx, Credentials{
		AppId:       appId,
		PrivateKey:  privateKey,
		AccessToken: accessToken,
		Uid:         uid,
	}, opts)
}

// NewServerSession presets the credentials of the server-server
// circuit, for calls signed with the application secret.
func NewServerSession(ctx context.Context, appId, secretKey, accessToken string, opts SessionOptions) (*TokenSession, error) {
	return NewTokenSession(ctx, Credentials{
		AppId:       appId,
		SecretKey:   secretKey,
		AccessToken: accessToken,
	}, opts)
}

// Credentials returns a copy of the session credentials.
func (s *TokenSession) Credentials() Credentials {
	return s.creds
}

// SetAccessToken swaps the access token, and the uid when one is
// given, after a grant refresh.
func (s *TokenSession) SetAccessToken(accessToken, uid string) {
	s.creds.AccessToken = accessToken
	if uid != "" {
		s.creds.Uid = uid
	}
}

// Circuit reports which signature circuit the session credentials
// select.
func (s *TokenSession) Circuit() Circuit {
	return DeriveCircuit(s.creds)
}

// RequiredParams returns the parameters merged into every signed
// request. session_key rides along even when empty, the remote
// signature rules expect it.
func (s *TokenSession) RequiredParams() Params {
	required := Params{
		"app_id":      s.creds.AppId,
		"session_key": s.creds.AccessToken,
	}
	if DeriveCircuit(s.creds) == ServerServer {
		required["secure"] = "1"
	}
	return required
}

// SignParams signs the given parameters with the session credentials.
func (s *TokenSession) SignParams(params Params) (string, error) {
	return Sign(params, s.creds)
}

// Request drops empty caller parameters, merges the required ones
// over them, signs the result and executes the call against the api
// endpoint.
func (s *TokenSession) Request(ctx context.Context, params Params) (json.RawMessage, error) {
	merged := make(Params, len(params)+3)
	for k, v := range params {
		if falsy(v) {
			continue
		}
		merged[k] = v
	}
	for k, v := range s.RequiredParams() {
		merged[k] = v
	}

	sig, err := s.SignParams(merged)
	if err != nil {
		return nil, err
	}
	merged["sig"] = sig

	return s.PublicSession.Request(ctx, []string{"api"}, merged)
}
