// Package oauth negotiates Mail.Ru Platform access tokens in the four
// flows the platform supports: authorization code, password, refresh
// and the browserless implicit flow that drives the html login dialog
// directly.
package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"

	"mailru-platform/lib/telemetry"
)

var tracer = otel.Tracer("mailru.lib.oauth")

const (
	// TokenUrl issues password and refresh grants.
	TokenUrl = "https://appsmail.ru/oauth/token"
	// ConnectTokenUrl issues authorization code grants.
	ConnectTokenUrl = "https://connect.mail.ru/oauth/token"
	// AuthorizeUrl renders the login dialog of the implicit flow.
	AuthorizeUrl = "https://connect.mail.ru/oauth/authorize"
	// SuccessUrl is where the implicit flow lands once authorized,
	// with the token riding in the url fragment.
	SuccessUrl = "https://connect.mail.ru/oauth/success.html"
)

// FullScope names every permission the platform hands out.
func FullScope() string {
	return "photos guestbook stream messages events"
}

// Token is a negotiated access token. Uid carries the x_mailru_vid
// field of the token response.
type Token struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
	Uid          string
}

// ExpiresAt converts the relative lifetime into a deadline. Tokens
// without a lifetime never expire and return the zero time.
func (t Token) ExpiresAt(from time.Time) time.Time {
	if t.ExpiresIn <= 0 {
		return time.Time{}
	}
	return from.Add(time.Duration(t.ExpiresIn) * time.Second)
}

// Error is an oauth endpoint failure, either parsed from an error
// payload or synthesized by the client.
type Error struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code && t.Description == e.Description
}

var (
	InvalidGrant          = &Error{Code: "invalid_grant", Description: "invalid login or password"}
	InvalidClient         = &Error{Code: "invalid_client", Description: "invalid client id"}
	InvalidUser           = &Error{Code: "invalid_user", Description: "user is blocked"}
	ClientNotAvailable    = &Error{Code: "client_not_available", Description: "application is in the test mode"}
	LoginAttemptsExceeded = &Error{Code: "oauth_error", Description: "login attempts exceeded"}
)

// Grant negotiates an access token in one of the supported flows.
type Grant interface {
	Negotiate(ctx context.Context) (Token, error)
}

func newClient() *resty.Client {
	client := resty.New()
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetTimeout(time.Second * 30)
	telemetry.InstrumentResty(client, "oauth/http")
	return client
}

// decodeToken reads a token endpoint response. Known error codes map
// onto the typed errors above, other payloads must carry both an
// access and a refresh token. Numeric fields arrive as numbers or
// strings depending on the endpoint, both are accepted.
func decodeToken(body []byte) (Token, error) {
	fields := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return Token{}, &Error{
			Code:        "oauth_error",
			Description: fmt.Sprintf("token endpoint returned a non-json response: %.256s", string(body)),
		}
	}

	if code, ok := fields["error"].(string); ok {
		switch code {
		case InvalidGrant.Code:
			return Token{}, InvalidGrant
		case InvalidClient.Code:
			return Token{}, InvalidClient
		case InvalidUser.Code:
			return Token{}, InvalidUser
		case ClientNotAvailable.Code:
			return Token{}, ClientNotAvailable
		}
		desc, _ := fields["error_description"].(string)
		return Token{}, &Error{Code: code, Description: desc}
	}

	for _, key := range []string{"access_token", "refresh_token"} {
		if _, ok := fields[key]; !ok {
			return Token{}, &Error{
				Code:        "oauth_error",
				Description: fmt.Sprintf("token response is missing %q", key),
			}
		}
	}

	tok := Token{}
	tok.AccessToken, _ = fields["access_token"].(string)
	tok.RefreshToken, _ = fields["refresh_token"].(string)
	tok.TokenType, _ = fields["token_type"].(string)
	tok.ExpiresIn = asInt64(fields["expires_in"])
	tok.Uid = asString(fields["x_mailru_vid"])
	return tok, nil
}

func asInt64(v any) int64 {
	switch t := v.(type) {
	case json.Number:
		n, _ := t.Int64()
		return n
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	}
	return 0
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	}
	return ""
}
