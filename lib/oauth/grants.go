package oauth

import (
	"context"

	"go.opentelemetry.io/otel/codes"
)

// CodeGrant swaps an authorization code for a token.
type CodeGrant struct {
	ClientId     string
	ClientSecret string
	RedirectUri  string
	Code         string
	// Endpoint overrides ConnectTokenUrl, mostly for tests.
	Endpoint string
}

var _ Grant = CodeGrant{}

func (g CodeGrant) Negotiate(ctx context.Context) (Token, error) {
	ctx, span := tracer.Start(ctx, "grant:code")
	defer span.End()

	endpoint := g.Endpoint
	if endpoint == "" {
		endpoint = ConnectTokenUrl
	}

	res, err := newClient().R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id":     g.ClientId,
			"client_secret": g.ClientSecret,
			"grant_type":    "authorization_code",
			"redirect_uri":  g.RedirectUri,
			"code":          g.Code,
		}).
		Post(endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token request failed")
		return Token{}, err
	}

	tok, err := decodeToken(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token response rejected")
		return Token{}, err
	}
	return tok, nil
}

// PasswordGrant trades account credentials for a token. Scope falls
// back to FullScope when empty.
type PasswordGrant struct {
	ClientId     string
	ClientSecret string
	Email        string
	Password     string
	Scope        string
	// Endpoint overrides TokenUrl, mostly for tests.
	Endpoint string
}

var _ Grant = PasswordGrant{}

func (g PasswordGrant) Negotiate(ctx context.Context) (Token, error) {
	ctx, span := tracer.Start(ctx, "grant:password")
	defer span.End()

	endpoint := g.Endpoint
	if endpoint == "" {
		endpoint = TokenUrl
	}
	scope := g.Scope
	if scope == "" {
		scope = FullScope()
	}

	res, err := newClient().R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "password",
			"client_id":     g.ClientId,
			"client_secret": g.ClientSecret,
			"username":      g.Email,
			"password":      g.Password,
			"scope":         scope,
		}).
		Post(endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token request failed")
		return Token{}, err
	}

	tok, err := decodeToken(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token response rejected")
		return Token{}, err
	}
	return tok, nil
}

// RefreshGrant renews an expired token from its refresh token.
type RefreshGrant struct {
	ClientId     string
	ClientSecret string
	RefreshToken string
	// Endpoint overrides TokenUrl, mostly for tests.
	Endpoint string
}

var _ Grant = RefreshGrant{}

func (g RefreshGrant) Negotiate(ctx context.Context) (Token, error) {
	ctx, span := tracer.Start(ctx, "grant:refresh")
	defer span.End()

	endpoint := g.Endpoint
	if endpoint == "" {
		endpoint = TokenUrl
	}

	res, err := newClient().R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"client_id":     g.ClientId,
			"grant_type":    "refresh_token",
			"refresh_token": g.RefreshToken,
			"client_secret": g.ClientSecret,
		}).
		Post(endpoint)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token request failed")
		return Token{}, err
	}

	tok, err := decodeToken(res.Body())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token response rejected")
		return Token{}, err
	}
	return tok, nil
}
