package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// API dispatches REST calls by dotted method name over a token
// session.
type API struct {
	session *TokenSession
}

func NewAPI(session *TokenSession) *API {
	return &API{session: session}
}

// Session exposes the underlying token session.
func (a *API) Session() *TokenSession {
	return a.session
}

// Call invokes a method by its dotted name, e.g. "users.getInfo".
func (a *API) Call(ctx context.Context, method string, params Params) (json.RawMessage, error) {
	if method == "" {
		return nil, fmt.Errorf("api method name is empty")
	}

	ctx, span := tracer.Start(ctx, "api:Call", trace.WithAttributes(
		attribute.String("method", method),
	))
	defer span.End()

	merged := make(Params, len(params)+1)
	for k, v := range params {
		merged[k] = v
	}
	merged["method"] = method

	raw, err := a.session.Request(ctx, merged)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "api call failed")
		return nil, err
	}
	return raw, nil
}

// Method builds a handle on a method name, chainable into namespaced
// names: api.Method("users").Method("getInfo") calls "users.getInfo".
type Method struct {
	api  *API
	name string
}

func (a *API) Method(name string) Method {
	return Method{api: a, name: name}
}

func (m Method) Method(name string) Method {
	return Method{api: m.api, name: m.name + "." + name}
}

func (m Method) Name() string {
	return m.name
}

func (m Method) Call(ctx context.Context, params Params) (json.RawMessage, error) {
	return m.api.Call(ctx, m.name, params)
}

// User is the slice of a users.getInfo record the scraper layers rely
// on.
type User struct {
	Uid       string `json:"uid"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Nick      string `json:"nick"`
	Email     string `json:"email"`
	Link      string `json:"link"`
}

// UsersGetInfo fetches profiles for the given uids, or the current
// user's profile when none are passed. An empty result surfaces
// EmptyObjects.
func (a *API) UsersGetInfo(ctx context.Context, uids ...string) ([]User, error) {
	params := Params{}
	if len(uids) > 0 {
		params["uids"] = strings.Join(uids, ",")
	}
	raw, err := a.Call(ctx, "users.getInfo", params)
	if err != nil {
		return nil, err
	}

	var users []User
	if err := json.Unmarshal(raw, &users); err != nil {
		return nil, fmt.Errorf("users.getInfo returned an unexpected shape: %w", err)
	}
	if len(users) == 0 {
		return nil, EmptyObjects
	}
	return users, nil
}
