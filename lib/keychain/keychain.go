// Package keychain persists negotiated tokens and the cookies that
// came with them, so repeated runs reuse a live session instead of
// going through the login dialog every time.
package keychain

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"mailru-platform/lib/browser"
	"mailru-platform/lib/keychain/db"
	"mailru-platform/lib/oauth"
	"mailru-platform/lib/platform"
)

var tracer = otel.Tracer("mailru.lib.keychain")

// Entry is one stored credential set, keyed by account and application.
type Entry struct {
	Account      string
	AppId        string
	AccessToken  string
	RefreshToken string
	TokenType    string
	Uid          string
	// ExpiresAt is zero for tokens without a lifetime.
	ExpiresAt time.Time
	Cookies   []*http.Cookie
}

// Expired reports whether the stored token has lapsed at now. Tokens
// without a deadline never expire.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

// Keychain is a sqlite backed credential store.
type Keychain struct {
	db *sql.DB

	// TokenEndpoint overrides the oauth url refresh grants hit, mostly
	// for tests.
	TokenEndpoint string
}

// Open opens the keychain database at path. Remote libsql urls go
// through the libsql driver, anything else is a local sqlite file
// created on first use.
func Open(path string) (*Keychain, error) {
	driver := "sqlite"
	if strings.HasPrefix(path, "libsql://") ||
		strings.HasPrefix(path, "wss://") ||
		strings.HasPrefix(path, "https://") {
		driver = "libsql"
	}

	database, err := sql.Open(driver, path)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// sqlite allows a single writer at a time
		database.SetMaxOpenConns(1)
		if _, err := database.Exec("PRAGMA journal_mode=WAL"); err != nil {
			database.Close()
			return nil, err
		}
	}

	kc, err := New(database)
	if err != nil {
		database.Close()
		return nil, err
	}
	return kc, nil
}

// New wraps an already opened database handle. The schema is applied
// here, it only creates what is missing.
func New(database *sql.DB) (*Keychain, error) {
	if _, err := database.Exec(db.Schema); err != nil {
		return nil, err
	}
	return &Keychain{db: database}, nil
}

func (k *Keychain) Close() error {
	return k.db.Close()
}

// Set stores the entry, replacing whatever the account held before.
func (k *Keychain) Set(ctx context.Context, entry Entry) error {
	if entry.Account == "" || entry.AppId == "" {
		return fmt.Errorf("keychain entries are keyed by account and app id, both must be set")
	}

	cookies, err := json.Marshal(browser.FromHTTPCookies(entry.Cookies))
	if err != nil {
		return err
	}
	var expiresAt int64
	if !entry.ExpiresAt.IsZero() {
		expiresAt = entry.ExpiresAt.Unix()
	}

	_, err = k.db.ExecContext(ctx, `
		INSERT INTO accounts (account, app_id, access_token, refresh_token, token_type, uid, expires_at, cookies)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (account, app_id) DO UPDATE SET
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_type = excluded.token_type,
			uid = excluded.uid,
			expires_at = excluded.expires_at,
			cookies = excluded.cookies`,
		entry.Account, entry.AppId, entry.AccessToken, entry.RefreshToken,
		entry.TokenType, entry.Uid, expiresAt, string(cookies))
	return err
}

// Get looks up the entry stored for the account under the application.
func (k *Keychain) Get(ctx context.Context, account, appId string) (Entry, bool, error) {
	row := k.db.QueryRowContext(ctx, `
		SELECT account, app_id, access_token, refresh_token, token_type, uid, expires_at, cookies
		FROM accounts WHERE account = ? AND app_id = ?`,
		account, appId)

	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	return entry, true, nil
}

// Delete drops the stored entry. Deleting a missing entry is not an
// error.
func (k *Keychain) Delete(ctx context.Context, account, appId string) error {
	_, err := k.db.ExecContext(ctx,
		`DELETE FROM accounts WHERE account = ? AND app_id = ?`, account, appId)
	return err
}

// Entries lists every stored credential set.
func (k *Keychain) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := k.db.QueryContext(ctx, `
		SELECT account, app_id, access_token, refresh_token, token_type, uid, expires_at, cookies
		FROM accounts ORDER BY account, app_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (Entry, error) {
	var entry Entry
	var expiresAt int64
	var cookies []byte

	err := row.Scan(&entry.Account, &entry.AppId, &entry.AccessToken,
		&entry.RefreshToken, &entry.TokenType, &entry.Uid, &expiresAt, &cookies)
	if err != nil {
		return Entry{}, err
	}

	if expiresAt > 0 {
		entry.ExpiresAt = time.Unix(expiresAt, 0)
	}
	if len(cookies) > 0 {
		var stored []browser.Cookie
		if err := json.Unmarshal(cookies, &stored); err != nil {
			return Entry{}, fmt.Errorf("stored cookies are corrupt: %w", err)
		}
		for _, c := range stored {
			entry.Cookies = append(entry.Cookies, c.HTTPCookie())
		}
	}
	return entry, nil
}

// App identifies a registered platform application.
type App struct {
	Id         string
	PrivateKey string
	SecretKey  string
}

// SessionGrant negotiates a token together with the cookies collected
// along the way.
type SessionGrant interface {
	NegotiateSession(ctx context.Context) (oauth.Token, []*http.Cookie, error)
}

// LoginRequest describes one account login.
type LoginRequest struct {
	App      App
	Email    string
	Password string
	// Scope defaults to oauth.FullScope().
	Scope string
	// Session tunes the sessions assembled from stored credentials.
	Session platform.SessionOptions
	// Grant overrides the implicit grant driving a fresh login, mostly
	// for tests.
	Grant SessionGrant
}

// Login assembles a signed session for the account, reusing the stored
// token while it is alive. A lapsed token is renewed through its
// refresh token first and through a fresh login when that fails.
// Whatever was negotiated ends up stored, cookies included.
func (k *Keychain) Login(ctx context.Context, req LoginRequest) (*platform.TokenSession, error) {
	ctx, span := tracer.Start(ctx, "keychain:Login")
	defer span.End()
	span.SetAttributes(attribute.String("account", req.Email))

	if req.Email == "" {
		return nil, fmt.Errorf("login needs an account email")
	}
	if req.App.Id == "" {
		return nil, fmt.Errorf("login needs an application id")
	}

	entry, ok, err := k.Get(ctx, req.Email, req.App.Id)
	if err != nil {
		return nil, err
	}
	if ok && !entry.Expired(time.Now()) {
		return k.session(ctx, req, entry)
	}
	if ok && entry.RefreshToken != "" {
		renewed, err := k.renew(ctx, req.App, entry)
		if err == nil {
			return k.session(ctx, req, renewed)
		}
		slog.WarnContext(ctx, "stored token refresh failed, logging in again",
			"account", req.Email, "err", err)
	}

	grant := req.Grant
	if grant == nil {
		scope := req.Scope
		if scope == "" {
			scope = oauth.FullScope()
		}
		grant = oauth.ImplicitGrant{
			ClientId: req.App.Id,
			Email:    req.Email,
			Password: req.Password,
			Scope:    scope,
		}
	}

	tok, cookies, err := grant.NegotiateSession(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "authorization failed")
		return nil, err
	}

	entry = Entry{
		Account:      req.Email,
		AppId:        req.App.Id,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Uid:          tok.Uid,
		ExpiresAt:    tok.ExpiresAt(time.Now()),
		Cookies:      cookies,
	}
	if err := k.Set(ctx, entry); err != nil {
		return nil, err
	}
	return k.session(ctx, req, entry)
}

// Refresh renews the stored token behind the session and swaps the
// fresh one in.
func (k *Keychain) Refresh(ctx context.Context, account string, session *platform.TokenSession) error {
	ctx, span := tracer.Start(ctx, "keychain:Refresh")
	defer span.End()
	span.SetAttributes(attribute.String("account", account))

	creds := session.Credentials()
	entry, ok, err := k.Get(ctx, account, creds.AppId)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no stored credentials for account %q", account)
	}
	if entry.RefreshToken == "" {
		return fmt.Errorf("account %q has no refresh token on record", account)
	}

	renewed, err := k.renew(ctx, App{Id: creds.AppId, SecretKey: creds.SecretKey}, entry)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "token refresh failed")
		return err
	}
	session.SetAccessToken(renewed.AccessToken, renewed.Uid)
	return nil
}

// renew runs a refresh grant over the stored entry and persists the
// outcome. The cookies survive, refresh grants set none.
func (k *Keychain) renew(ctx context.Context, app App, entry Entry) (Entry, error) {
	tok, err := oauth.RefreshGrant{
		ClientId:     app.Id,
		ClientSecret: app.SecretKey,
		RefreshToken: entry.RefreshToken,
		Endpoint:     k.TokenEndpoint,
	}.Negotiate(ctx)
	if err != nil {
		return Entry{}, err
	}

	entry.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		entry.RefreshToken = tok.RefreshToken
	}
	if tok.TokenType != "" {
		entry.TokenType = tok.TokenType
	}
	if tok.Uid != "" {
		entry.Uid = tok.Uid
	}
	entry.ExpiresAt = tok.ExpiresAt(time.Now())

	if err := k.Set(ctx, entry); err != nil {
		return Entry{}, err
	}
	return entry, nil
}

func (k *Keychain) session(ctx context.Context, req LoginRequest, entry Entry) (*platform.TokenSession, error) {
	opts := req.Session
	opts.Cookies = append(entry.Cookies, opts.Cookies...)
	return platform.NewTokenSession(ctx, platform.Credentials{
		AppId:       req.App.Id,
		PrivateKey:  req.App.PrivateKey,
		SecretKey:   req.App.SecretKey,
		AccessToken: entry.AccessToken,
		Uid:         entry.Uid,
	}, opts)
}
