package commands

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"mailru-platform/lib/keychain"
	"mailru-platform/lib/oauth"
)

var authGrant *string
var authCode *string

func init() {
	authGrant = authCmd.Flags().String("grant", "implicit", "The grant to run: implicit, password, code or refresh.")
	authCode = authCmd.Flags().String("code", "", "The authorization code, for the code grant.")
	rootCmd.AddCommand(authCmd)
}

var authCmd = &cobra.Command{
	Use:   "auth [--grant <implicit|password|code|refresh>] [--code <authorization_code>]",
	Short: "Logs the configured account in and stores the token in the keychain.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := readConfig()
		ctx := cmd.Context()

		kc, err := keychain.Open(cfg.keychainPath())
		if err != nil {
			fatal("failed to open keychain", err)
		}
		defer kc.Close()

		var tok oauth.Token
		var cookies []*http.Cookie
		switch *authGrant {
		case "implicit":
			tok, cookies, err = oauth.ImplicitGrant{
				ClientId: cfg.App.Id,
				Email:    cfg.Account.Email,
				Password: cfg.Account.Password,
				Scope:    oauth.FullScope(),
			}.NegotiateSession(ctx)
		case "password":
			tok, err = oauth.PasswordGrant{
				ClientId:     cfg.App.Id,
				ClientSecret: cfg.App.SecretKey,
				Email:        cfg.Account.Email,
				Password:     cfg.Account.Password,
			}.Negotiate(ctx)
		case "code":
			tok, err = oauth.CodeGrant{
				ClientId:     cfg.App.Id,
				ClientSecret: cfg.App.SecretKey,
				Code:         *authCode,
			}.Negotiate(ctx)
		case "refresh":
			entry, ok, getErr := kc.Get(ctx, cfg.Account.Email, cfg.App.Id)
			if getErr != nil {
				fatal("failed to read keychain", getErr)
			}
			if !ok || entry.RefreshToken == "" {
				fatal("nothing to refresh", fmt.Errorf("no refresh token stored for %s", cfg.Account.Email))
			}
			tok, err = oauth.RefreshGrant{
				ClientId:     cfg.App.Id,
				ClientSecret: cfg.App.SecretKey,
				RefreshToken: entry.RefreshToken,
			}.Negotiate(ctx)
			cookies = entry.Cookies
		default:
			fatal("unknown grant", fmt.Errorf("%q is not implicit, password, code or refresh", *authGrant))
		}
		if err != nil {
			fatal("authorization failed", err)
		}

		err = kc.Set(ctx, keychain.Entry{
			Account:      cfg.Account.Email,
			AppId:        cfg.App.Id,
			AccessToken:  tok.AccessToken,
			RefreshToken: tok.RefreshToken,
			TokenType:    tok.TokenType,
			Uid:          tok.Uid,
			ExpiresAt:    tok.ExpiresAt(time.Now()),
			Cookies:      cookies,
		})
		if err != nil {
			fatal("failed to store token", err)
		}

		slog.Info("token stored",
			"account", cfg.Account.Email,
			"uid", tok.Uid,
			"expires_in", tok.ExpiresIn,
			"cookies", len(cookies))
	},
}
