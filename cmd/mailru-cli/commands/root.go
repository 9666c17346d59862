package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"mailru-platform/lib/browser"
	"mailru-platform/lib/configutil"
	"mailru-platform/lib/keychain"
	"mailru-platform/lib/platform"
	"mailru-platform/lib/restyutil"
	"mailru-platform/lib/scrapers/myworld"
)

// Config is the shape of the config.json5 next to the binary.
type Config struct {
	App struct {
		Id         string `json:"id"`
		PrivateKey string `json:"private_key"`
		SecretKey  string `json:"secret_key"`
	} `json:"app"`
	Account struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	} `json:"account"`
	// Keychain is the credential store path, a local file or a
	// libsql:// url. Defaults to keychain.db in the cwd.
	Keychain string `json:"keychain"`
	// AccessToken and Uid bypass the keychain when set.
	AccessToken string         `json:"access_token"`
	Uid         string         `json:"uid"`
	Browser     browser.Config `json:"browser"`
	// Record dumps every http exchange into the named directory.
	Record string `json:"record"`
}

func (c Config) app() keychain.App {
	return keychain.App{
		Id:         c.App.Id,
		PrivateKey: c.App.PrivateKey,
		SecretKey:  c.App.SecretKey,
	}
}

func (c Config) keychainPath() string {
	if c.Keychain == "" {
		return "keychain.db"
	}
	return c.Keychain
}

var rootCmd = &cobra.Command{
	Use:   "mailru-cli",
	Short: "mailru-cli pokes the Platform@Mail.Ru REST API from the terminal.",
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func fatal(msg string, err error) {
	slog.Error(msg, "err", err)
	os.Exit(1)
}

func readConfig() Config {
	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		fatal("failed to read config", err)
	}
	return cfg
}

// openSession signs in with whatever the config provides, a raw access
// token or the keychain backed login flow.
func openSession(ctx context.Context, cfg Config) *platform.TokenSession {
	session := login(ctx, cfg)
	if cfg.Record != "" {
		output, err := restyutil.NewDirOutput(cfg.Record)
		if err != nil {
			fatal("failed to prepare record directory", err)
		}
		restyutil.Record(session.Http, output)
	}
	return session
}

func login(ctx context.Context, cfg Config) *platform.TokenSession {
	if cfg.AccessToken != "" {
		session, err := platform.NewTokenSession(ctx, platform.Credentials{
			AppId:       cfg.App.Id,
			PrivateKey:  cfg.App.PrivateKey,
			SecretKey:   cfg.App.SecretKey,
			AccessToken: cfg.AccessToken,
			Uid:         cfg.Uid,
		}, platform.SessionOptions{})
		if err != nil {
			fatal("failed to create session", err)
		}
		return session
	}

	kc, err := keychain.Open(cfg.keychainPath())
	if err != nil {
		fatal("failed to open keychain", err)
	}
	session, err := kc.Login(ctx, keychain.LoginRequest{
		App:      cfg.app(),
		Email:    cfg.Account.Email,
		Password: cfg.Account.Password,
	})
	if err != nil {
		fatal("failed to login", err)
	}
	kc.Close()
	return session
}

func openScraper(cfg Config, session *platform.TokenSession) (*myworld.Scraper, func()) {
	chrome := browser.NewBrowser(cfg.Browser)
	pool := browser.NewPool(chrome, browser.PoolOptions{})
	scraper := myworld.NewScraper(session, myworld.PoolSource(pool), myworld.Options{})
	return scraper, func() {
		pool.Close()
		chrome.Close()
	}
}

func prettyJson(raw []byte) string {
	var buff bytes.Buffer
	if err := json.Indent(&buff, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buff.String()
}
